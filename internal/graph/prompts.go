package graph

import (
	"fmt"
	"strings"
)

const gatePrompt = `You route user questions for an assistant that covers the Tunisian stock market (BVMT).
Its knowledge base holds price and volume data for Tunisian listed companies and recent news about
the Tunisian economy and stock market.

Answer "rag" if the question can be answered from that knowledge base, or "off_topic" otherwise.
Reply with a JSON object of the form {"datasource": "rag"} or {"datasource": "off_topic"} and nothing else.

Question: %s`

const classifyPrompt = `Classify the question into exactly one topic:
- news: recent events, announcements or headlines about Tunisian companies or the market
- stocks: prices, volumes, performance or metrics of specific Tunisian stocks
- recommendation: whether to buy, sell or hold, portfolio advice, outlook for an investment
- economy: macroeconomic data such as inflation, interest rates, the dinar, GDP or trade

Reply with a JSON object of the form {"topic": "<name>"} and nothing else.

Question: %s`

const gradePrompt = `You check whether an answer resolves the question it was written for.
Reply "yes" if the answer addresses and resolves the question, "no" if it does not or is off the point.
Reply with a JSON object of the form {"binary_score": "yes"} or {"binary_score": "no"} and nothing else.

Question: %s

Answer: %s`

const rewritePrompt = `Rewrite the question so it retrieves better results from a vector search over
Tunisian stock market data and economic news. Keep the intent, name companies and tickers explicitly,
and expand abbreviations. Output only the rewritten question.

Question: %s`

const documentGradePrompt = `You judge whether a retrieved document is relevant to a user question.
The test is lenient: reply "yes" if the document shares keywords or meaning with the question, "no" otherwise.
Reply with a JSON object of the form {"binary_score": "yes"} or {"binary_score": "no"} and nothing else.

Document:
%s

Question: %s`

// Persona instructions, one per answer topic.
const (
	newsPersona = `You are a financial assistant who summarises stock market news about the Tunisian economy.
Read the news in the context, pick out market movements, economic indicators, policy changes and company
results, and explain what they mean for investors. Write a short structured summary in markdown with small
headings. Quote figures and dates exactly as they appear in the context and never invent them. Do not repeat
the question.`

	stocksPersona = `You are a financial assistant who analyses Tunisian stock data.
From the context, extract price moves, volumes, trends and any other metrics, then write one or two short
paragraphs of insight followed by a markdown table with columns such as Ticker, Last Price, Change (%),
Volume and any other metric present. Use values exactly as they appear in the context; leave a cell empty
rather than guessing.`

	recommendationPersona = `You are a financial assistant who gives investment guidance on Tunisian stocks.
Reason from the historic data and recent news in the context about trend direction and risk. Structure the
answer as: Recommended stocks, Data behind the view, Relevant news, Risks. Explain the reasoning plainly,
use only values present in the context and state clearly that this is not personal financial advice.`

	economyPersona = `You are an economist explaining Tunisian macroeconomic conditions to investors.
Use the context to explain indicators such as inflation, interest rates, the dinar exchange rate, growth and
trade, and how they affect the Tunisian stock market. Be concise, use markdown headings, and quote figures
exactly as given in the context.`
)

// InsufficientInformationMessage is returned instead of calling the
// completion service when retrieval found nothing.
const InsufficientInformationMessage = "I don't have enough information in the market data I have indexed to answer this question. Try rephrasing it or asking about a specific Tunisian company or index."

// DefaultPersonas maps each answer topic to its persona instructions.
func DefaultPersonas() map[Topic]string {
	return map[Topic]string{
		TopicNews:           newsPersona,
		TopicStocks:         stocksPersona,
		TopicRecommendation: recommendationPersona,
		TopicEconomy:        economyPersona,
	}
}

func answerPrompt(persona string, q Question, docs []Document) string {
	var sb strings.Builder
	sb.WriteString(persona)
	sb.WriteString("\n\nContext:\n")
	sb.WriteString(formatDocuments(docs))
	fmt.Fprintf(&sb, "\nUser question: %s\n", q.Text)
	return sb.String()
}

func formatDocuments(docs []Document) string {
	var sb strings.Builder
	for i, d := range docs {
		fmt.Fprintf(&sb, "Document %d [%s, score %.2f]", i+1, d.SourceTag, d.SimilarityScore)
		if d.Link != "" {
			fmt.Fprintf(&sb, " %s", d.Link)
		}
		fmt.Fprintf(&sb, ":\n%s\n\n", d.Content)
	}
	return sb.String()
}
