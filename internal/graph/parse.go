package graph

import (
	"encoding/json"
	"regexp"
	"strings"
)

var wordPattern = regexp.MustCompile(`[a-z_]+`)

// labelWords extracts lower-case words from a model reply. When the reply is
// a JSON object, only the value under key is considered.
func labelWords(reply, key string) []string {
	text := strings.TrimSpace(reply)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "{") {
		var obj map[string]any
		if err := json.Unmarshal([]byte(text), &obj); err == nil {
			if v, ok := obj[key].(string); ok {
				text = v
			}
		}
	}

	text = strings.ToLower(text)
	text = strings.NewReplacer("off-topic", "off_topic", "off topic", "off_topic").Replace(text)
	return wordPattern.FindAllString(text, -1)
}

func parseRelevance(reply string) (Relevance, bool) {
	for _, w := range labelWords(reply, "datasource") {
		switch w {
		case "off_topic", "offtopic":
			return OffTopic, true
		case "rag":
			return InDomain, true
		}
	}
	return 0, false
}

func parseTopic(reply string) (Topic, bool) {
	for _, w := range labelWords(reply, "topic") {
		switch w {
		case "news":
			return TopicNews, true
		case "stocks", "stock":
			return TopicStocks, true
		case "recommendation", "recommendations":
			return TopicRecommendation, true
		case "economy", "economic":
			return TopicEconomy, true
		}
	}
	return "", false
}

func parseYesNo(reply string) (bool, bool) {
	for _, w := range labelWords(reply, "binary_score") {
		switch w {
		case "yes":
			return true, true
		case "no":
			return false, true
		}
	}
	return false, false
}
