package graph

// Topic is the closed set of question categories.
type Topic string

const (
	TopicNews           Topic = "news"
	TopicStocks         Topic = "stocks"
	TopicRecommendation Topic = "recommendation"
	TopicEconomy        Topic = "economy"
	TopicOffTopic       Topic = "off_topic"
)

// AnswerTopics are the topics a generation strategy must exist for.
var AnswerTopics = []Topic{TopicNews, TopicStocks, TopicRecommendation, TopicEconomy}

// ParseTopic accepts one of the four answer topics.
func ParseTopic(s string) (Topic, bool) {
	switch Topic(s) {
	case TopicNews, TopicStocks, TopicRecommendation, TopicEconomy:
		return Topic(s), true
	}
	return "", false
}

// Question is immutable; a rewrite produces a new value.
type Question struct {
	Text     string `json:"text"`
	Revision int    `json:"revision"`
}

// Document is a retrieved chunk. SimilarityScore is in [0,1].
type Document struct {
	Content         string  `json:"content"`
	SourceTag       string  `json:"source_tag"`
	Link            string  `json:"link,omitempty"`
	SimilarityScore float64 `json:"similarity_score"`
}

type GenerationResult struct {
	Text          string `json:"text"`
	Topic         Topic  `json:"topic"`
	LowConfidence bool   `json:"low_confidence"`
}

type Relevance int

const (
	InDomain Relevance = iota
	OffTopic
)

type GradeDecision int

const (
	Pass GradeDecision = iota
	Fail
)

func (d GradeDecision) String() string {
	if d == Pass {
		return "pass"
	}
	return "fail"
}

// StateName enumerates the workflow states.
type StateName string

const (
	StateStart     StateName = "start"
	StateGateCheck StateName = "gate_check"
	StateOffTopic  StateName = "off_topic"
	StateClassify  StateName = "classify"
	StateRetrieve  StateName = "retrieve"
	StateGenerate  StateName = "generate"
	StateGrade     StateName = "grade"
	StateRewrite   StateName = "rewrite"
	StateResolved  StateName = "resolved"
	StateExhausted StateName = "exhausted"
	StateFailed    StateName = "failed"
)

// Terminal reports whether no transition leaves s.
func (s StateName) Terminal() bool {
	switch s {
	case StateOffTopic, StateResolved, StateExhausted, StateFailed:
		return true
	}
	return false
}

// State is the per-request workflow data. It is owned by one goroutine.
type State struct {
	OriginalQuestion Question
	CurrentQuestion  Question
	Topic            Topic
	Documents        []Document
	Generation       *GenerationResult
	AttemptCount     int
}

// Snapshot is a copy of State safe to hand to other goroutines.
type Snapshot struct {
	OriginalQuestion Question          `json:"original_question"`
	CurrentQuestion  Question          `json:"current_question"`
	Topic            Topic             `json:"topic,omitempty"`
	Documents        []Document        `json:"documents,omitempty"`
	Generation       *GenerationResult `json:"generation,omitempty"`
	AttemptCount     int               `json:"attempt_count"`
}

func (s *State) Snapshot() Snapshot {
	snap := Snapshot{
		OriginalQuestion: s.OriginalQuestion,
		CurrentQuestion:  s.CurrentQuestion,
		Topic:            s.Topic,
		AttemptCount:     s.AttemptCount,
	}
	if s.Documents != nil {
		snap.Documents = append([]Document(nil), s.Documents...)
	}
	if s.Generation != nil {
		g := *s.Generation
		snap.Generation = &g
	}
	return snap
}
