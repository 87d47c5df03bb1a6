package graph

import (
	"strings"
	"unicode"
)

const (
	// OffTopicMessage is the fixed reply for questions outside the domain.
	OffTopicMessage = "I'm sorry, I only answer questions related to the Tunisian stock market and related news."
	// ServiceUnavailableMessage is returned when a required service failed.
	ServiceUnavailableMessage = "The market assistant is temporarily unavailable. Please try again in a few minutes."
)

var greetings = []string{
	"good morning", "good afternoon", "good evening",
	"hello", "hi", "hey", "greetings", "howdy",
	"salam", "salut", "bonjour", "bonsoir", "aslema",
}

// IsGreeting reports whether the question is a short greeting such as
// "Hello!" or "good morning there".
func IsGreeting(text string) bool {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	if len(words) == 0 || len(words) > 4 {
		return false
	}
	joined := strings.Join(words, " ")
	for _, g := range greetings {
		if joined == g || strings.HasPrefix(joined, g+" ") {
			return true
		}
	}
	return false
}

// OffTopicReply is the generation for an off-topic question.
func OffTopicReply(question string) string {
	if !IsGreeting(question) {
		return OffTopicMessage
	}
	words := strings.FieldsFunc(strings.ToLower(question), func(r rune) bool { return !unicode.IsLetter(r) })
	opener := "Hello"
	if len(words) >= 2 && words[0] == "good" {
		opener = "Good " + words[1]
	}
	return opener + "! How can I help you with the Tunisian stock market today?"
}
