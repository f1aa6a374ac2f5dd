package model

import "time"

// Chat roles accepted in chat history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one prior turn of a conversation.
type ChatMessage struct {
	Role    string `json:"role" binding:"required,oneof=user assistant"`
	Content string `json:"content"`
}

// Recommendation is one ranked, explained topic suggestion.
type Recommendation struct {
	TopicID     string `json:"topic_id"`
	Title       string `json:"title"`
	Explanation string `json:"explanation"`
}

// QueryLog is one line of the query log.
type QueryLog struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"user_id"`
	Query     string    `json:"query"`
	Answer    string    `json:"answer"`
	Sources   []string  `json:"sources"`
	LatencyMS int64     `json:"latency_ms"`
}

// FeedbackLog is one line of the feedback log.
type FeedbackLog struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"user_id"`
	Query     string    `json:"query"`
	Answer    string    `json:"answer"`
	Score     int       `json:"score"`
}
