package model

// NoSources is the single source reported for answers that were not grounded in the knowledge base.
const NoSources = "None"

// QueryResult is the answer to a query or a topic document request.
type QueryResult struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources"`
}

// TopicDocument is a cached topic resolved from a caller-supplied identifier.
type TopicDocument struct {
	TopicID string `json:"topic_id"`
	Content string `json:"content"`
}
