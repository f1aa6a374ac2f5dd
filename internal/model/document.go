// Package model defines the typed records shared by the sage stores and engine.
package model

// Document is one source file of the knowledge base.
type Document struct {
	SourcePath string `json:"source_path"`
	TopicID    string `json:"topic_id"`
	Content    string `json:"content"`
}

// Chunk is an immutable text span. Parent chunks are the unit of retrieval,
// child chunks the unit of matching; a child always points at its exact parent.
type Chunk struct {
	Key        string `json:"key"`
	ParentKey  string `json:"parent_key,omitempty"` // empty for parent chunks
	Content    string `json:"content"`
	SourcePath string `json:"source_path"`
	TopicID    string `json:"topic_id"`
	Seq        int    `json:"seq"`    // position among siblings
	Offset     int    `json:"offset"` // rune offset in the text it was cut from
}

// IsParent reports whether c is a parent chunk.
func (c Chunk) IsParent() bool {
	return c.ParentKey == ""
}

// CacheEntry is a topic's full content and embedding.
type CacheEntry struct {
	TopicID   string    `json:"topic_id"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"embedding"`
}

// Hit is one vector index match resolved to its owning parent.
type Hit struct {
	ParentKey string  `json:"parent_key"`
	Score     float64 `json:"score"`
}
