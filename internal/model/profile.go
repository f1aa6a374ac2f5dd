package model

import (
	"slices"
	"time"
)

// QueryRecord is one entry of a user's query history.
type QueryRecord struct {
	Query     string    `json:"query"`
	Timestamp time.Time `json:"timestamp"`
}

// Profile is the per-user interest state.
type Profile struct {
	QueryHistory      []QueryRecord `json:"query_history"`
	InferredInterests []string      `json:"inferred_interests"`
	ProfileVector     []float32     `json:"profile_vector"`
}

// RecordQuery appends a query to the history.
func (p *Profile) RecordQuery(query string, at time.Time) {
	p.QueryHistory = append(p.QueryHistory, QueryRecord{Query: query, Timestamp: at})
}

// AddInterests merges topics into InferredInterests, keeping first-seen order without duplicates.
func (p *Profile) AddInterests(topics []string) {
	for _, t := range topics {
		if !p.HasConsulted(t) {
			p.InferredInterests = append(p.InferredInterests, t)
		}
	}
}

// HasConsulted reports whether the topic is already among the user's interests.
func (p *Profile) HasConsulted(topicID string) bool {
	return slices.Contains(p.InferredInterests, topicID)
}

// HasVector reports whether the profile has received at least one successful query.
func (p *Profile) HasVector() bool {
	return len(p.ProfileVector) > 0
}

// Clone returns a deep copy so callers can mutate without touching stored state.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return &Profile{}
	}
	return &Profile{
		QueryHistory:      slices.Clone(p.QueryHistory),
		InferredInterests: slices.Clone(p.InferredInterests),
		ProfileVector:     slices.Clone(p.ProfileVector),
	}
}

// ProfileRecord 用户画像的关系型存储行，Data 为 Profile 的 JSON 编码
type ProfileRecord struct {
	UserID    string `gorm:"primaryKey;size:128;comment:用户ID"`
	Data      string `gorm:"type:text;not null;comment:画像JSON"`
	UpdatedAt int64  `gorm:"autoUpdateTime:milli;comment:更新时间(时间戳)"`
}

// TableName returns the table name for GORM.
func (ProfileRecord) TableName() string {
	return "user_profiles"
}
