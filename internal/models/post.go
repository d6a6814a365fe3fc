package models

import "time"

// Post is a remote board row normalized to logical roles. It only exists
// for the duration of one scan pass and is never persisted.
type Post struct {
	ID      string     `json:"id"`
	Subject string     `json:"subject"`
	Content string     `json:"content"`
	Date    *time.Time `json:"date,omitempty"`
	Phone   string     `json:"phone,omitempty"`
}

// Judgment is the scored spam decision for one post.
type Judgment struct {
	IsSpam  bool     `json:"is_spam"`
	Score   float64  `json:"score"`
	Reasons []string `json:"reasons"`
}

// BoardInfo is one candidate board table reported by the bridge's
// discovery action.
type BoardInfo struct {
	Table        string `json:"table"`
	Count        int64  `json:"count"`
	LastActivity string `json:"last_activity,omitempty"`
}
