package models

import (
	"time"

	"github.com/google/uuid"
)

// UsageRecord is one provider attempt made while serving a generation
// request. Records are append-only; a request that fell back across
// providers leaves one record per attempt, all sharing RequestID.
type UsageRecord struct {
	ID               uuid.UUID `json:"id" db:"id"`
	RequestID        string    `json:"request_id" db:"request_id"`
	Attempt          int       `json:"attempt" db:"attempt"` // 1-based
	Provider         string    `json:"provider" db:"provider"`
	Model            string    `json:"model" db:"model"`
	PromptTokens     int       `json:"prompt_tokens" db:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens" db:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens" db:"total_tokens"`
	DurationMs       int64     `json:"duration_ms" db:"duration_ms"`
	Timestamp        time.Time `json:"timestamp" db:"timestamp"`
	Success          bool      `json:"success" db:"success"`
	ErrorKind        string    `json:"error_kind,omitempty" db:"error_kind"`
}

// TableName returns the table name for the UsageRecord model
func (UsageRecord) TableName() string {
	return "usage_records"
}

// NewUsageRecord creates a record for one attempt
func NewUsageRecord(requestID string, attempt int, provider, model string) *UsageRecord {
	return &UsageRecord{
		ID:        uuid.New(),
		RequestID: requestID,
		Attempt:   attempt,
		Provider:  provider,
		Model:     model,
		Timestamp: time.Now().UTC(),
	}
}

// WithTokens sets token counts; a zero total is derived from the parts
func (u *UsageRecord) WithTokens(prompt, completion, total int) *UsageRecord {
	if total == 0 {
		total = prompt + completion
	}
	u.PromptTokens = prompt
	u.CompletionTokens = completion
	u.TotalTokens = total
	return u
}

// WithDuration sets the attempt duration
func (u *UsageRecord) WithDuration(d time.Duration) *UsageRecord {
	u.DurationMs = d.Milliseconds()
	return u
}

// Succeeded marks the attempt successful
func (u *UsageRecord) Succeeded() *UsageRecord {
	u.Success = true
	u.ErrorKind = ""
	return u
}

// Failed marks the attempt failed with the given error kind
func (u *UsageRecord) Failed(kind string) *UsageRecord {
	u.Success = false
	u.ErrorKind = kind
	return u
}
