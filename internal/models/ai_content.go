package models

import (
	"encoding/json"
	"time"
)

// Well-known AI content types. Per-business-model content uses
// ModelContentPrefix followed by the model slug.
const (
	ContentTypeResultsPreview = "results-preview"
	ContentTypeFullReport     = "full-report"
	ModelContentPrefix        = "model_"
)

// AIContent is a cached AI response for a quiz attempt and content type.
type AIContent struct {
	QuizAttemptID int64           `json:"quizAttemptId" db:"quiz_attempt_id"`
	ContentType   string          `json:"contentType" db:"content_type"`
	Content       json.RawMessage `json:"content" db:"content"`
	ContentHash   string          `json:"contentHash" db:"content_hash"`
	GeneratedAt   time.Time       `json:"generatedAt" db:"generated_at"`
}
