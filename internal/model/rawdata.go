package model

import "time"

// ContentType classifies fetched content.
type ContentType string

const (
	ContentHTML ContentType = "html"
	ContentJSON ContentType = "json"
	ContentText ContentType = "text"
)

// RawData is the audit row stored for every fetched target, successful
// or not.
type RawData struct {
	ID              string      `json:"id"`
	JobID           string      `json:"job_id"`
	SourceURL       string      `json:"source_url"`
	Content         *string     `json:"content,omitempty"`
	ContentType     ContentType `json:"content_type,omitempty"`
	HTTPStatus      int         `json:"http_status"`
	DurationMs      int64       `json:"scrape_duration_ms"`
	UserAgent       string      `json:"user_agent,omitempty"`
	TOSCompliant    bool        `json:"tos_compliant"`
	RequiresReview  bool        `json:"requires_review"`
	CaptchaRequired bool        `json:"captcha_required"`
	Error           string      `json:"error,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
}
