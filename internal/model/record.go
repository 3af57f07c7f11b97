package model

import (
	"math"
	"time"
)

// AssembledRecord is a candidate output row before deduplication.
type AssembledRecord struct {
	JobID        string  `json:"job_id"`
	SourceURL    string  `json:"source_url"`
	BusinessName *string `json:"business_name,omitempty"`
	Email        *string `json:"email,omitempty"`
	Phone        *string `json:"phone,omitempty"`
	Address      *string `json:"address,omitempty"`
	Website      *string `json:"website,omitempty"`
	Confidence   float64 `json:"confidence"`
}

// IsEmpty reports whether none of the five business fields is set.
func (r AssembledRecord) IsEmpty() bool {
	return r.BusinessName == nil && r.Email == nil && r.Phone == nil &&
		r.Address == nil && r.Website == nil
}

// IdentityKey returns the (email, phone) pair used for duplicate
// detection. ok is false when either side is missing; such records never
// match another record.
func (r AssembledRecord) IdentityKey() (email, phone string, ok bool) {
	if r.Email == nil || r.Phone == nil {
		return "", "", false
	}
	return *r.Email, *r.Phone, true
}

// Record is a persisted output row.
type Record struct {
	ID           string    `json:"id"`
	JobID        string    `json:"job_id"`
	BusinessName *string   `json:"business_name,omitempty"`
	Email        *string   `json:"email,omitempty"`
	Phone        *string   `json:"phone,omitempty"`
	Address      *string   `json:"address,omitempty"`
	Website      *string   `json:"website,omitempty"`
	SourceURL    string    `json:"source_url"`
	Confidence   float64   `json:"confidence"`
	EmailValid   bool      `json:"email_valid"`
	PhoneValid   bool      `json:"phone_valid"`
	IsDuplicate  bool      `json:"is_duplicate"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewRecord converts an assembled record into a storable row. Confidence
// is rounded to two decimals to match the stored precision.
func NewRecord(a AssembledRecord, duplicate bool) *Record {
	return &Record{
		JobID:        a.JobID,
		BusinessName: a.BusinessName,
		Email:        a.Email,
		Phone:        a.Phone,
		Address:      a.Address,
		Website:      a.Website,
		SourceURL:    a.SourceURL,
		Confidence:   RoundConfidence(a.Confidence),
		IsDuplicate:  duplicate,
	}
}

// RoundConfidence clamps c to [0,1] and rounds it to two decimals.
func RoundConfidence(c float64) float64 {
	return math.Round(ClampConfidence(c)*100) / 100
}

// StringPtr returns nil for the empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// RecordFilter narrows ListRecords results.
type RecordFilter struct {
	IncludeDuplicates bool
	Limit             int
	Offset            int
}
