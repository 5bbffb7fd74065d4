package models

import "time"

// DateLayout is the wire and storage format of a calendar day
const DateLayout = "2006-01-02"

// DateOf returns the UTC calendar day of t
func DateOf(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// ProgressEntry records that one region of a commitment was filled on one day.
// Entries are append-only.
type ProgressEntry struct {
	ID           string    `json:"id"`
	CommitmentID string    `json:"commitment_id"`
	ImageID      string    `json:"image_id"`
	Day          int       `json:"day"`
	RegionID     int       `json:"region_id"`
	Color        string    `json:"color"`
	CompletedOn  string    `json:"completed_on"`
	CreatedAt    time.Time `json:"created_at"`
}

// AppendBatch is one allocation event: every entry shares Day and CompletedOn
type AppendBatch struct {
	CommitmentID string
	Day          int
	CompletedOn  string
	TotalRegions int
	Entries      []*ProgressEntry
}

// ProgressSummary describes where a commitment stands
type ProgressSummary struct {
	CommitmentID string           `json:"commitment_id"`
	Status       CommitmentStatus `json:"status"`
	Completed    int              `json:"completed"`
	Total        int              `json:"total"`
	LastDay      int              `json:"last_day"`
	NextDay      int              `json:"next_day"`
	Today        string           `json:"today"`
	Schedule     []int            `json:"schedule"`
}
