package models

import (
	"fmt"
	"strings"
	"time"
)

// CommitmentStatus represents the lifecycle state of a commitment
type CommitmentStatus string

const (
	CommitmentCreated    CommitmentStatus = "created"
	CommitmentInProgress CommitmentStatus = "in_progress"
	CommitmentCompleted  CommitmentStatus = "completed"
)

// IsTerminal returns true if no further progress can be recorded
func (s CommitmentStatus) IsTerminal() bool {
	return s == CommitmentCompleted
}

// Commitment is a pledge to fill in every region of an image within Timeframe days
type Commitment struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Timeframe   int              `json:"timeframe"`
	ImageID     string           `json:"image_id"`
	Status      CommitmentStatus `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// IsCompleted returns true once every region has been filled
func (c *Commitment) IsCompleted() bool {
	return c.Status == CommitmentCompleted
}

// CreateCommitmentRequest represents a request to create a commitment
type CreateCommitmentRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Timeframe   int    `json:"timeframe"`
	ImageID     string `json:"image_id"`
}

// Validate checks required fields
func (r *CreateCommitmentRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if r.Timeframe <= 0 {
		return fmt.Errorf("timeframe must be a positive number of days")
	}
	if strings.TrimSpace(r.ImageID) == "" {
		return fmt.Errorf("image_id is required")
	}
	return nil
}

// CommitmentFilters defines filters for listing commitments
type CommitmentFilters struct {
	Status CommitmentStatus
	Limit  int
	Offset int
}
