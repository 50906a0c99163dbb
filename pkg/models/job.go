package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusRunning = "running"
	JobStatusDone    = "done"
	JobStatusError   = "error"
)

// Job tracks one submitted video analysis and its outcome. The API returns a
// job_id on POST /api/v1/videos/analyze; the client polls
// GET /api/v1/videos/{job_id} until status is done or error.
//
// Status transitions exactly once, from running to done or error. The count
// is set only on the transition to done; it stays nil on every other path.
type Job struct {
	ID               uuid.UUID `db:"id"                json:"id"`
	Owner            string    `db:"owner"             json:"owner"`
	Filename         string    `db:"filename"          json:"filename"`
	Status           string    `db:"status"            json:"status"`
	Count            *int64    `db:"count"             json:"count"`
	InputLocation    string    `db:"input_location"    json:"input_location"`
	OutputLocation   string    `db:"output_location"   json:"output_location"`
	MetadataLocation string    `db:"metadata_location" json:"metadata_location"`
	CreatedAt        time.Time `db:"created_at"        json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"        json:"updated_at"`
}

// Terminal reports whether the job has reached a final state.
func (j *Job) Terminal() bool {
	return j.Status == JobStatusDone || j.Status == JobStatusError
}
