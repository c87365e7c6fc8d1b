package models

import "github.com/google/uuid"

// JobSource identifies one side of a match job.
type JobSource struct {
	Alias string `json:"alias"`
	URI   string `json:"uri"`
}

// MatchJob is the one-shot job description dispatched to the batch
// matching worker.
type MatchJob struct {
	RunID       uuid.UUID         `json:"run_id"`
	CallbackURL string            `json:"callback_url"`
	MatchSQL    string            `json:"match_sql"`
	Sources     []JobSource       `json:"sources"`
	OutputPath  string            `json:"output_path"`
	PrimaryKeys map[string]string `json:"primary_keys,omitempty"`
}

// WorkerProgress is posted back by the worker while a run executes.
type WorkerProgress struct {
	RunID        uuid.UUID `json:"run_id"`
	Stage        string    `json:"stage"`
	Progress     float64   `json:"progress"`
	MatchedCount int       `json:"matched_count"`
	TotalLeft    int       `json:"total_left"`
	TotalRight   int       `json:"total_right"`
}

// WorkerCompletion is posted back by the worker when a run finishes.
type WorkerCompletion struct {
	RunID               uuid.UUID `json:"run_id"`
	MatchedCount        int       `json:"matched_count"`
	UnmatchedLeftCount  int       `json:"unmatched_left_count"`
	UnmatchedRightCount int       `json:"unmatched_right_count"`
	OutputPaths         []string  `json:"output_paths"`
}

// WorkerError is posted back by the worker when a run fails.
type WorkerError struct {
	RunID uuid.UUID `json:"run_id"`
	Error string    `json:"error"`
}
