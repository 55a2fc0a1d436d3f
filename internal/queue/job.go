// Copyright (c) 2026 Keymaster Team
// Ghostshift - project key migration engine
// This source code is licensed under the MIT license found in the LICENSE file.

package queue

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/uptrace/bun"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Options control retries and retention of a job.
type Options struct {
	// Attempts is the total number of runs allowed; values below 1 mean 1.
	Attempts int
	// RemoveOnComplete deletes the job once its handler succeeds.
	RemoveOnComplete bool
	// KeepFailed bounds how many failed jobs of the queue are retained,
	// newest first. Zero keeps all of them.
	KeepFailed int
}

// Job is one unit of work.
type Job struct {
	ID           string
	Queue        string
	Name         string
	Data         json.RawMessage
	Status       Status
	Attempts     int
	AttemptsMade int
	Options      Options
	Error        string
	CreatedAt    time.Time
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Decode unmarshals the job payload into v.
func (j *Job) Decode(v any) error {
	return json.Unmarshal(j.Data, v)
}

// JobModel maps the queue_jobs table.
type JobModel struct {
	bun.BaseModel    `bun:"table:queue_jobs"`
	ID               string         `bun:"id,pk"`
	Queue            string         `bun:"queue"`
	Name             string         `bun:"name"`
	Data             string         `bun:"data"`
	Status           string         `bun:"status"`
	Attempts         int            `bun:"attempts"`
	AttemptsMade     int            `bun:"attempts_made"`
	RemoveOnComplete bool           `bun:"remove_on_complete"`
	KeepFailed       int            `bun:"keep_failed"`
	LastError        sql.NullString `bun:"last_error"`
	CreatedAt        time.Time      `bun:"created_at"`
	StartedAt        sql.NullTime   `bun:"started_at"`
	FinishedAt       sql.NullTime   `bun:"finished_at"`
}

func jobModelToJob(m JobModel) Job {
	return Job{
		ID:           m.ID,
		Queue:        m.Queue,
		Name:         m.Name,
		Data:         json.RawMessage(m.Data),
		Status:       Status(m.Status),
		Attempts:     m.Attempts,
		AttemptsMade: m.AttemptsMade,
		Options: Options{
			Attempts:         m.Attempts,
			RemoveOnComplete: m.RemoveOnComplete,
			KeepFailed:       m.KeepFailed,
		},
		Error:      m.LastError.String,
		CreatedAt:  m.CreatedAt,
		StartedAt:  m.StartedAt.Time,
		FinishedAt: m.FinishedAt.Time,
	}
}
