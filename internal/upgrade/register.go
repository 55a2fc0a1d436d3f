// Copyright (c) 2026 Keymaster Team
// Ghostshift - project key migration engine
// This source code is licensed under the MIT license found in the LICENSE file.

package upgrade

import (
	"context"
	"fmt"

	"github.com/toeirei/ghostshift/internal/logging"
	"github.com/toeirei/ghostshift/internal/queue"
)

// JobOptions are the queue options of a migration job: one attempt, removed
// on success, the last five failures retained.
var JobOptions = queue.Options{Attempts: 1, RemoveOnComplete: true, KeepFailed: 5}

// Register starts the migration worker on r.
func Register(r *queue.Runner, e *Engine) {
	r.Start(QueueName, func(ctx context.Context, job *queue.Job) error {
		var p Payload
		if err := job.Decode(&p); err != nil {
			return fmt.Errorf("decode %s payload: %w", job.Name, err)
		}
		return e.Run(ctx, p)
	})
	r.OnFailed(QueueName, func(job *queue.Job, err error) {
		var p Payload
		// The payload carries sealed key material; only identifiers are logged.
		_ = job.Decode(&p)
		logging.With("job", job.ID, "project", p.ProjectID, "actor", p.StartedByUserID).
			Error("upgrade job failed", "err", err)
	})
}
