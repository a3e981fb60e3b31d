package services

import (
	"context"
	"fmt"

	"showtix/machines"
	"showtix/queue"
)

// dispatchCommands turns machine side effects into queue jobs. Dispatch
// happens after the state write: a crash in between redelivers the
// triggering job, and the machines tolerate the replay.
func dispatchCommands(ctx context.Context, q queue.Enqueuer, maxAttempts int, commands []machines.Command) error {
	for _, command := range commands {
		job := &queue.Job{
			Queue:       command.Queue,
			Type:        command.Type,
			Payload:     command.Payload,
			MaxAttempts: maxAttempts,
		}
		if err := q.Enqueue(ctx, job, command.Delay); err != nil {
			return fmt.Errorf("dispatch %s to %s: %w", command.Type, command.Queue, err)
		}
	}
	return nil
}
