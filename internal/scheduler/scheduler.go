// Package scheduler runs persisted one-shot tasks. Pending rows survive a
// restart; the polling loop picks up whatever is due, including tasks armed
// by a previous process.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dcayres/campaign-dispatch/internal/model"
	"github.com/dcayres/campaign-dispatch/internal/repository"
)

const claimBatchSize = 50

// staleClaimAge bounds how long a RUNNING claim is trusted. A claim older
// than this belongs to a process that died mid-run and is released back to
// PENDING.
const staleClaimAge = 5 * time.Minute

// Handler executes one task kind. Errors are recorded on the task and
// surfaced to the status tracker by the handler itself; nothing re-raises.
type Handler func(ctx context.Context, task *model.DelayedTask) error

type Scheduler struct {
	tasks        repository.DelayedTaskRepositoryInterface
	handlers     map[string]Handler
	pollInterval time.Duration
}

func New(tasks repository.DelayedTaskRepositoryInterface, pollInterval time.Duration) *Scheduler {
	return &Scheduler{
		tasks:        tasks,
		handlers:     make(map[string]Handler),
		pollInterval: pollInterval,
	}
}

func (s *Scheduler) Register(kind string, h Handler) {
	s.handlers[kind] = h
}

// Schedule persists a one-shot task firing after delay. Timing is
// best-effort: at least delay, upper bound set by the poll interval.
func (s *Scheduler) Schedule(delay time.Duration, kind string, payload json.RawMessage, agendamentoID, campaignID string) (*model.DelayedTask, error) {
	task := &model.DelayedTask{
		ID:            uuid.New().String(),
		Kind:          kind,
		FireAt:        time.Now().Add(delay),
		Payload:       payload,
		AgendamentoID: agendamentoID,
		CampaignID:    campaignID,
		Status:        model.TaskPending,
	}
	if err := s.tasks.Create(task); err != nil {
		return nil, fmt.Errorf("failed to persist delayed task: %w", err)
	}

	slog.Info("delayed task scheduled",
		slog.String("task_id", task.ID),
		slog.String("kind", kind),
		slog.String("agendamento_id", agendamentoID),
		slog.Time("fire_at", task.FireAt),
	)
	return task, nil
}

// Start runs the polling loop until ctx is canceled.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	slog.Info("delayed task scheduler started", slog.Duration("poll_interval", s.pollInterval))

	for {
		select {
		case <-ctx.Done():
			slog.Info("delayed task scheduler shutting down")
			return
		case <-ticker.C:
			s.processDue(ctx)
		}
	}
}

func (s *Scheduler) processDue(ctx context.Context) {
	released, err := s.tasks.ReleaseStale(time.Now().Add(-staleClaimAge))
	if err != nil {
		slog.Error("scheduler failed to release stale tasks", slog.Any("error", err))
	} else if released > 0 {
		slog.Warn("released stale running tasks", slog.Int("count", released))
	}

	tasks, err := s.tasks.ClaimDue(time.Now(), claimBatchSize)
	if err != nil {
		slog.Error("scheduler failed to claim due tasks", slog.Any("error", err))
		return
	}

	for _, task := range tasks {
		s.run(ctx, task)
	}
}

// run executes a claimed task exactly once. Handler failures and panics are
// recorded on the task and never escape the loop.
func (s *Scheduler) run(ctx context.Context, task *model.DelayedTask) {
	handler, ok := s.handlers[task.Kind]
	if !ok {
		slog.Error("no handler registered for task kind",
			slog.String("task_id", task.ID),
			slog.String("kind", task.Kind),
		)
		if err := s.tasks.MarkFailed(task.ID, "no handler for kind "+task.Kind); err != nil {
			slog.Error("failed to mark task failed", slog.Any("error", err))
		}
		return
	}

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler panicked: %v", r)
			}
		}()
		return handler(ctx, task)
	}()

	if err != nil {
		slog.Error("delayed task failed",
			slog.String("task_id", task.ID),
			slog.String("kind", task.Kind),
			slog.Any("error", err),
		)
		if markErr := s.tasks.MarkFailed(task.ID, err.Error()); markErr != nil {
			slog.Error("failed to mark task failed", slog.Any("error", markErr))
		}
		return
	}

	if err := s.tasks.MarkDone(task.ID); err != nil {
		slog.Error("failed to mark task done", slog.Any("error", err))
	}
}
