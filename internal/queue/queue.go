package queue

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Topic carrying dispatch jobs from the trigger endpoint to the worker.
const TopicDispatch = "campaign_dispatch"

// DispatchJob is the unit of work exchanged over the queue.
type DispatchJob struct {
	AgendamentoID string `json:"agendamento_id"`
}

// Publisher is the producer side of the job queue.
type Publisher interface {
	Publish(topic string, job DispatchJob) error
}

// Queue adds in-process consumption; used when no broker is configured.
type Queue interface {
	Publisher
	Subscribe(topic string, handler func(job DispatchJob) error) error
}

// InMemoryQueue dispatches jobs to in-process subscribers with a small
// requeue-style retry, mirroring the broker setup without one running.
type InMemoryQueue struct {
	mu       sync.Mutex
	handlers map[string][]func(job DispatchJob) error
}

func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		handlers: make(map[string][]func(job DispatchJob) error),
	}
}

func (q *InMemoryQueue) Publish(topic string, job DispatchJob) error {
	q.mu.Lock()
	handlers := q.handlers[topic]
	q.mu.Unlock()

	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}

	for _, handler := range handlers {
		go q.processJob(handler, job)
	}
	return nil
}

func (q *InMemoryQueue) processJob(handler func(job DispatchJob) error, job DispatchJob) {
	const maxRetries = 3

	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := handler(job)
		if err == nil {
			return
		}

		slog.Warn("queue job failed",
			slog.String("agendamento_id", job.AgendamentoID),
			slog.Int("attempt", attempt+1),
			slog.Any("error", err),
		)

		if attempt == maxRetries {
			slog.Error("queue job permanently failed",
				slog.String("agendamento_id", job.AgendamentoID),
				slog.Int("attempts", maxRetries+1),
			)
			return
		}

		time.Sleep(time.Duration(attempt+1) * 500 * time.Millisecond)
	}
}

func (q *InMemoryQueue) Subscribe(topic string, handler func(job DispatchJob) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

var _ Queue = (*InMemoryQueue)(nil)
