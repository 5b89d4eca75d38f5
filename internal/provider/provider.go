package provider

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/dcayres/campaign-dispatch/internal/model"
	"github.com/dcayres/campaign-dispatch/internal/retry"
)

// Result is the outcome of one dispatch attempt sequence. Definitional
// failures (bad credentials, empty batch) come back as Success=false with
// Error set; they are never raised as Go errors.
type Result struct {
	Success  bool              `json:"success"`
	Message  string            `json:"message,omitempty"`
	Error    string            `json:"error,omitempty"`
	Data     map[string]any    `json:"data,omitempty"`
	Deferred *DeferredDispatch `json:"deferred,omitempty"`
}

// DeferredDispatch describes a second phase the caller must schedule. The
// credentials context travels with it so the deferred call needs no fresh
// lookup.
type DeferredDispatch struct {
	Kind        string            `json:"kind"`
	Delay       time.Duration     `json:"delay"`
	Endpoint    string            `json:"endpoint"`
	Payload     json.RawMessage   `json:"payload,omitempty"`
	Credentials model.Credentials `json:"credentials"`
}

// Adapter translates a batch of campaign records into one provider's
// protocol. Send performs phase 1 only; providers with a second phase
// return it in Result.Deferred.
type Adapter interface {
	Name() string
	RetryStrategy() retry.Strategy
	ValidateCredentials(creds model.Credentials) bool
	Send(ctx context.Context, agendamentoID string, records []model.CampaignRecord, creds model.Credentials, tpl *model.TemplateConfig) *Result
}

// Registry resolves adapters by canonical provider name.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter)}
	for _, a := range adapters {
		r.adapters[strings.ToUpper(a.Name())] = a
	}
	return r
}

func (r *Registry) Get(name string) (Adapter, bool) {
	a, ok := r.adapters[strings.ToUpper(name)]
	return a, ok
}

func failure(msg string) *Result {
	return &Result{Success: false, Error: msg}
}

// failureFromError converts an exhausted-retry error into a failure Result,
// tagged with its classification for the status tracker.
func failureFromError(err error) *Result {
	return &Result{
		Success: false,
		Error:   err.Error(),
		Data:    map[string]any{"error_kind": string(retry.Classify(err))},
	}
}
