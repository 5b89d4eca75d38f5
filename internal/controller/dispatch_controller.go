package controller

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	appErrors "github.com/dcayres/campaign-dispatch/internal/errors"
	"github.com/dcayres/campaign-dispatch/internal/service"
)

type DispatchController struct {
	Service *service.DispatchService
	APIKey  string
}

// RequireAPIKey gates the trigger routes on the shared master key.
func (c *DispatchController) RequireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c.APIKey == "" {
			http.Error(w, "master API key not configured", http.StatusServiceUnavailable)
			return
		}
		if r.Header.Get("X-API-KEY") != c.APIKey {
			http.Error(w, "invalid API key", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Dispatch acknowledges the trigger as soon as the job is queued; delivery
// progress is observable only through the status route.
func (c *DispatchController) Dispatch(w http.ResponseWriter, r *http.Request) {
	agendamentoID := chi.URLParam(r, "agendamentoId")
	if agendamentoID == "" {
		http.Error(w, "missing agendamento id", http.StatusBadRequest)
		return
	}

	ack, err := c.Service.EnqueueDispatch(r.Context(), agendamentoID)
	if err != nil {
		var unknown *appErrors.ErrUnknownProvider
		if errors.As(err, &unknown) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(ack)
}

func (c *DispatchController) Status(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignId")
	if campaignID == "" {
		http.Error(w, "missing campaign id", http.StatusBadRequest)
		return
	}

	dto, err := c.Service.GetStatus(r.Context(), campaignID)
	if err != nil {
		var notFound *appErrors.ErrCampaignNotFound
		if errors.As(err, &notFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(dto)
}

func (c *DispatchController) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
