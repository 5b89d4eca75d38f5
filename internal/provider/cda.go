package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dcayres/campaign-dispatch/internal/httpclient"
	"github.com/dcayres/campaign-dispatch/internal/model"
	"github.com/dcayres/campaign-dispatch/internal/retry"
)

// CDA sends one combined request per batch. Callers must guarantee that all
// records in a batch share the same environment and message body; both are
// read from the first record.
type CDA struct {
	client *httpclient.Client
}

func NewCDA() *CDA {
	return &CDA{client: httpclient.New(120 * time.Second)}
}

func (p *CDA) Name() string { return "CDA" }

func (p *CDA) RetryStrategy() retry.Strategy { return retry.DefaultStrategy() }

func (p *CDA) ValidateCredentials(creds model.Credentials) bool {
	return creds.URL != "" && creds.APIKey != ""
}

type cdaPayload struct {
	ChaveAPI      string   `json:"chave_api"`
	CodigoEquipe  string   `json:"codigo_equipe"`
	CodigoUsuario string   `json:"codigo_usuario"`
	Nome          string   `json:"nome"`
	Ativo         bool     `json:"ativo"`
	CorpoMensagem string   `json:"corpo_mensagem"`
	Mensagens     []string `json:"mensagens"`
}

func (p *CDA) Send(ctx context.Context, agendamentoID string, records []model.CampaignRecord, creds model.Credentials, _ *model.TemplateConfig) *Result {
	if !p.ValidateCredentials(creds) {
		return failure("invalid credentials: url and api_key are required")
	}
	if len(records) == 0 {
		return failure("no records to send")
	}

	env := records[0].EnvironmentID
	body := records[0].Message

	lines := make([]string, 0, len(records))
	for _, rec := range records {
		lines = append(lines, fmt.Sprintf("%s;55%s;%s;%s;%s",
			rec.EnvironmentID, rec.Phone, rec.Name, rec.TaxID, lastTwo(rec.TaxID)))
	}

	payload := cdaPayload{
		ChaveAPI:      creds.APIKey,
		CodigoEquipe:  env,
		CodigoUsuario: "1",
		Nome:          fmt.Sprintf("campanha_%s_%d", env, time.Now().UnixMilli()),
		Ativo:         true,
		CorpoMensagem: body,
		Mensagens:     lines,
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return failure(fmt.Sprintf("failed to encode payload: %v", err))
	}

	slog.Info("submitting CDA campaign",
		slog.String("agendamento_id", agendamentoID),
		slog.String("environment", env),
		slog.Int("lines", len(lines)),
		slog.String("api_key", maskSecret(creds.APIKey)),
	)

	resp, err := retry.Do(ctx, p.RetryStrategy(), func() (*httpclient.Response, error) {
		return p.client.PostJSON(ctx, creds.URL, raw, nil)
	})
	if err != nil {
		return failureFromError(err)
	}

	return &Result{
		Success: true,
		Message: "campaign submitted",
		Data: map[string]any{
			"status": resp.StatusCode,
			"body":   resp.Body,
		},
	}
}

// lastTwo returns the final two characters of a tax id, or empty when absent.
func lastTwo(taxID string) string {
	if taxID == "" {
		return ""
	}
	if len(taxID) <= 2 {
		return taxID
	}
	return taxID[len(taxID)-2:]
}

func maskSecret(s string) string {
	if len(s) <= 12 {
		return "***"
	}
	return s[:8] + "..." + s[len(s)-4:]
}
