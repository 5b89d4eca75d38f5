package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dcayres/campaign-dispatch/internal/httpclient"
	"github.com/dcayres/campaign-dispatch/internal/model"
	"github.com/dcayres/campaign-dispatch/internal/retry"
)

const rcsMaxMessages = 1000

// RCS prepares bulk payloads in one of three modes (template, document,
// plain text) and always defers the actual network call: Send only arms a
// 15-second deferred dispatch, ExecuteDispatch performs it.
type RCS struct {
	client *httpclient.Client
}

func NewRCS() *RCS {
	return &RCS{client: httpclient.New(90 * time.Second)}
}

func (p *RCS) Name() string { return "RCS" }

func (p *RCS) RetryStrategy() retry.Strategy { return retry.DefaultStrategy() }

func (p *RCS) ValidateCredentials(creds model.Credentials) bool {
	return creds.BaseURL != "" && creds.Token != "" &&
		creds.BrokerCode != "" && creds.CustomerCode != ""
}

type rcsMessage struct {
	Phone        string            `json:"phone"`
	Document     string            `json:"document"`
	Message      string            `json:"message,omitempty"`
	TemplateCode string            `json:"template_code,omitempty"`
	Variables    map[string]string `json:"variables,omitempty"`
	FileURL      string            `json:"file_url,omitempty"`
	FileType     string            `json:"file_type,omitempty"`
	FileName     string            `json:"file_name,omitempty"`
	Date         string            `json:"date"`
}

type rcsPayload struct {
	BrokerCode   string       `json:"broker_code"`
	CustomerCode string       `json:"customer_code"`
	Messages     []rcsMessage `json:"messages"`
}

func (p *RCS) Send(ctx context.Context, agendamentoID string, records []model.CampaignRecord, creds model.Credentials, tpl *model.TemplateConfig) *Result {
	if !p.ValidateCredentials(creds) {
		return failure("invalid credentials: base_url, token, broker_code and customer_code are required")
	}
	if len(records) == 0 {
		return failure("no records to send")
	}

	var (
		mode     string
		endpoint string
		messages []rcsMessage
	)

	now := time.Now().UTC().Format("2006-01-02 15:04:05")

	switch {
	case tpl != nil && tpl.TemplateCode != "":
		mode = "template"
		endpoint = "/v1/rcs/bulk/message/template"
		messages = buildTemplateMessages(records, tpl, now)
	case tpl != nil && tpl.HasMedia && tpl.FileURL != "":
		mode = "document"
		endpoint = "/v1/rcs/bulk/message/document"
		messages = buildDocumentMessages(records, tpl, now)
	default:
		mode = "text"
		endpoint = "/v1/rcs/bulk/message/text"
		messages = buildTextMessages(records, now)
	}

	if len(messages) == 0 {
		return failure("no valid messages to send")
	}
	if len(messages) > rcsMaxMessages {
		messages = messages[:rcsMaxMessages]
	}

	payload := rcsPayload{
		BrokerCode:   creds.BrokerCode,
		CustomerCode: creds.CustomerCode,
		Messages:     messages,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return failure(fmt.Sprintf("failed to encode payload: %v", err))
	}

	slog.Info("RCS dispatch armed",
		slog.String("agendamento_id", agendamentoID),
		slog.String("mode", mode),
		slog.Int("messages", len(messages)),
	)

	return &Result{
		Success: true,
		Message: "RCS dispatch deferred for 15 seconds",
		Data: map[string]any{
			"type":           mode,
			"total_messages": len(messages),
		},
		Deferred: &DeferredDispatch{
			Kind:        model.TaskKindRCSDispatch,
			Delay:       15 * time.Second,
			Endpoint:    creds.BaseURL + endpoint,
			Payload:     raw,
			Credentials: creds,
		},
	}
}

// ExecuteDispatch performs the network call armed by Send. It runs under
// its own retry strategy, authenticated with a bare authorization header.
func (p *RCS) ExecuteDispatch(ctx context.Context, endpoint string, payload json.RawMessage, creds model.Credentials) *Result {
	if !p.ValidateCredentials(creds) {
		return failure("invalid credentials")
	}

	headers := map[string]string{"authorization": creds.Token}

	resp, err := retry.Do(ctx, p.RetryStrategy(), func() (*httpclient.Response, error) {
		return p.client.PostJSON(ctx, endpoint, payload, headers)
	})
	if err != nil {
		return failureFromError(err)
	}

	return &Result{
		Success: true,
		Message: "RCS messages sent",
		Data: map[string]any{
			"status": resp.StatusCode,
			"body":   resp.Body,
		},
	}
}

func buildTextMessages(records []model.CampaignRecord, date string) []rcsMessage {
	out := make([]rcsMessage, 0, len(records))
	for _, rec := range records {
		if rec.Phone == "" || rec.Message == "" {
			continue
		}
		out = append(out, rcsMessage{
			Phone:    NormalizePhone(rec.Phone),
			Document: rec.ContractID,
			Message:  rec.Message,
			Date:     date,
		})
	}
	return out
}

func buildTemplateMessages(records []model.CampaignRecord, tpl *model.TemplateConfig, date string) []rcsMessage {
	out := make([]rcsMessage, 0, len(records))
	for _, rec := range records {
		if rec.Phone == "" {
			continue
		}
		out = append(out, rcsMessage{
			Phone:        NormalizePhone(rec.Phone),
			Document:     rec.ContractID,
			TemplateCode: tpl.TemplateCode,
			Variables:    templateVariables(rec),
			Date:         date,
		})
	}
	return out
}

func buildDocumentMessages(records []model.CampaignRecord, tpl *model.TemplateConfig, date string) []rcsMessage {
	fileType := tpl.FileType
	if fileType == "" {
		fileType = "application/pdf"
	}
	fileName := tpl.FileName
	if fileName == "" {
		fileName = "documento.pdf"
	}

	out := make([]rcsMessage, 0, len(records))
	for _, rec := range records {
		if rec.Phone == "" {
			continue
		}
		out = append(out, rcsMessage{
			Phone:    NormalizePhone(rec.Phone),
			Document: rec.ContractID,
			Message:  rec.Message,
			FileURL:  tpl.FileURL,
			FileType: fileType,
			FileName: fileName,
			Date:     date,
		})
	}
	return out
}

func templateVariables(rec model.CampaignRecord) map[string]string {
	return map[string]string{
		"nome":     rec.Name,
		"telefone": rec.Phone,
		"contrato": rec.ContractID,
		"cpf_cnpj": rec.TaxID,
		"mensagem": rec.Message,
	}
}

// NormalizePhone strips non-digits and drops a leading 55 country code, but
// only when the length shows one is present (local numbers are 10 or 11
// digits).
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	if (len(digits) == 12 || len(digits) == 13) && strings.HasPrefix(digits, "55") {
		return digits[2:]
	}
	return digits
}
