package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/dcayres/campaign-dispatch/internal/httpclient"
	"github.com/dcayres/campaign-dispatch/internal/model"
	"github.com/dcayres/campaign-dispatch/internal/retry"
)

// Tax id inserted when a record carries none; the upstream Contact object
// requires the field.
const sfPlaceholderTaxID = "12312312312"

// Salesforce is two-phase: phase 1 bulk-inserts Contact records under a
// password-grant token, phase 2 (20 minutes later) triggers a Marketing
// Cloud automation under a separate client-credentials app.
type Salesforce struct {
	client *httpclient.Client
}

func NewSalesforce() *Salesforce {
	return &Salesforce{client: httpclient.New(30 * time.Second)}
}

func (p *Salesforce) Name() string { return "SALESFORCE" }

func (p *Salesforce) RetryStrategy() retry.Strategy { return retry.DefaultStrategy() }

func (p *Salesforce) ValidateCredentials(creds model.Credentials) bool {
	return creds.SFClientID != "" && creds.SFClientSecret != "" &&
		creds.SFUsername != "" && creds.SFPassword != "" &&
		creds.SFTokenURL != "" && creds.SFAPIURL != "" &&
		creds.Operacao != "" && creds.AutomationID != "" &&
		creds.MKCClientID != "" && creds.MKCClientSecret != "" &&
		creds.MKCTokenURL != "" && creds.MKCAPIURL != ""
}

type sfContact struct {
	Attributes  map[string]string `json:"attributes"`
	MobilePhone string            `json:"MobilePhone"`
	LastName    string            `json:"LastName"`
	CPFCNPJ     string            `json:"CPF_CNPJ__c"`
	Operacao    string            `json:"Operacao__c"`
	Disparo     bool              `json:"disparo__c"`
}

type sfBulkPayload struct {
	AllOrNone bool        `json:"allOrNone"`
	Records   []sfContact `json:"records"`
}

type oauthToken struct {
	AccessToken string `json:"access_token"`
}

func (p *Salesforce) Send(ctx context.Context, agendamentoID string, records []model.CampaignRecord, creds model.Credentials, _ *model.TemplateConfig) *Result {
	if !p.ValidateCredentials(creds) {
		return failure("invalid credentials: salesforce oauth and marketing cloud settings are required")
	}
	if len(records) == 0 {
		return failure("no records to send")
	}

	contacts := make([]sfContact, 0, len(records))
	for _, rec := range records {
		if rec.Name == "" || rec.Phone == "" {
			continue
		}
		taxID := rec.TaxID
		if taxID == "" {
			taxID = sfPlaceholderTaxID
		}
		contacts = append(contacts, sfContact{
			Attributes:  map[string]string{"type": "Contact"},
			MobilePhone: rec.Phone,
			LastName:    rec.Name,
			CPFCNPJ:     taxID,
			Operacao:    creds.Operacao,
			Disparo:     true,
		})
	}
	if len(contacts) == 0 {
		return failure("no valid contacts to send")
	}

	token, err := p.passwordGrantToken(ctx, creds)
	if err != nil {
		return failureFromError(err)
	}

	raw, err := json.Marshal(sfBulkPayload{AllOrNone: false, Records: contacts})
	if err != nil {
		return failure(fmt.Sprintf("failed to encode payload: %v", err))
	}

	headers := map[string]string{
		"Authorization": "Bearer " + token,
	}

	slog.Info("bulk inserting Salesforce contacts",
		slog.String("agendamento_id", agendamentoID),
		slog.Int("contacts", len(contacts)),
	)

	resp, err := retry.Do(ctx, p.RetryStrategy(), func() (*httpclient.Response, error) {
		return p.client.PostJSON(ctx, creds.SFAPIURL, raw, headers)
	})
	if err != nil {
		return failureFromError(err)
	}

	return &Result{
		Success: true,
		Message: "contacts submitted, automation run scheduled for 20 minutes",
		Data: map[string]any{
			"status": resp.StatusCode,
			"body":   resp.Body,
		},
		Deferred: &DeferredDispatch{
			Kind:        model.TaskKindSalesforceAutomation,
			Delay:       20 * time.Minute,
			Endpoint:    fmt.Sprintf("%s/%s/actions/runallonce", creds.MKCAPIURL, creds.AutomationID),
			Credentials: creds,
		},
	}
}

// RunAutomation is phase 2: obtains a client-credentials token against the
// Marketing Cloud app and fires the automation once.
func (p *Salesforce) RunAutomation(ctx context.Context, endpoint string, creds model.Credentials) *Result {
	tokenBody, err := json.Marshal(map[string]string{
		"grant_type":    "client_credentials",
		"client_id":     creds.MKCClientID,
		"client_secret": creds.MKCClientSecret,
	})
	if err != nil {
		return failure(fmt.Sprintf("failed to encode token request: %v", err))
	}

	tokenResp, err := retry.Do(ctx, p.RetryStrategy(), func() (*httpclient.Response, error) {
		return p.client.PostJSON(ctx, creds.MKCTokenURL, tokenBody, nil)
	})
	if err != nil {
		return failureFromError(err)
	}

	var token oauthToken
	if err := json.Unmarshal([]byte(tokenResp.Body), &token); err != nil || token.AccessToken == "" {
		return failure("failed to obtain marketing cloud access token")
	}

	headers := map[string]string{
		"Authorization": "Bearer " + token.AccessToken,
	}

	resp, err := retry.Do(ctx, p.RetryStrategy(), func() (*httpclient.Response, error) {
		return p.client.PostJSON(ctx, endpoint, nil, headers)
	})
	if err != nil {
		return failureFromError(err)
	}

	return &Result{
		Success: true,
		Message: "automation triggered",
		Data: map[string]any{
			"status": resp.StatusCode,
			"body":   resp.Body,
		},
	}
}

func (p *Salesforce) passwordGrantToken(ctx context.Context, creds model.Credentials) (string, error) {
	values := url.Values{
		"grant_type":    {"password"},
		"client_id":     {creds.SFClientID},
		"client_secret": {creds.SFClientSecret},
		"username":      {creds.SFUsername},
		"password":      {creds.SFPassword},
	}

	resp, err := retry.Do(ctx, p.RetryStrategy(), func() (*httpclient.Response, error) {
		return p.client.PostForm(ctx, creds.SFTokenURL, values, nil)
	})
	if err != nil {
		return "", err
	}

	var token oauthToken
	if err := json.Unmarshal([]byte(resp.Body), &token); err != nil || token.AccessToken == "" {
		return "", &retry.ValidationError{Msg: "failed to obtain salesforce access token"}
	}
	return token.AccessToken, nil
}
