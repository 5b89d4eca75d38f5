// Package gateway talks to the external panel that owns campaign datasets,
// provider credentials and RCS template configs. The dispatch core never
// persists any of it.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	appErrors "github.com/dcayres/campaign-dispatch/internal/errors"
	"github.com/dcayres/campaign-dispatch/internal/httpclient"
	"github.com/dcayres/campaign-dispatch/internal/model"
)

type Client struct {
	baseURL string
	apiKey  string
	http    *httpclient.Client
}

// RecordFetcher is what the dispatch service needs from this package.
type RecordFetcher interface {
	FetchRecords(ctx context.Context, agendamentoID string) ([]model.CampaignRecord, error)
	FetchCredentials(ctx context.Context, provider, environmentID string) (model.Credentials, error)
	FetchTemplateConfig(ctx context.Context, agendamentoID string) (*model.TemplateConfig, error)
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    httpclient.New(30 * time.Second),
	}
}

func (c *Client) headers() map[string]string {
	return map[string]string{
		"X-API-KEY": c.apiKey,
		"Accept":    "application/json",
	}
}

// FetchRecords returns the pending dataset for a schedule id. An empty
// dataset is an error: there is nothing to dispatch.
func (c *Client) FetchRecords(ctx context.Context, agendamentoID string) ([]model.CampaignRecord, error) {
	endpoint := fmt.Sprintf("%s/wp-json/agendamentos/v1/pendentes/%s", c.baseURL, url.PathEscape(agendamentoID))

	resp, err := c.http.Get(ctx, endpoint, c.headers())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch records: %w", err)
	}

	var records []model.CampaignRecord
	if err := json.Unmarshal([]byte(resp.Body), &records); err != nil {
		return nil, fmt.Errorf("invalid record payload: %w", err)
	}
	if len(records) == 0 {
		return nil, appErrors.NewNoRecords(agendamentoID)
	}
	if records[0].EnvironmentID == "" {
		return nil, fmt.Errorf("record dataset for %s is missing idgis_ambiente", agendamentoID)
	}

	return records, nil
}

// FetchCredentials resolves the credential bag for (provider, environment).
// Absent credentials abort dispatch before any provider call.
func (c *Client) FetchCredentials(ctx context.Context, provider, environmentID string) (model.Credentials, error) {
	endpoint := fmt.Sprintf("%s/wp-json/api-manager/v1/credentials/%s/%s",
		c.baseURL, url.PathEscape(strings.ToLower(provider)), url.PathEscape(environmentID))

	resp, err := c.http.Get(ctx, endpoint, c.headers())
	if err != nil {
		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == 404 {
			return model.Credentials{}, appErrors.NewCredentialsNotFound(provider, environmentID)
		}
		return model.Credentials{}, fmt.Errorf("failed to fetch credentials: %w", err)
	}

	var creds model.Credentials
	if err := json.Unmarshal([]byte(resp.Body), &creds); err != nil {
		return model.Credentials{}, fmt.Errorf("invalid credential payload: %w", err)
	}

	return creds, nil
}

// FetchTemplateConfig returns the RCS template config for a schedule, or nil
// when none is configured (plain-text dispatch).
func (c *Client) FetchTemplateConfig(ctx context.Context, agendamentoID string) (*model.TemplateConfig, error) {
	endpoint := fmt.Sprintf("%s/wp-json/templates/v1/%s", c.baseURL, url.PathEscape(agendamentoID))

	resp, err := c.http.Get(ctx, endpoint, c.headers())
	if err != nil {
		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == 404 {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch template config: %w", err)
	}

	var tpl model.TemplateConfig
	if err := json.Unmarshal([]byte(resp.Body), &tpl); err != nil {
		return nil, fmt.Errorf("invalid template config payload: %w", err)
	}
	return &tpl, nil
}

var _ RecordFetcher = (*Client)(nil)
