package model

// Credentials is the per-provider credential bag served by the credential
// store. Each provider reads only the fields it declares required; the rest
// stay empty. Never persisted by this service.
type Credentials struct {
	// CDA, NOAH, GOSAC
	URL    string `json:"url,omitempty"`
	APIKey string `json:"api_key,omitempty"`
	Token  string `json:"token,omitempty"`

	// RCS
	BaseURL      string `json:"base_url,omitempty"`
	BrokerCode   string `json:"broker_code,omitempty"`
	CustomerCode string `json:"customer_code,omitempty"`

	// Salesforce per-environment
	Operacao     string `json:"operacao,omitempty"`
	AutomationID string `json:"automation_id,omitempty"`

	// Salesforce OAuth apps
	SFClientID     string `json:"sf_client_id,omitempty"`
	SFClientSecret string `json:"sf_client_secret,omitempty"`
	SFUsername     string `json:"sf_username,omitempty"`
	SFPassword     string `json:"sf_password,omitempty"`
	SFTokenURL     string `json:"sf_token_url,omitempty"`
	SFAPIURL       string `json:"sf_api_url,omitempty"`

	MKCClientID     string `json:"mkc_client_id,omitempty"`
	MKCClientSecret string `json:"mkc_client_secret,omitempty"`
	MKCTokenURL     string `json:"mkc_token_url,omitempty"`
	MKCAPIURL       string `json:"mkc_api_url,omitempty"`
}
