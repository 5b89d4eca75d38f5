package model

// CampaignRecord is one recipient row as delivered by the record-fetch
// endpoint. Field names on the wire follow the upstream panel.
type CampaignRecord struct {
	Phone         string `json:"telefone"`
	Name          string `json:"nome"`
	ContractID    string `json:"idcob_contrato"`
	TaxID         string `json:"cpf_cnpj"`
	Message       string `json:"mensagem"`
	EnvironmentID string `json:"idgis_ambiente"`
}

// TemplateConfig selects the RCS dispatch mode. Nil config means plain text.
type TemplateConfig struct {
	TemplateCode string `json:"template_code,omitempty"`
	HasMedia     bool   `json:"has_media,omitempty"`
	FileURL      string `json:"file_url,omitempty"`
	FileType     string `json:"file_type,omitempty"`
	FileName     string `json:"file_name,omitempty"`
	FallbackSMS  string `json:"fallback_sms,omitempty"`
}
