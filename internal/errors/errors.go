package appErrors

import "fmt"

// ErrCampaignNotFound is returned when a campaign id has no record.
type ErrCampaignNotFound struct {
	CampaignID string
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign %s not found", e.CampaignID)
}

func NewCampaignNotFound(id string) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// ErrCredentialsNotFound aborts a dispatch before any provider call is made.
type ErrCredentialsNotFound struct {
	Provider      string
	EnvironmentID string
}

func (e *ErrCredentialsNotFound) Error() string {
	return fmt.Sprintf("credentials for %s (environment %s) not found", e.Provider, e.EnvironmentID)
}

func NewCredentialsNotFound(provider, envID string) error {
	return &ErrCredentialsNotFound{Provider: provider, EnvironmentID: envID}
}

// ErrCampaignExists signals a lost insert race: another trigger created the
// campaign for this agendamento first. Callers re-read the winner's row.
type ErrCampaignExists struct {
	AgendamentoID string
}

func (e *ErrCampaignExists) Error() string {
	return fmt.Sprintf("campaign for agendamento %s already exists", e.AgendamentoID)
}

func NewCampaignExists(agendamentoID string) error {
	return &ErrCampaignExists{AgendamentoID: agendamentoID}
}

// ErrUnknownProvider means the agendamento id prefix has no routing entry.
type ErrUnknownProvider struct {
	AgendamentoID string
}

func (e *ErrUnknownProvider) Error() string {
	return fmt.Sprintf("no provider configured for agendamento %s", e.AgendamentoID)
}

func NewUnknownProvider(agendamentoID string) error {
	return &ErrUnknownProvider{AgendamentoID: agendamentoID}
}

// ErrNoRecords means the record endpoint returned an empty dataset.
type ErrNoRecords struct {
	AgendamentoID string
}

func (e *ErrNoRecords) Error() string {
	return fmt.Sprintf("no pending records for agendamento %s", e.AgendamentoID)
}

func NewNoRecords(agendamentoID string) error {
	return &ErrNoRecords{AgendamentoID: agendamentoID}
}
