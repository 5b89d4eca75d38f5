package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dcayres/campaign-dispatch/internal/config"
	appErrors "github.com/dcayres/campaign-dispatch/internal/errors"
	"github.com/dcayres/campaign-dispatch/internal/model"
	"github.com/dcayres/campaign-dispatch/internal/provider"
	"github.com/dcayres/campaign-dispatch/internal/queue"
	"github.com/dcayres/campaign-dispatch/internal/retry"
	"github.com/dcayres/campaign-dispatch/internal/service"
)

// --- Mocks ---

type MockCampaignRepo struct {
	campaigns map[string]*model.Campaign
}

func NewMockCampaignRepo() *MockCampaignRepo {
	return &MockCampaignRepo{campaigns: make(map[string]*model.Campaign)}
}

func (m *MockCampaignRepo) Create(c *model.Campaign) error {
	m.campaigns[c.ID] = c
	return nil
}

func (m *MockCampaignRepo) GetByID(id string) (*model.Campaign, error) {
	if c, ok := m.campaigns[id]; ok {
		return c, nil
	}
	return nil, appErrors.NewCampaignNotFound(id)
}

func (m *MockCampaignRepo) GetByAgendamentoID(agendamentoID string) (*model.Campaign, error) {
	for _, c := range m.campaigns {
		if c.AgendamentoID == agendamentoID {
			return c, nil
		}
	}
	return nil, nil
}

func (m *MockCampaignRepo) UpdateStatus(campaignID, status, errorMessage string) error {
	c := m.campaigns[campaignID]
	c.Status = status
	c.ErrorMessage = errorMessage
	return nil
}

func (m *MockCampaignRepo) UpdateDispatchStatus(campaignID, dispatchStatus string) error {
	m.campaigns[campaignID].DispatchStatus = dispatchStatus
	return nil
}

func (m *MockCampaignRepo) SetTotalMessages(campaignID string, total int) error {
	m.campaigns[campaignID].TotalMessages = total
	return nil
}

func (m *MockCampaignRepo) SetCounters(campaignID string, sent, failed int) error {
	c := m.campaigns[campaignID]
	c.SentMessages = sent
	c.FailedMessages = failed
	return nil
}

// MockMessageRepo keeps rows the way the table does: CreateBatch replaces
// the campaign's rows, the mark calls flip whatever is still pending.
type MockMessageRepo struct {
	rows []*model.CampaignMessage
}

func (m *MockMessageRepo) CreateBatch(campaignID string, records []model.CampaignRecord) error {
	kept := []*model.CampaignMessage{}
	for _, msg := range m.rows {
		if msg.CampaignID != campaignID {
			kept = append(kept, msg)
		}
	}
	m.rows = kept
	for _, rec := range records {
		m.rows = append(m.rows, &model.CampaignMessage{
			CampaignID: campaignID,
			Phone:      rec.Phone,
			Name:       rec.Name,
			Status:     model.MessagePending,
		})
	}
	return nil
}

func (m *MockMessageRepo) MarkAllSent(campaignID string) (int, error) {
	n := 0
	for _, msg := range m.rows {
		if msg.CampaignID == campaignID && msg.Status == model.MessagePending {
			msg.Status = model.MessageSent
			msg.LastError = ""
			msg.Attempts++
			n++
		}
	}
	return n, nil
}

func (m *MockMessageRepo) MarkAllFailed(campaignID, lastError string) (int, error) {
	n := 0
	for _, msg := range m.rows {
		if msg.CampaignID == campaignID && msg.Status == model.MessagePending {
			msg.Status = model.MessageFailed
			msg.LastError = lastError
			msg.Attempts++
			n++
		}
	}
	return n, nil
}

func (m *MockMessageRepo) ListFailed(campaignID string) ([]*model.CampaignMessage, error) {
	failed := []*model.CampaignMessage{}
	for _, msg := range m.rows {
		if msg.CampaignID == campaignID && msg.Status == model.MessageFailed {
			failed = append(failed, msg)
		}
	}
	return failed, nil
}

func (m *MockMessageRepo) rowsFor(campaignID string) []*model.CampaignMessage {
	out := []*model.CampaignMessage{}
	for _, msg := range m.rows {
		if msg.CampaignID == campaignID {
			out = append(out, msg)
		}
	}
	return out
}

type MockGateway struct {
	records      []model.CampaignRecord
	recordsErr   error
	creds        model.Credentials
	credsErr     error
	template     *model.TemplateConfig
	templateErr  error
	templateHits int
}

func (m *MockGateway) FetchRecords(ctx context.Context, agendamentoID string) ([]model.CampaignRecord, error) {
	return m.records, m.recordsErr
}

func (m *MockGateway) FetchCredentials(ctx context.Context, provider, environmentID string) (model.Credentials, error) {
	return m.creds, m.credsErr
}

func (m *MockGateway) FetchTemplateConfig(ctx context.Context, agendamentoID string) (*model.TemplateConfig, error) {
	m.templateHits++
	return m.template, m.templateErr
}

type MockScheduler struct {
	scheduled []*model.DelayedTask
	err       error
}

func (m *MockScheduler) Schedule(delay time.Duration, kind string, payload json.RawMessage, agendamentoID, campaignID string) (*model.DelayedTask, error) {
	if m.err != nil {
		return nil, m.err
	}
	task := &model.DelayedTask{
		ID:            "task-1",
		Kind:          kind,
		FireAt:        time.Now().Add(delay),
		Payload:       payload,
		AgendamentoID: agendamentoID,
		CampaignID:    campaignID,
	}
	m.scheduled = append(m.scheduled, task)
	return task, nil
}

type MockPublisher struct {
	published []queue.DispatchJob
	err       error
}

func (m *MockPublisher) Publish(topic string, job queue.DispatchJob) error {
	if m.err != nil {
		return m.err
	}
	m.published = append(m.published, job)
	return nil
}

// FakeAdapter returns a canned result under any provider name.
type FakeAdapter struct {
	name   string
	result *provider.Result
	sends  int
}

func (a *FakeAdapter) Name() string                  { return a.name }
func (a *FakeAdapter) RetryStrategy() retry.Strategy { return retry.DefaultStrategy() }
func (a *FakeAdapter) ValidateCredentials(creds model.Credentials) bool {
	return true
}
func (a *FakeAdapter) Send(ctx context.Context, agendamentoID string, records []model.CampaignRecord, creds model.Credentials, tpl *model.TemplateConfig) *provider.Result {
	a.sends++
	return a.result
}

func testRecords() []model.CampaignRecord {
	return []model.CampaignRecord{
		{Phone: "11999999999", Name: "Maria", Message: "Oi", EnvironmentID: "7"},
		{Phone: "21988887777", Name: "Joao", Message: "Oi", EnvironmentID: "7"},
	}
}

func newTestService(adapter provider.Adapter) (*service.DispatchService, *MockCampaignRepo, *MockMessageRepo, *MockGateway, *MockScheduler, *MockPublisher) {
	campaignRepo := NewMockCampaignRepo()
	messageRepo := &MockMessageRepo{}
	gw := &MockGateway{records: testRecords(), creds: model.Credentials{URL: "http://x", APIKey: "k", Token: "t"}}
	sched := &MockScheduler{}
	pub := &MockPublisher{}

	svc := &service.DispatchService{
		CampaignRepo: campaignRepo,
		MessageRepo:  messageRepo,
		Gateway:      gw,
		Registry:     provider.NewRegistry(adapter),
		Scheduler:    sched,
		Queue:        pub,
		Prefixes:     config.DefaultPrefixes,
	}
	return svc, campaignRepo, messageRepo, gw, sched, pub
}

// --- Tests ---

func TestResolveProvider(t *testing.T) {
	svc := &service.DispatchService{Prefixes: config.DefaultPrefixes}

	tests := []struct {
		id   string
		want string
	}{
		{"C100", "CDA"},
		{"g300", "GOSAC"},
		{"N400", "NOAH"},
		{"R200", "RCS"},
		{"S500", "SALESFORCE"},
	}
	for _, tc := range tests {
		got, err := svc.ResolveProvider(tc.id)
		if err != nil {
			t.Errorf("ResolveProvider(%q) returned error %v", tc.id, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ResolveProvider(%q) = %q, want %q", tc.id, got, tc.want)
		}
	}

	for _, id := range []string{"", "X999"} {
		if _, err := svc.ResolveProvider(id); err == nil {
			t.Errorf("ResolveProvider(%q) should fail", id)
		}
	}
}

func TestEnqueueDispatchQueuesJob(t *testing.T) {
	adapter := &FakeAdapter{name: "CDA", result: &provider.Result{Success: true}}
	svc, campaignRepo, _, _, _, pub := newTestService(adapter)

	ack, err := svc.EnqueueDispatch(context.Background(), "C100")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ack.Success || ack.Status != model.CampaignQueued {
		t.Errorf("unexpected ack %+v", ack)
	}
	if len(pub.published) != 1 || pub.published[0].AgendamentoID != "C100" {
		t.Errorf("expected the job published, got %+v", pub.published)
	}

	campaign, _ := campaignRepo.GetByID(ack.CampaignID)
	if campaign.Provider != "CDA" {
		t.Errorf("unexpected provider %q", campaign.Provider)
	}
}

func TestEnqueueDispatchIsIdempotent(t *testing.T) {
	adapter := &FakeAdapter{name: "CDA", result: &provider.Result{Success: true}}
	svc, _, _, _, _, pub := newTestService(adapter)

	first, err := svc.EnqueueDispatch(context.Background(), "C100")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := svc.EnqueueDispatch(context.Background(), "C100")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if second.CampaignID != first.CampaignID {
		t.Errorf("duplicate trigger should return the same campaign, got %q and %q", first.CampaignID, second.CampaignID)
	}
	if second.Message != "campaign already queued" {
		t.Errorf("unexpected duplicate message %q", second.Message)
	}
	if len(pub.published) != 1 {
		t.Errorf("duplicate trigger must not publish again, got %d jobs", len(pub.published))
	}
}

// racingCampaignRepo loses every insert to a concurrent trigger: by the time
// Create runs, another process already wrote the row.
type racingCampaignRepo struct {
	*MockCampaignRepo
}

func (r *racingCampaignRepo) Create(c *model.Campaign) error {
	winner := &model.Campaign{
		ID:            "winner",
		AgendamentoID: c.AgendamentoID,
		Provider:      c.Provider,
		Status:        model.CampaignQueued,
	}
	r.MockCampaignRepo.campaigns[winner.ID] = winner
	return appErrors.NewCampaignExists(c.AgendamentoID)
}

func TestEnqueueDispatchSurvivesConcurrentCreate(t *testing.T) {
	adapter := &FakeAdapter{name: "CDA", result: &provider.Result{Success: true}}
	svc, campaignRepo, _, _, _, pub := newTestService(adapter)
	svc.CampaignRepo = &racingCampaignRepo{MockCampaignRepo: campaignRepo}

	ack, err := svc.EnqueueDispatch(context.Background(), "C100")
	if err != nil {
		t.Fatalf("losing the insert race should not surface an error, got %v", err)
	}
	if ack.CampaignID != "winner" {
		t.Errorf("expected the winner's campaign, got %q", ack.CampaignID)
	}
	if ack.Message != "campaign already queued" {
		t.Errorf("unexpected message %q", ack.Message)
	}
	if len(pub.published) != 0 {
		t.Errorf("the losing trigger must not publish, got %d jobs", len(pub.published))
	}
}

func TestProcessDispatchSurvivesConcurrentCreate(t *testing.T) {
	adapter := &FakeAdapter{name: "CDA", result: &provider.Result{Success: true}}
	svc, campaignRepo, _, _, _, _ := newTestService(adapter)
	svc.CampaignRepo = &racingCampaignRepo{MockCampaignRepo: campaignRepo}

	if err := svc.ProcessDispatch(context.Background(), "C100"); err != nil {
		t.Fatalf("losing the insert race should fall through to the winner's row, got %v", err)
	}

	campaign, _ := campaignRepo.GetByID("winner")
	if campaign.Status != model.CampaignCompleted {
		t.Errorf("expected COMPLETED on the winner's campaign, got %s", campaign.Status)
	}
}

func TestEnqueueDispatchUnknownPrefix(t *testing.T) {
	adapter := &FakeAdapter{name: "CDA", result: &provider.Result{Success: true}}
	svc, _, _, _, _, _ := newTestService(adapter)

	_, err := svc.EnqueueDispatch(context.Background(), "X999")
	var unknown *appErrors.ErrUnknownProvider
	if !errors.As(err, &unknown) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}

func TestEnqueueDispatchPublishFailureMarksCampaignFailed(t *testing.T) {
	adapter := &FakeAdapter{name: "CDA", result: &provider.Result{Success: true}}
	svc, campaignRepo, _, _, _, pub := newTestService(adapter)
	pub.err = errors.New("broker down")

	if _, err := svc.EnqueueDispatch(context.Background(), "C100"); err == nil {
		t.Fatal("expected an error when publishing fails")
	}

	campaign, _ := campaignRepo.GetByAgendamentoID("C100")
	if campaign == nil || campaign.Status != model.CampaignFailed {
		t.Errorf("campaign should be FAILED after a publish failure, got %+v", campaign)
	}
}

func TestProcessDispatchCompletesSinglePhase(t *testing.T) {
	adapter := &FakeAdapter{name: "CDA", result: &provider.Result{Success: true}}
	svc, campaignRepo, _, _, _, _ := newTestService(adapter)

	if err := svc.ProcessDispatch(context.Background(), "C100"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	campaign, _ := campaignRepo.GetByAgendamentoID("C100")
	if campaign == nil {
		t.Fatal("campaign should be created on the fly")
	}
	if campaign.Status != model.CampaignCompleted {
		t.Errorf("expected COMPLETED, got %s", campaign.Status)
	}
	if campaign.DispatchStatus != model.DispatchSent {
		t.Errorf("expected SENT, got %s", campaign.DispatchStatus)
	}
	if campaign.TotalMessages != 2 || campaign.SentMessages != 2 || campaign.FailedMessages != 0 {
		t.Errorf("unexpected counters %+v", campaign)
	}
	if adapter.sends != 1 {
		t.Errorf("expected a single adapter call, got %d", adapter.sends)
	}
}

func TestProcessDispatchSchedulesSecondPhase(t *testing.T) {
	adapter := &FakeAdapter{name: "GOSAC", result: &provider.Result{
		Success: true,
		Deferred: &provider.DeferredDispatch{
			Kind:     model.TaskKindGosacStart,
			Delay:    120 * time.Second,
			Endpoint: "https://gosac.example/1/status/started",
		},
	}}
	svc, campaignRepo, _, _, sched, _ := newTestService(adapter)

	if err := svc.ProcessDispatch(context.Background(), "G300"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	campaign, _ := campaignRepo.GetByAgendamentoID("G300")
	if campaign.Status != model.CampaignProcessing {
		t.Errorf("campaign should stay PROCESSING until phase 2, got %s", campaign.Status)
	}
	if campaign.DispatchStatus != model.DispatchScheduledPhase2 {
		t.Errorf("expected SCHEDULED_PHASE2, got %s", campaign.DispatchStatus)
	}
	if len(sched.scheduled) != 1 {
		t.Fatalf("expected 1 scheduled task, got %d", len(sched.scheduled))
	}
	if sched.scheduled[0].Kind != model.TaskKindGosacStart {
		t.Errorf("unexpected task kind %q", sched.scheduled[0].Kind)
	}
}

func TestProcessDispatchNoRecords(t *testing.T) {
	adapter := &FakeAdapter{name: "CDA", result: &provider.Result{Success: true}}
	svc, campaignRepo, _, gw, _, _ := newTestService(adapter)
	gw.recordsErr = appErrors.NewNoRecords("C100")

	if err := svc.ProcessDispatch(context.Background(), "C100"); err != nil {
		t.Fatalf("an empty dataset is terminal, not retryable; got %v", err)
	}

	campaign, _ := campaignRepo.GetByAgendamentoID("C100")
	if campaign.Status != model.CampaignFailed {
		t.Errorf("expected FAILED, got %s", campaign.Status)
	}
	if adapter.sends != 0 {
		t.Errorf("no provider call should happen without records, got %d", adapter.sends)
	}
}

func TestProcessDispatchMissingCredentials(t *testing.T) {
	adapter := &FakeAdapter{name: "CDA", result: &provider.Result{Success: true}}
	svc, campaignRepo, _, gw, _, _ := newTestService(adapter)
	gw.credsErr = appErrors.NewCredentialsNotFound("CDA", "7")

	if err := svc.ProcessDispatch(context.Background(), "C100"); err != nil {
		t.Fatalf("missing credentials are terminal, not retryable; got %v", err)
	}

	campaign, _ := campaignRepo.GetByAgendamentoID("C100")
	if campaign.Status != model.CampaignFailed {
		t.Errorf("expected FAILED, got %s", campaign.Status)
	}
	if adapter.sends != 0 {
		t.Errorf("no provider call should happen without credentials, got %d", adapter.sends)
	}
}

func TestProcessDispatchAdapterFailure(t *testing.T) {
	adapter := &FakeAdapter{name: "CDA", result: &provider.Result{Success: false, Error: "upstream rejected the batch"}}
	svc, campaignRepo, messageRepo, _, _, _ := newTestService(adapter)

	if err := svc.ProcessDispatch(context.Background(), "C100"); err != nil {
		t.Fatalf("an exhausted dispatch is terminal, not retryable; got %v", err)
	}

	campaign, _ := campaignRepo.GetByAgendamentoID("C100")
	if campaign.Status != model.CampaignFailed {
		t.Errorf("expected FAILED, got %s", campaign.Status)
	}
	if campaign.DispatchStatus != model.DispatchSendError {
		t.Errorf("expected SEND_ERROR, got %s", campaign.DispatchStatus)
	}
	if campaign.FailedMessages != 2 {
		t.Errorf("expected every message failed, got %d", campaign.FailedMessages)
	}
	failed, _ := messageRepo.ListFailed(campaign.ID)
	if len(failed) != 2 || failed[0].LastError != "upstream rejected the batch" {
		t.Errorf("unexpected failed messages %+v", failed)
	}
}

func TestProcessDispatchRequeueDoesNotDuplicateMessages(t *testing.T) {
	adapter := &FakeAdapter{name: "CDA", result: &provider.Result{Success: true}}
	svc, campaignRepo, messageRepo, gw, _, _ := newTestService(adapter)

	// First delivery dies after the rows are written, so the queue
	// redelivers the job and the whole phase reruns.
	gw.credsErr = errors.New("connection reset by peer")
	if err := svc.ProcessDispatch(context.Background(), "C100"); err == nil {
		t.Fatal("a transient credentials failure should be retryable")
	}

	gw.credsErr = nil
	if err := svc.ProcessDispatch(context.Background(), "C100"); err != nil {
		t.Fatalf("unexpected error on redelivery: %v", err)
	}

	campaign, _ := campaignRepo.GetByAgendamentoID("C100")
	rows := messageRepo.rowsFor(campaign.ID)
	if len(rows) != 2 {
		t.Fatalf("redelivery must not duplicate rows, got %d", len(rows))
	}
	for _, msg := range rows {
		if msg.Status != model.MessageSent {
			t.Errorf("expected every row SENT, got %s", msg.Status)
		}
	}
	if campaign.Status != model.CampaignCompleted {
		t.Errorf("expected COMPLETED, got %s", campaign.Status)
	}
	if campaign.SentMessages != 2 || campaign.FailedMessages != 0 {
		t.Errorf("unexpected counters sent=%d failed=%d", campaign.SentMessages, campaign.FailedMessages)
	}
	if failed, _ := messageRepo.ListFailed(campaign.ID); len(failed) != 0 {
		t.Errorf("stale failures from the first attempt leaked through: %+v", failed)
	}
}

func TestProcessDispatchFetchesTemplateForRCSOnly(t *testing.T) {
	adapter := &FakeAdapter{name: "RCS", result: &provider.Result{Success: true}}
	svc, _, _, gw, _, _ := newTestService(adapter)

	if err := svc.ProcessDispatch(context.Background(), "R200"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gw.templateHits != 1 {
		t.Errorf("expected 1 template lookup for RCS, got %d", gw.templateHits)
	}

	cdaAdapter := &FakeAdapter{name: "CDA", result: &provider.Result{Success: true}}
	svc2, _, _, gw2, _, _ := newTestService(cdaAdapter)
	if err := svc2.ProcessDispatch(context.Background(), "C100"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gw2.templateHits != 0 {
		t.Errorf("no template lookup expected for CDA, got %d", gw2.templateHits)
	}
}

func TestHandleDeferredGosacStart(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	adapter := &FakeAdapter{name: "GOSAC", result: &provider.Result{Success: true}}
	svc, campaignRepo, messageRepo, _, _, _ := newTestService(adapter)
	svc.GOSAC = provider.NewGOSAC()

	campaign := &model.Campaign{ID: "camp-1", AgendamentoID: "G300", Provider: "GOSAC", Status: model.CampaignProcessing}
	campaignRepo.Create(campaign)
	messageRepo.CreateBatch("camp-1", testRecords())

	deferred := provider.DeferredDispatch{
		Kind:        model.TaskKindGosacStart,
		Endpoint:    server.URL + "/1/status/started",
		Credentials: model.Credentials{URL: server.URL, Token: "tok"},
	}
	payload, _ := json.Marshal(deferred)

	task := &model.DelayedTask{ID: "task-1", Kind: model.TaskKindGosacStart, Payload: payload, AgendamentoID: "G300", CampaignID: "camp-1"}
	if err := svc.HandleDeferred(context.Background(), task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if campaign.Status != model.CampaignCompleted {
		t.Errorf("expected COMPLETED after phase 2, got %s", campaign.Status)
	}
	if campaign.SentMessages != 2 {
		t.Errorf("expected counters updated, got %+v", campaign)
	}
}

func TestHandleDeferredUnknownKind(t *testing.T) {
	adapter := &FakeAdapter{name: "CDA", result: &provider.Result{Success: true}}
	svc, campaignRepo, _, _, _, _ := newTestService(adapter)

	campaign := &model.Campaign{ID: "camp-1", AgendamentoID: "C100", Provider: "CDA", Status: model.CampaignProcessing}
	campaignRepo.Create(campaign)

	task := &model.DelayedTask{ID: "task-1", Kind: "never_registered", Payload: []byte(`{}`), CampaignID: "camp-1"}
	if err := svc.HandleDeferred(context.Background(), task); err == nil {
		t.Fatal("expected an error for an unknown kind")
	}

	if campaign.Status != model.CampaignFailed {
		t.Errorf("expected FAILED, got %s", campaign.Status)
	}
	if campaign.DispatchStatus != model.DispatchPhase2Error {
		t.Errorf("expected PHASE2_ERROR, got %s", campaign.DispatchStatus)
	}
}
