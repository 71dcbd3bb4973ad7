package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/config"
	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/model"
	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/qbo"
	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/transform"
	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/warehouse"
)

// --- fakes ---

type fakeSource struct {
	docs      []model.RawDocument
	err       error
	i         int
	exhausted func()
}

func (s *fakeSource) Next(context.Context) (model.RawDocument, bool, error) {
	if s.err != nil {
		return model.RawDocument{}, false, s.err
	}
	if s.i >= len(s.docs) {
		if s.exhausted != nil {
			s.exhausted()
			s.exhausted = nil
		}
		return model.RawDocument{}, false, nil
	}
	doc := s.docs[s.i]
	s.i++
	return doc, true, nil
}

type fakeClient struct {
	docs       map[model.EntityType][]model.RawDocument
	extractErr map[model.EntityType]error
	// exhaustHook fires when the entity's source runs dry.
	exhaustHook map[model.EntityType]func()

	mu          sync.Mutex
	reportCalls []string // "<name>/<start year>"
}

func (c *fakeClient) Extract(entity model.EntityType, _ time.Time) DocumentSource {
	return &fakeSource{docs: c.docs[entity], err: c.extractErr[entity], exhausted: c.exhaustHook[entity]}
}

func (c *fakeClient) FetchReport(_ context.Context, spec qbo.ReportSpec, start, _ time.Time) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reportCalls = append(c.reportCalls, fmt.Sprintf("%s/%d", spec.Name, start.Year()))
	return map[string]any{}, nil
}

type fakeLoader struct {
	mu         sync.Mutex
	order      []string
	failTables map[string]bool
	// hook fires at the start of every Upsert with the table name.
	hook func(table string)
}

func (l *fakeLoader) Upsert(_ context.Context, table warehouse.Table, rows []transform.Row) (warehouse.Counts, error) {
	if l.hook != nil {
		l.hook(table.Name)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.order = append(l.order, table.Name)
	if l.failTables[table.Name] {
		return warehouse.Counts{}, &warehouse.LoadConflictError{Table: table.Name, Err: errors.New("boom")}
	}
	return warehouse.Counts{Inserted: len(rows)}, nil
}

func (l *fakeLoader) ReplaceReport(_ context.Context, table, _ string, rows []transform.Row) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.order = append(l.order, table)
	return len(rows), nil
}

type fakeMarks struct {
	mu  sync.Mutex
	set map[string]time.Time // clientID/entity -> ts
}

func (m *fakeMarks) Get(context.Context, string, model.EntityType) (time.Time, error) {
	return time.Time{}, nil
}

func (m *fakeMarks) Set(_ context.Context, clientID string, entity model.EntityType, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.set == nil {
		m.set = map[string]time.Time{}
	}
	m.set[clientID+"/"+string(entity)] = ts
	return nil
}

func (m *fakeMarks) has(clientID string, entity model.EntityType) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.set[clientID+"/"+string(entity)]
	return ok
}

type fakeTenants struct {
	mu      sync.Mutex
	tenants []model.Tenant
	flagged []string
}

func (t *fakeTenants) Active(context.Context) ([]model.Tenant, error) {
	return t.tenants, nil
}

func (t *fakeTenants) Get(_ context.Context, clientID string) (model.Tenant, error) {
	for _, tenant := range t.tenants {
		if tenant.ClientID == clientID {
			return tenant, nil
		}
	}
	return model.Tenant{}, errors.New("not found")
}

func (t *fakeTenants) FlagReconsent(_ context.Context, clientID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.flagged = append(t.flagged, clientID)
	return nil
}

func rawDoc(clientID string, entity model.EntityType, id string, extra map[string]any) model.RawDocument {
	data := map[string]any{"Id": id}
	for k, v := range extra {
		data[k] = v
	}
	return model.RawDocument{ClientID: clientID, Entity: entity, ID: id, Data: data, Raw: []byte(`{}`)}
}

func tenantDocs(clientID string) map[model.EntityType][]model.RawDocument {
	return map[model.EntityType][]model.RawDocument{
		model.EntityAccount: {
			rawDoc(clientID, model.EntityAccount, "1", map[string]any{"Name": "Checking"}),
		},
		model.EntityInvoice: {
			rawDoc(clientID, model.EntityInvoice, "145", map[string]any{
				"Line": []any{map[string]any{
					"Id": "1", "DetailType": "SalesItemLineDetail", "Amount": 100.0,
					"SalesItemLineDetail": map[string]any{},
				}},
			}),
		},
	}
}

func newTestOrchestrator(t *testing.T, clients map[string]*fakeClient, loader *fakeLoader, marks *fakeMarks, tenants *fakeTenants) *Orchestrator {
	t.Helper()
	factory := func(tenant model.Tenant) Client { return clients[tenant.ClientID] }
	o, err := New(config.PipelineConfig{TenantConcurrency: 2, EntityConcurrency: 1},
		factory, loader, marks, tenants, nil, nil, zerolog.Nop())
	require.NoError(t, err)
	return o
}

// --- tests ---

func TestRunAllLoadsDimensionsBeforeFacts(t *testing.T) {
	tenants := &fakeTenants{tenants: []model.Tenant{{ClientID: "pilot_001", Active: true}}}
	loader := &fakeLoader{}
	marks := &fakeMarks{}
	clients := map[string]*fakeClient{"pilot_001": {docs: tenantDocs("pilot_001")}}

	o := newTestOrchestrator(t, clients, loader, marks, tenants)
	summary, err := o.RunAll(context.Background())
	require.NoError(t, err)
	require.NotNil(t, summary)

	// Only entities with documents touch the loader; dims come first and the
	// invoice header precedes its line table.
	idxAccount := indexOf(loader.order, "dim_account")
	idxInvoice := indexOf(loader.order, "fact_invoice")
	idxLines := indexOf(loader.order, "fact_invoice_line")
	require.GreaterOrEqual(t, idxAccount, 0)
	require.GreaterOrEqual(t, idxInvoice, 0)
	require.GreaterOrEqual(t, idxLines, 0)
	assert.Less(t, idxAccount, idxInvoice)
	assert.Less(t, idxInvoice, idxLines)

	// Every entity run completed, including empty ones, and watermarks moved.
	for _, run := range summary.Runs {
		assert.Equal(t, StateCompleted, run.State, "%s/%s: %s", run.ClientID, run.Entity, run.FailReason)
	}
	assert.True(t, marks.has("pilot_001", model.EntityInvoice))
	assert.True(t, marks.has("pilot_001", model.EntityTransfer), "empty entities still advance their watermark")
}

func TestRunAllIsolatesTenantFailures(t *testing.T) {
	tenants := &fakeTenants{tenants: []model.Tenant{
		{ClientID: "pilot_001", Active: true},
		{ClientID: "pilot_002", Active: true},
	}}
	loader := &fakeLoader{failTables: map[string]bool{"fact_invoice": true}}
	marks := &fakeMarks{}
	clients := map[string]*fakeClient{
		"pilot_001": {docs: tenantDocs("pilot_001")},
		"pilot_002": {docs: tenantDocs("pilot_002")},
	}

	o := newTestOrchestrator(t, clients, loader, marks, tenants)
	summary, err := o.RunAll(context.Background())

	var partial *PartialTenantFailure
	require.ErrorAs(t, err, &partial)
	// Both tenants hit the failing table; everything else still completed.
	require.Len(t, partial.Failed, 2)
	for _, run := range partial.Failed {
		assert.Equal(t, "Invoice", run.Entity)
	}

	completed := 0
	for _, run := range summary.Runs {
		if run.State == StateCompleted {
			completed++
		}
	}
	assert.Equal(t, len(summary.Runs)-2, completed)
}

func TestWatermarkNotAdvancedOnLoadFailure(t *testing.T) {
	tenants := &fakeTenants{tenants: []model.Tenant{{ClientID: "pilot_001", Active: true}}}
	loader := &fakeLoader{failTables: map[string]bool{"fact_invoice": true}}
	marks := &fakeMarks{}
	clients := map[string]*fakeClient{"pilot_001": {docs: tenantDocs("pilot_001")}}

	o := newTestOrchestrator(t, clients, loader, marks, tenants)
	_, err := o.RunAll(context.Background())
	require.Error(t, err)

	assert.False(t, marks.has("pilot_001", model.EntityInvoice), "failed load must not advance the watermark")
	assert.True(t, marks.has("pilot_001", model.EntityAccount))
}

func TestAuthFailureFlagsTenantAndSkipsRemainingWork(t *testing.T) {
	tenants := &fakeTenants{tenants: []model.Tenant{{ClientID: "pilot_001", Active: true}}}
	loader := &fakeLoader{}
	marks := &fakeMarks{}
	clients := map[string]*fakeClient{"pilot_001": {
		docs: tenantDocs("pilot_001"),
		extractErr: map[model.EntityType]error{
			model.EntityAccount: &qbo.AuthError{ClientID: "pilot_001", Err: errors.New("invalid_grant")},
		},
	}}

	o := newTestOrchestrator(t, clients, loader, marks, tenants)
	summary, err := o.RunAll(context.Background())
	require.Error(t, err)

	assert.Equal(t, []string{"pilot_001"}, tenants.flagged)
	assert.Equal(t, []string{"pilot_001"}, summary.NeedsReconsent)

	// No fact table was loaded after the auth failure in the dimension stage.
	assert.NotContains(t, loader.order, "fact_invoice")
	for _, run := range summary.Runs {
		assert.Equal(t, StateFailed, run.State)
	}
}

func TestRunTenantRejectsFlaggedTenant(t *testing.T) {
	tenants := &fakeTenants{tenants: []model.Tenant{{ClientID: "pilot_001", NeedsReconsent: true}}}
	o := newTestOrchestrator(t, nil, &fakeLoader{}, &fakeMarks{}, tenants)

	_, err := o.RunTenant(context.Background(), "pilot_001")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "re-authorization")
}

func TestRunReportsReplaceSnapshots(t *testing.T) {
	tenants := &fakeTenants{tenants: []model.Tenant{{ClientID: "pilot_001", Active: true}}}
	loader := &fakeLoader{}
	marks := &fakeMarks{}
	clients := map[string]*fakeClient{"pilot_001": {docs: tenantDocs("pilot_001")}}

	o := newTestOrchestrator(t, clients, loader, marks, tenants)
	_, err := o.RunAll(context.Background())
	require.NoError(t, err)

	assert.Contains(t, loader.order, "report_profit_and_loss")
	assert.Contains(t, loader.order, "report_trial_balance")
}

func TestCancellationMidLoadLetsBatchFinish(t *testing.T) {
	tenants := &fakeTenants{tenants: []model.Tenant{{ClientID: "pilot_001", Active: true}}}
	marks := &fakeMarks{}
	clients := map[string]*fakeClient{"pilot_001": {docs: tenantDocs("pilot_001")}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loader := &fakeLoader{hook: func(table string) {
		if table == "fact_invoice" {
			cancel()
		}
	}}

	o := newTestOrchestrator(t, clients, loader, marks, tenants)
	summary, err := o.RunAll(ctx)
	require.Error(t, err)

	// The invoice batch was in flight when the context was canceled: its
	// header commit, line commit, and watermark all still land.
	require.Contains(t, loader.order, "fact_invoice")
	assert.Contains(t, loader.order, "fact_invoice_line")
	assert.True(t, marks.has("pilot_001", model.EntityInvoice))
	for _, run := range summary.Runs {
		if run.Entity == string(model.EntityInvoice) {
			assert.Equal(t, StateCompleted, run.State, run.FailReason)
		}
	}

	// Entities after the cancellation stop at their next stage boundary.
	assert.NotContains(t, loader.order, "fact_bill")
}

func TestCancellationAtStageBoundaryFailsRunBeforeLoad(t *testing.T) {
	tenants := &fakeTenants{tenants: []model.Tenant{{ClientID: "pilot_001", Active: true}}}
	loader := &fakeLoader{}
	marks := &fakeMarks{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clients := map[string]*fakeClient{"pilot_001": {
		docs:        tenantDocs("pilot_001"),
		exhaustHook: map[model.EntityType]func(){model.EntityAccount: cancel},
	}}

	o := newTestOrchestrator(t, clients, loader, marks, tenants)
	summary, err := o.RunAll(ctx)
	require.Error(t, err)

	// Cancellation landed before the transform checkpoint: nothing was
	// loaded and no watermark moved.
	assert.Empty(t, loader.order)
	assert.False(t, marks.has("pilot_001", model.EntityAccount))
	for _, run := range summary.Runs {
		if run.Entity == string(model.EntityAccount) {
			assert.Equal(t, StateFailed, run.State)
			assert.Contains(t, run.FailReason, "canceled before")
		}
	}
}

func TestBackfillReportsCoversEveryYear(t *testing.T) {
	tenants := &fakeTenants{tenants: []model.Tenant{{ClientID: "pilot_001", Active: true}}}
	loader := &fakeLoader{}
	marks := &fakeMarks{}
	client := &fakeClient{}
	clients := map[string]*fakeClient{"pilot_001": client}

	o := newTestOrchestrator(t, clients, loader, marks, tenants)
	summary, err := o.BackfillReports(context.Background(), "pilot_001", 2023, 2024)
	require.NoError(t, err)
	require.Len(t, summary.Runs, len(qbo.Reports))

	for _, run := range summary.Runs {
		assert.Equal(t, StateCompleted, run.State, run.FailReason)
		assert.Equal(t, 2, run.Extracted, "one fetch per year for %s", run.Entity)
	}
	assert.Contains(t, client.reportCalls, "ProfitAndLoss/2023")
	assert.Contains(t, client.reportCalls, "ProfitAndLoss/2024")
	assert.Contains(t, client.reportCalls, "TrialBalance/2024")
	assert.Len(t, client.reportCalls, 2*len(qbo.Reports))

	// One snapshot replace per report, covering the whole range at once.
	count := 0
	for _, table := range loader.order {
		if table == "report_balance_sheet" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestBackfillReportsRejectsBadInput(t *testing.T) {
	tenants := &fakeTenants{tenants: []model.Tenant{
		{ClientID: "pilot_001", NeedsReconsent: true},
		{ClientID: "pilot_002", Active: true},
	}}
	o := newTestOrchestrator(t, nil, &fakeLoader{}, &fakeMarks{}, tenants)

	_, err := o.BackfillReports(context.Background(), "pilot_001", 2023, 2024)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "re-authorization")

	_, err = o.BackfillReports(context.Background(), "pilot_002", 2025, 2023)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid backfill range")
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}
