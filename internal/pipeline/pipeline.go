package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/archive"
	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/config"
	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/logger"
	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/metrics"
	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/model"
	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/qbo"
	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/token"
	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/transform"
	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/warehouse"
)

// DocumentSource yields raw documents for one entity until exhausted.
type DocumentSource interface {
	Next(ctx context.Context) (model.RawDocument, bool, error)
}

// Client is the per-tenant extraction surface the orchestrator drives.
type Client interface {
	Extract(entity model.EntityType, since time.Time) DocumentSource
	FetchReport(ctx context.Context, spec qbo.ReportSpec, start, end time.Time) (map[string]any, error)
}

// ClientFactory builds a Client bound to one tenant.
type ClientFactory func(tenant model.Tenant) Client

// Loader writes mapped rows into the warehouse.
type Loader interface {
	Upsert(ctx context.Context, table warehouse.Table, rows []transform.Row) (warehouse.Counts, error)
	ReplaceReport(ctx context.Context, table, clientID string, rows []transform.Row) (int, error)
}

// Watermarks tracks incremental-extraction cursors.
type Watermarks interface {
	Get(ctx context.Context, clientID string, entity model.EntityType) (time.Time, error)
	Set(ctx context.Context, clientID string, entity model.EntityType, since time.Time) error
}

// Tenants is the tenant registry surface the orchestrator needs.
type Tenants interface {
	Active(ctx context.Context) ([]model.Tenant, error)
	Get(ctx context.Context, clientID string) (model.Tenant, error)
	FlagReconsent(ctx context.Context, clientID string) error
}

// Orchestrator runs the ETL per tenant: dimensions, then fact headers and
// lines, then reports. Tenants run concurrently and fail independently;
// within a tenant every failure is isolated to its (tenant, entity) run.
type Orchestrator struct {
	cfg      config.PipelineConfig
	clients  ClientFactory
	loader   Loader
	marks    Watermarks
	tenants  Tenants
	archiver archive.Archiver
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

// New wires an Orchestrator and validates the warehouse table registry and
// the mappers against it, so a mis-declared schema fails before any tenant
// work starts.
func New(cfg config.PipelineConfig, clients ClientFactory, loader Loader, marks Watermarks, tenants Tenants, archiver archive.Archiver, m *metrics.Metrics, log zerolog.Logger) (*Orchestrator, error) {
	if err := warehouse.Validate(); err != nil {
		return nil, fmt.Errorf("table registry: %w", err)
	}
	if err := checkMappings(); err != nil {
		return nil, fmt.Errorf("schema contract: %w", err)
	}
	if archiver == nil {
		archiver = archive.Noop{}
	}
	return &Orchestrator{
		cfg:      cfg,
		clients:  clients,
		loader:   loader,
		marks:    marks,
		tenants:  tenants,
		archiver: archiver,
		metrics:  m,
		log:      log,
	}, nil
}

// RunAll processes every eligible tenant. The returned error is nil when all
// runs completed, or *PartialTenantFailure listing the runs that did not.
func (o *Orchestrator) RunAll(ctx context.Context) (*Summary, error) {
	tenants, err := o.tenants.Active(ctx)
	if err != nil {
		return nil, err
	}
	return o.run(ctx, tenants)
}

// RunTenant processes a single tenant by client ID.
func (o *Orchestrator) RunTenant(ctx context.Context, clientID string) (*Summary, error) {
	tenant, err := o.tenants.Get(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("look up tenant %s: %w", clientID, err)
	}
	if tenant.NeedsReconsent {
		return nil, fmt.Errorf("tenant %s needs re-authorization", clientID)
	}
	return o.run(ctx, []model.Tenant{tenant})
}

func (o *Orchestrator) run(ctx context.Context, tenants []model.Tenant) (*Summary, error) {
	summary := &Summary{Started: time.Now()}
	var mu sync.Mutex

	limit := o.cfg.TenantConcurrency
	if limit <= 0 {
		limit = 1
	}
	g := &errgroup.Group{}
	g.SetLimit(limit)

	for _, tenant := range tenants {
		tenant := tenant
		g.Go(func() error {
			runs, reconsent := o.runTenant(ctx, tenant)
			mu.Lock()
			summary.Runs = append(summary.Runs, runs...)
			if reconsent {
				summary.NeedsReconsent = append(summary.NeedsReconsent, tenant.ClientID)
			}
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	summary.Finished = time.Now()
	if failed := summary.Failed(); len(failed) > 0 {
		return summary, &PartialTenantFailure{Failed: failed}
	}
	return summary, nil
}

// runTenant executes the tenant's full load: the dimension stage must finish
// before the fact stage starts, and reports come last. An authentication
// failure aborts the remainder of the tenant and flags it for re-consent.
func (o *Orchestrator) runTenant(ctx context.Context, tenant model.Tenant) ([]*Run, bool) {
	log := o.log.With().Str("client_id", tenant.ClientID).Logger()
	ctx = logger.WithContext(ctx, log)
	log.Info().Msg("tenant run starting")

	client := o.clients(tenant)

	var dims, facts []warehouse.EntityPlan
	for _, plan := range warehouse.Plans {
		if plan.Dimension {
			dims = append(dims, plan)
		} else {
			facts = append(facts, plan)
		}
	}

	var authFailed atomic.Bool
	runs := o.runStage(ctx, client, tenant, dims, &authFailed)
	if !authFailed.Load() {
		runs = append(runs, o.runStage(ctx, client, tenant, facts, &authFailed)...)
	}
	if !authFailed.Load() {
		runs = append(runs, o.runReports(ctx, client, tenant)...)
	}

	if authFailed.Load() {
		if err := o.tenants.FlagReconsent(context.WithoutCancel(ctx), tenant.ClientID); err != nil {
			log.Error().Err(err).Msg("failed to flag tenant for re-consent")
		}
		log.Warn().Msg("tenant flagged for re-authorization, remaining work skipped")
	}

	log.Info().Int("runs", len(runs)).Msg("tenant run finished")
	return runs, authFailed.Load()
}

// runStage processes one batch of entity plans with bounded concurrency.
func (o *Orchestrator) runStage(ctx context.Context, client Client, tenant model.Tenant, plans []warehouse.EntityPlan, authFailed *atomic.Bool) []*Run {
	runs := make([]*Run, len(plans))

	limit := o.cfg.EntityConcurrency
	if limit <= 0 {
		limit = 1
	}
	g := &errgroup.Group{}
	g.SetLimit(limit)

	for i, plan := range plans {
		i, plan := i, plan
		g.Go(func() error {
			if authFailed.Load() {
				run := newRun(tenant.ClientID, string(plan.Entity))
				run.fail("skipped: tenant needs re-authorization")
				runs[i] = run
				return nil
			}
			run := o.runEntity(ctx, client, tenant, plan)
			if run.authError {
				authFailed.Store(true)
			}
			runs[i] = run
			return nil
		})
	}
	g.Wait()
	return runs
}

// runEntity is one (tenant, entity) unit: extract, transform, load, advance
// the watermark. Any error fails this run only.
func (o *Orchestrator) runEntity(ctx context.Context, client Client, tenant model.Tenant, plan warehouse.EntityPlan) (run *Run) {
	run = newRun(tenant.ClientID, string(plan.Entity))
	log := logger.FromContext(ctx).With().Str("entity", string(plan.Entity)).Logger()

	defer func() {
		if o.metrics != nil {
			o.metrics.RunsTotal.WithLabelValues(run.ClientID, run.Entity, string(run.State)).Inc()
			o.metrics.RunDuration.WithLabelValues(run.ClientID, run.Entity).Observe(time.Since(run.Started).Seconds())
		}
	}()

	since, err := o.marks.Get(ctx, tenant.ClientID, plan.Entity)
	if err != nil {
		run.fail(fmt.Sprintf("read watermark: %v", err))
		return run
	}

	// The next watermark is the moment extraction began, so records updated
	// mid-run are re-extracted next time.
	extractionStart := time.Now().UTC()

	// Extract.
	if err := o.checkpoint(ctx, run, StateExtracting); err != nil {
		return run
	}
	docs, err := drain(ctx, client.Extract(plan.Entity, since))
	if err != nil {
		run.markAuth(err)
		run.fail(err.Error())
		return run
	}
	run.Extracted = len(docs)
	if o.metrics != nil {
		o.metrics.DocsExtracted.WithLabelValues(run.ClientID, run.Entity).Add(float64(len(docs)))
	}
	if len(docs) == 0 {
		// Nothing changed since the watermark; complete without touching the
		// warehouse but still advance the cursor.
		if err := o.checkpoint(ctx, run, StateTransforming); err != nil {
			return run
		}
		if err := o.checkpoint(ctx, run, StateLoading); err != nil {
			return run
		}
		o.finish(ctx, run, tenant, plan.Entity, extractionStart)
		return run
	}

	o.archiveDocs(ctx, tenant.ClientID, string(plan.Entity), docs, log)

	// Transform.
	if err := o.checkpoint(ctx, run, StateTransforming); err != nil {
		return run
	}
	headers, lines, skipped := o.transformDocs(docs, plan, log)
	run.Mapped = len(headers) + len(lines)
	run.Skipped = skipped

	// Load. The in-flight transactions run to completion even when the
	// surrounding context is canceled; cancellation lands at stage
	// boundaries.
	if err := o.checkpoint(ctx, run, StateLoading); err != nil {
		return run
	}
	loadCtx := context.WithoutCancel(ctx)

	table := warehouse.Tables[plan.Table]
	counts, err := o.loader.Upsert(loadCtx, table, headers)
	if err != nil {
		run.fail(err.Error())
		return run
	}
	run.Loaded += counts.Inserted + counts.Updated
	if o.metrics != nil {
		o.metrics.RecordLoad(run.ClientID, table.Name, counts.Inserted, counts.Updated, counts.Unchanged)
	}

	if plan.LineTable != "" && len(lines) > 0 {
		lineTable := warehouse.Tables[plan.LineTable]
		lineCounts, err := o.loader.Upsert(loadCtx, lineTable, lines)
		if err != nil {
			run.fail(err.Error())
			return run
		}
		run.Loaded += lineCounts.Inserted + lineCounts.Updated
		if o.metrics != nil {
			o.metrics.RecordLoad(run.ClientID, lineTable.Name, lineCounts.Inserted, lineCounts.Updated, lineCounts.Unchanged)
		}
	}

	if err := o.finish(loadCtx, run, tenant, plan.Entity, extractionStart); err != nil {
		return run
	}

	log.Info().
		Int("extracted", run.Extracted).
		Int("loaded", run.Loaded).
		Int("skipped", run.Skipped).
		Msg("entity run completed")
	return run
}

// transformDocs maps headers, flattens lines, and deduplicates both.
func (o *Orchestrator) transformDocs(docs []model.RawDocument, plan warehouse.EntityPlan, log zerolog.Logger) (headers, lines []transform.Row, skipped int) {
	for _, doc := range docs {
		header, err := transform.MapHeader(doc)
		if err != nil {
			var verr *transform.SchemaValidationError
			if errors.As(err, &verr) {
				skipped++
				log.Warn().Str("doc_id", doc.ID).Str("field", verr.Field).Msg("document failed validation, skipped")
				if o.metrics != nil {
					o.metrics.RowsSkipped.WithLabelValues(doc.ClientID, string(doc.Entity), "validation").Inc()
				}
				continue
			}
			skipped++
			continue
		}
		headers = append(headers, header)

		if plan.LineTable == "" {
			continue
		}
		docLines, notes := transform.FlattenLines(doc)
		lines = append(lines, docLines...)
		for _, note := range notes {
			log.Debug().Str("doc_id", note.DocID).Str("line_id", note.LineID).Str("reason", note.Reason).Msg("line dropped")
			if o.metrics != nil {
				o.metrics.RowsSkipped.WithLabelValues(doc.ClientID, string(doc.Entity), "flatten").Inc()
			}
		}
		skipped += len(notes)
	}

	headers = transform.Deduplicate(headers, warehouse.Tables[plan.Table].KeyColumns)
	if plan.LineTable != "" {
		lines = transform.Deduplicate(lines, warehouse.Tables[plan.LineTable].KeyColumns)
	}
	return headers, lines, skipped
}

// markAuth flags the run when the error means the tenant's credential is
// beyond recovery.
func (r *Run) markAuth(err error) {
	var authErr *qbo.AuthError
	if errors.As(err, &authErr) || errors.Is(err, token.ErrReconsentRequired) {
		r.authError = true
	}
}

// runReports pulls every report endpoint and replaces the tenant's snapshot
// tables. Each report fails independently.
func (o *Orchestrator) runReports(ctx context.Context, client Client, tenant model.Tenant) []*Run {
	runs := make([]*Run, 0, len(qbo.Reports))
	for _, spec := range qbo.Reports {
		runs = append(runs, o.runReport(ctx, client, tenant, spec))
	}
	return runs
}

func (o *Orchestrator) runReport(ctx context.Context, client Client, tenant model.Tenant, spec qbo.ReportSpec) (run *Run) {
	run = newRun(tenant.ClientID, spec.Name)
	log := logger.FromContext(ctx).With().Str("report", spec.Name).Logger()

	defer func() {
		if o.metrics != nil {
			o.metrics.RunsTotal.WithLabelValues(run.ClientID, run.Entity, string(run.State)).Inc()
			o.metrics.RunDuration.WithLabelValues(run.ClientID, run.Entity).Observe(time.Since(run.Started).Seconds())
		}
	}()

	if err := o.checkpoint(ctx, run, StateExtracting); err != nil {
		return run
	}
	report, err := client.FetchReport(ctx, spec, time.Time{}, time.Time{})
	if err != nil {
		run.markAuth(err)
		run.fail(err.Error())
		return run
	}
	run.Extracted = 1

	if payload, err := json.Marshal(report); err == nil {
		o.archiveRaw(ctx, tenant.ClientID, "report_"+spec.Name, payload, log)
	}

	if err := o.checkpoint(ctx, run, StateTransforming); err != nil {
		return run
	}
	rows := transform.FlattenReport(tenant.ClientID, report)
	run.Mapped = len(rows)

	if err := o.checkpoint(ctx, run, StateLoading); err != nil {
		return run
	}
	n, err := o.loader.ReplaceReport(context.WithoutCancel(ctx), warehouse.ReportTable(spec.Name), tenant.ClientID, rows)
	if err != nil {
		run.fail(err.Error())
		return run
	}
	run.Loaded = n
	o.checkpoint(ctx, run, StateCompleted)
	return run
}

// checkpoint advances the run's state, failing it instead when the context
// was canceled at the stage boundary.
func (o *Orchestrator) checkpoint(ctx context.Context, run *Run, to State) error {
	if err := ctx.Err(); err != nil {
		run.fail(fmt.Sprintf("canceled before %s: %v", to, err))
		return err
	}
	if err := run.advance(to); err != nil {
		run.fail(err.Error())
		return err
	}
	return nil
}

// finish commits the watermark and completes the run.
func (o *Orchestrator) finish(ctx context.Context, run *Run, tenant model.Tenant, entity model.EntityType, extractionStart time.Time) error {
	if err := o.marks.Set(ctx, tenant.ClientID, entity, extractionStart); err != nil {
		run.fail(fmt.Sprintf("advance watermark: %v", err))
		return err
	}
	if err := run.advance(StateCompleted); err != nil {
		run.fail(err.Error())
		return err
	}
	return nil
}

// archiveDocs stores the raw page set for one entity as a single JSON array.
func (o *Orchestrator) archiveDocs(ctx context.Context, clientID, source string, docs []model.RawDocument, log zerolog.Logger) {
	raws := make([]json.RawMessage, len(docs))
	for i, doc := range docs {
		raws[i] = doc.Raw
	}
	payload, err := json.Marshal(raws)
	if err != nil {
		log.Error().Err(err).Str("source", source).Msg("marshal archive payload")
		return
	}
	o.archiveRaw(ctx, clientID, source, payload, log)
}

// archiveRaw writes one payload; archive failures are logged, never fatal.
func (o *Orchestrator) archiveRaw(ctx context.Context, clientID, source string, payload []byte, log zerolog.Logger) {
	if _, err := o.archiver.Archive(ctx, clientID, source, payload); err != nil {
		log.Error().Err(err).Str("source", source).Msg("raw archive write failed")
	}
}

// drain consumes a document source to completion.
func drain(ctx context.Context, source DocumentSource) ([]model.RawDocument, error) {
	var docs []model.RawDocument
	for {
		doc, ok, err := source.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return docs, nil
		}
		docs = append(docs, doc)
	}
}
