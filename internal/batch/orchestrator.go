// Package batch runs one reconciliation session end to end: probe login,
// per-property extraction, selection, allowance math, document download and
// persistence, over a bounded worker pool.
package batch

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/casaflow/utility-recon/internal/allowance"
	"github.com/casaflow/utility-recon/internal/domain/entity"
	"github.com/casaflow/utility-recon/internal/portal"
	"github.com/casaflow/utility-recon/internal/report"
	"github.com/casaflow/utility-recon/internal/selection"
)

// SessionStore persists processing sessions.
type SessionStore interface {
	Create(tx *sql.Tx, session *entity.ProcessingSession) error
	UpdateStatus(id, status string, completedAt *time.Time) error
	UpdateCounters(session *entity.ProcessingSession) error
}

// ResultStore persists per-property result slots.
type ResultStore interface {
	Create(tx *sql.Tx, result *entity.PropertyResult) error
	Update(tx *sql.Tx, result *entity.PropertyResult) error
}

// InvoiceStore persists fetched invoice rows.
type InvoiceStore interface {
	CreateBatch(tx *sql.Tx, invoices []entity.Invoice) error
}

// FileStore saves downloaded invoice documents. A nil FileStore disables the
// download step; selection and allowance math still run.
type FileStore interface {
	Save(ctx context.Context, propertyName, invoiceNumber string, data []byte) (key string, uploaded bool, err error)
}

// Config tunes one orchestrator instance.
type Config struct {
	Workers    int
	Targets    selection.Targets
	RoomLimits entity.RoomLimits
}

// Orchestrator coordinates a session over a bounded worker pool. Each worker
// owns its own portal client; the orchestrator owns the session record and
// the aggregate counters.
type Orchestrator struct {
	factory  portal.Factory
	fetcher  *report.Fetcher
	sessions SessionStore
	results  ResultStore
	invoices InvoiceStore
	files    FileStore
	cfg      Config
	logger   *zap.Logger
}

// NewOrchestrator creates an orchestrator. Zero config fields fall back to
// defaults: 5 workers, standard targets and room tiers.
func NewOrchestrator(
	factory portal.Factory,
	fetcher *report.Fetcher,
	sessions SessionStore,
	results ResultStore,
	invoices InvoiceStore,
	files FileStore,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 5
	}
	if len(cfg.Targets) == 0 {
		cfg.Targets = selection.DefaultTargets()
	}
	if len(cfg.RoomLimits) == 0 {
		cfg.RoomLimits = entity.DefaultRoomLimits()
	}

	return &Orchestrator{
		factory:  factory,
		fetcher:  fetcher,
		sessions: sessions,
		results:  results,
		invoices: invoices,
		files:    files,
		cfg:      cfg,
		logger:   logger,
	}
}

// job pairs a property with its pre-created result slot.
type job struct {
	property *entity.Property
	slot     *entity.PropertyResult
}

// outcome is what a worker reports back per finished property.
type outcome struct {
	succeeded bool
	totalCost float64
	overuse   float64
}

// Run executes one full session over the given properties. The returned
// session reflects the final persisted state.
//
// Failure semantics: a login failure marks the session failed and leaves
// every result slot pending; any other per-property failure marks only that
// slot failed and the batch continues.
func (o *Orchestrator) Run(ctx context.Context, sessionName string, window entity.Window, properties []*entity.Property) (*entity.ProcessingSession, error) {
	session, slots, err := o.Prepare(sessionName, window, properties)
	if err != nil {
		return nil, err
	}
	return o.Execute(ctx, session, slots, properties)
}

// Prepare creates the session record plus one pending result slot per
// property. Callers that need the session ID before the run finishes (the
// async API entry point) call Prepare and then Execute themselves.
func (o *Orchestrator) Prepare(sessionName string, window entity.Window, properties []*entity.Property) (*entity.ProcessingSession, []*entity.PropertyResult, error) {
	session := &entity.ProcessingSession{
		SessionName:     sessionName,
		StartDate:       window.Start,
		EndDate:         window.End,
		Status:          entity.StatusPending,
		TotalProperties: len(properties),
	}
	if err := o.sessions.Create(nil, session); err != nil {
		return nil, nil, err
	}

	slots := make([]*entity.PropertyResult, len(properties))
	for i, property := range properties {
		slot := &entity.PropertyResult{
			SessionID:    session.ID,
			PropertyID:   property.ID,
			PropertyName: property.Name,
			RoomCount:    property.RoomCount,
			Status:       entity.StatusPending,
		}
		if err := o.results.Create(nil, slot); err != nil {
			return nil, nil, err
		}
		slots[i] = slot
	}

	o.logger.Info("Session created",
		zap.String("session_id", session.ID),
		zap.String("window", window.String()),
		zap.Int("properties", len(properties)))

	return session, slots, nil
}

// Execute processes a prepared session to completion.
func (o *Orchestrator) Execute(ctx context.Context, session *entity.ProcessingSession, slots []*entity.PropertyResult, properties []*entity.Property) (*entity.ProcessingSession, error) {
	window := session.Window()

	// Probe login before dispatching any work. Authentication gates every
	// property, so a failure here fails the whole session and every slot
	// stays pending.
	if err := o.probeLogin(ctx); err != nil {
		o.failSession(session, err)
		return session, err
	}

	session.Status = entity.StatusProcessing
	if err := o.sessions.UpdateStatus(session.ID, entity.StatusProcessing, nil); err != nil {
		return session, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan job)
	outcomes := make(chan outcome, len(properties))

	var fatalOnce sync.Once
	var fatalErr error
	abort := func(err error) {
		fatalOnce.Do(func() {
			fatalErr = err
			cancel()
		})
	}

	workers := o.cfg.Workers
	if workers > len(properties) && len(properties) > 0 {
		workers = len(properties)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			o.runWorker(runCtx, id, window, jobs, outcomes, abort)
		}(i)
	}

	for i := range properties {
		select {
		case jobs <- job{property: properties[i], slot: slots[i]}:
		case <-runCtx.Done():
		}
	}
	close(jobs)
	wg.Wait()
	close(outcomes)

	if fatalErr != nil {
		o.failSession(session, fatalErr)
		return session, fatalErr
	}

	for out := range outcomes {
		if out.succeeded {
			session.SuccessfulProperties++
		} else {
			session.FailedProperties++
		}
		session.TotalCost += out.totalCost
		session.TotalOveruse += out.overuse
	}

	session.Status = entity.StatusCompleted
	now := time.Now()
	session.CompletedAt = &now

	if err := o.sessions.UpdateCounters(session); err != nil {
		return session, err
	}
	if err := o.sessions.UpdateStatus(session.ID, entity.StatusCompleted, &now); err != nil {
		return session, err
	}

	o.logger.Info("Session completed",
		zap.String("session_id", session.ID),
		zap.Int("successful", session.SuccessfulProperties),
		zap.Int("failed", session.FailedProperties),
		zap.Float64("total_cost", session.TotalCost),
		zap.Float64("total_overuse", session.TotalOveruse))

	return session, nil
}

// probeLogin verifies the shared credentials once before any worker starts.
func (o *Orchestrator) probeLogin(ctx context.Context) error {
	client, err := o.factory.NewClient()
	if err != nil {
		return &portal.AuthenticationError{Cause: err}
	}
	defer client.Close()

	if _, err := client.Login(ctx); err != nil {
		return err
	}
	return nil
}

// runWorker owns one portal client for its lifetime and processes jobs until
// the channel drains or the run is aborted.
func (o *Orchestrator) runWorker(ctx context.Context, id int, window entity.Window, jobs <-chan job, outcomes chan<- outcome, abort func(error)) {
	logger := o.logger.With(zap.Int("worker", id))

	client, err := o.factory.NewClient()
	if err != nil {
		abort(&portal.AuthenticationError{Cause: err})
		return
	}
	defer client.Close()

	sess, err := client.Login(ctx)
	if err != nil {
		// The probe login succeeded moments ago, so a failure here means the
		// shared account itself went bad. That is batch-fatal.
		logger.Error("Worker login failed", zap.Error(err))
		abort(err)
		return
	}

	// Cancellation is honored between jobs only. A property already in
	// flight runs its portal steps to completion so the client session is
	// never abandoned mid-sequence; each step stays bounded by its own
	// action timeout.
	stepCtx := context.WithoutCancel(ctx)

	for j := range jobs {
		if ctx.Err() != nil {
			return
		}
		if err := o.processProperty(stepCtx, logger, client, sess, window, j, outcomes); err != nil {
			abort(err)
			return
		}
	}
}

// processProperty runs one property through fetch, selection, allowance
// math, download and persistence. Only authentication errors are returned;
// everything else is absorbed into the result slot.
func (o *Orchestrator) processProperty(ctx context.Context, logger *zap.Logger, client portal.Client, sess *portal.Session, window entity.Window, j job, outcomes chan<- outcome) error {
	slot := j.slot
	property := j.property

	slot.Status = entity.StatusProcessing
	if err := o.results.Update(nil, slot); err != nil {
		logger.Error("Failed to mark result processing",
			zap.String("property", property.Name),
			zap.Error(err))
	}

	fetched, err := o.fetcher.Fetch(ctx, client, sess, property, window)
	if err != nil {
		if portal.IsAuthenticationError(err) {
			return err
		}
		o.failSlot(logger, slot, err)
		outcomes <- outcome{succeeded: false}
		return nil
	}

	selected := selection.Select(fetched.Invoices, window, o.cfg.Targets)
	breakdown := allowance.Compute(property, o.cfg.RoomLimits, selected.Selected)

	downloaded, downloadNotes := o.downloadSelected(ctx, logger, client, sess, property, selected, fetched.DownloadRefs)

	for i := range selected.Invoices {
		selected.Invoices[i].PropertyResultID = slot.ID
	}
	if err := o.invoices.CreateBatch(nil, selected.Invoices); err != nil {
		logger.Error("Failed to persist invoices",
			zap.String("property", property.Name),
			zap.Error(err))
		downloadNotes = append(downloadNotes, fmt.Sprintf("invoice persistence failed: %v", err))
	}

	slot.Allowance = breakdown.Allowance
	slot.ElectricityCost = breakdown.ElectricityCost
	slot.WaterCost = breakdown.WaterCost
	slot.GasCost = breakdown.GasCost
	slot.TotalCost = breakdown.TotalCost
	slot.Overuse = breakdown.Overuse
	slot.SelectedInvoicesCount = len(selected.Selected)
	slot.DownloadedFilesCount = downloaded
	slot.Reasoning = joinReasoning(fetched.Notes, selected.Reasoning, downloadNotes)
	slot.Status = entity.StatusCompleted
	slot.ErrorMessage = ""

	if err := o.results.Update(nil, slot); err != nil {
		logger.Error("Failed to persist result",
			zap.String("property", property.Name),
			zap.Error(err))
		outcomes <- outcome{succeeded: false}
		return nil
	}

	logger.Info("Property processed",
		zap.String("property", property.Name),
		zap.Int("selected", slot.SelectedInvoicesCount),
		zap.Int("downloaded", downloaded),
		zap.Float64("total_cost", breakdown.TotalCost),
		zap.Float64("overuse", breakdown.Overuse))

	outcomes <- outcome{
		succeeded: true,
		totalCost: breakdown.TotalCost,
		overuse:   breakdown.Overuse,
	}
	return nil
}

// downloadSelected fetches and stores the document for every selected
// invoice. Download and storage failures are non-fatal; the shortfall shows
// in downloaded_files_count and the notes.
func (o *Orchestrator) downloadSelected(ctx context.Context, logger *zap.Logger, client portal.Client, sess *portal.Session, property *entity.Property, selected selection.Result, refs map[string]string) (int, []string) {
	if o.files == nil {
		return 0, nil
	}

	var notes []string
	downloaded := 0

	for i := range selected.Invoices {
		inv := &selected.Invoices[i]
		if !inv.IsSelected {
			continue
		}

		ref, ok := refs[inv.InvoiceNumber]
		if !ok {
			notes = append(notes, fmt.Sprintf("invoice %s has no download handle", inv.InvoiceNumber))
			continue
		}

		data, err := client.DownloadInvoiceFile(ctx, sess, portal.InvoiceRef{
			InvoiceNumber: inv.InvoiceNumber,
			DownloadRef:   ref,
		})
		if err != nil {
			logger.Warn("Invoice download failed",
				zap.String("property", property.Name),
				zap.String("invoice", inv.InvoiceNumber),
				zap.Error(err))
			notes = append(notes, fmt.Sprintf("download of %s failed: %v", inv.InvoiceNumber, err))
			continue
		}

		key, _, err := o.files.Save(ctx, property.Name, inv.InvoiceNumber, data)
		if err != nil {
			logger.Warn("Invoice storage failed",
				zap.String("property", property.Name),
				zap.String("invoice", inv.InvoiceNumber),
				zap.Error(err))
			notes = append(notes, fmt.Sprintf("storage of %s failed: %v", inv.InvoiceNumber, err))
			continue
		}

		inv.IsDownloaded = true
		inv.FilePath = key
		inv.FileSize = int64(len(data))
		downloaded++
	}

	return downloaded, notes
}

func (o *Orchestrator) failSlot(logger *zap.Logger, slot *entity.PropertyResult, cause error) {
	slot.Status = entity.StatusFailed
	slot.ErrorMessage = cause.Error()

	logger.Warn("Property failed",
		zap.String("property", slot.PropertyName),
		zap.Error(cause))

	if err := o.results.Update(nil, slot); err != nil {
		logger.Error("Failed to persist failed result",
			zap.String("property", slot.PropertyName),
			zap.Error(err))
	}
}

func (o *Orchestrator) failSession(session *entity.ProcessingSession, cause error) {
	session.Status = entity.StatusFailed
	now := time.Now()
	session.CompletedAt = &now

	o.logger.Error("Session failed",
		zap.String("session_id", session.ID),
		zap.Error(cause))

	if err := o.sessions.UpdateStatus(session.ID, entity.StatusFailed, &now); err != nil {
		o.logger.Error("Failed to persist session failure",
			zap.String("session_id", session.ID),
			zap.Error(err))
	}
}

func joinReasoning(fetchNotes []string, selectionReasoning string, downloadNotes []string) string {
	parts := make([]string, 0, len(fetchNotes)+len(downloadNotes)+1)
	if selectionReasoning != "" {
		parts = append(parts, selectionReasoning)
	}
	parts = append(parts, fetchNotes...)
	parts = append(parts, downloadNotes...)
	return strings.Join(parts, "; ")
}
