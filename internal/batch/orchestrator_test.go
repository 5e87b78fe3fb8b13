package batch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/casaflow/utility-recon/internal/domain/entity"
	"github.com/casaflow/utility-recon/internal/portal"
	"github.com/casaflow/utility-recon/internal/report"
)

// --- in-memory stores ---

type memSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*entity.ProcessingSession
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{sessions: make(map[string]*entity.ProcessingSession)}
}

func (s *memSessionStore) Create(tx *sql.Tx, session *entity.ProcessingSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	stored := *session
	s.sessions[session.ID] = &stored
	return nil
}

func (s *memSessionStore) UpdateStatus(id, status string, completedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("session not found: %s", id)
	}
	session.Status = status
	if completedAt != nil {
		session.CompletedAt = completedAt
	}
	return nil
}

func (s *memSessionStore) UpdateCounters(session *entity.ProcessingSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.sessions[session.ID]
	if !ok {
		return fmt.Errorf("session not found: %s", session.ID)
	}
	stored.TotalProperties = session.TotalProperties
	stored.SuccessfulProperties = session.SuccessfulProperties
	stored.FailedProperties = session.FailedProperties
	stored.TotalCost = session.TotalCost
	stored.TotalOveruse = session.TotalOveruse
	return nil
}

func (s *memSessionStore) get(id string) entity.ProcessingSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.sessions[id]
}

type memResultStore struct {
	mu      sync.Mutex
	results map[string]*entity.PropertyResult
}

func newMemResultStore() *memResultStore {
	return &memResultStore{results: make(map[string]*entity.PropertyResult)}
}

func (s *memResultStore) Create(tx *sql.Tx, result *entity.PropertyResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if result.ID == "" {
		result.ID = uuid.NewString()
	}
	stored := *result
	s.results[result.ID] = &stored
	return nil
}

func (s *memResultStore) Update(tx *sql.Tx, result *entity.PropertyResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *result
	s.results[result.ID] = &stored
	return nil
}

func (s *memResultStore) byProperty(name string) entity.PropertyResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.results {
		if r.PropertyName == name {
			return *r
		}
	}
	return entity.PropertyResult{}
}

type memInvoiceStore struct {
	mu       sync.Mutex
	invoices []entity.Invoice
}

func (s *memInvoiceStore) CreateBatch(tx *sql.Tx, invoices []entity.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invoices = append(s.invoices, invoices...)
	return nil
}

func (s *memInvoiceStore) byResult(resultID string) []entity.Invoice {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entity.Invoice
	for _, inv := range s.invoices {
		if inv.PropertyResultID == resultID {
			out = append(out, inv)
		}
	}
	return out
}

type memFileStore struct {
	mu    sync.Mutex
	saved []string
	err   error
}

func (s *memFileStore) Save(ctx context.Context, propertyName, invoiceNumber string, data []byte) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", false, s.err
	}
	key := propertyName + "/" + invoiceNumber
	s.saved = append(s.saved, key)
	return key, true, nil
}

// --- scripted portal ---

type scriptedPortal struct {
	mu          sync.Mutex
	loginErr    error
	rowsByName  map[string][]portal.RawInvoiceRow
	searchErrs  map[string]error
	downloadErr error
	logins      int

	// When set, SearchProperty signals searchEntered and then blocks until
	// searchGate is closed or the context is done, like a slow portal page.
	searchEntered chan struct{}
	searchGate    chan struct{}
}

func (p *scriptedPortal) Login(ctx context.Context) (*portal.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logins++
	if p.loginErr != nil {
		return nil, p.loginErr
	}
	return &portal.Session{Token: "tok", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (p *scriptedPortal) SetDateRange(ctx context.Context, sess *portal.Session, start, end time.Time) error {
	return nil
}

func (p *scriptedPortal) SearchProperty(ctx context.Context, sess *portal.Session, name string) ([]portal.RawInvoiceRow, error) {
	if p.searchEntered != nil {
		p.searchEntered <- struct{}{}
	}
	if p.searchGate != nil {
		select {
		case <-p.searchGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.searchErrs[name]; ok {
		return nil, err
	}
	rows, ok := p.rowsByName[name]
	if !ok {
		return nil, portal.ErrEmptyResult
	}
	return rows, nil
}

func (p *scriptedPortal) DownloadInvoiceFile(ctx context.Context, sess *portal.Session, ref portal.InvoiceRef) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.downloadErr != nil {
		return nil, p.downloadErr
	}
	return []byte("%PDF-1.4 " + ref.InvoiceNumber), nil
}

func (p *scriptedPortal) Close() error { return nil }

type scriptedFactory struct {
	client *scriptedPortal
}

func (f *scriptedFactory) NewClient() (portal.Client, error) { return f.client, nil }

// --- helpers ---

func testWindow() entity.Window {
	start, _ := time.Parse("2006-01-02", "2025-05-01")
	end, _ := time.Parse("2006-01-02", "2025-06-30")
	return entity.Window{Start: start, End: end}
}

func electricityRow(ref, total, dl string) portal.RawInvoiceRow {
	return portal.RawInvoiceRow{
		InvoiceReference: ref,
		Service:          "electricity",
		Total:            total,
		InitialDate:      "2025-06-01",
		FinalDate:        "2025-06-30",
		IssueDate:        "2025-07-01",
		DownloadRef:      dl,
	}
}

func waterRow(ref, total, dl string) portal.RawInvoiceRow {
	return portal.RawInvoiceRow{
		InvoiceReference: ref,
		Service:          "agua",
		Total:            total,
		InitialDate:      "2025-05-01",
		FinalDate:        "2025-06-30",
		IssueDate:        "2025-07-01",
		DownloadRef:      dl,
	}
}

type fixture struct {
	sessions *memSessionStore
	results  *memResultStore
	invoices *memInvoiceStore
	files    *memFileStore
	portal   *scriptedPortal
	orch     *Orchestrator
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	f := &fixture{
		sessions: newMemSessionStore(),
		results:  newMemResultStore(),
		invoices: &memInvoiceStore{},
		files:    &memFileStore{},
		portal:   &scriptedPortal{rowsByName: map[string][]portal.RawInvoiceRow{}},
	}

	fetcher := report.NewFetcher(report.RetryPolicy{
		MaxAttempts: 2,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  time.Millisecond,
	}, zap.NewNop())

	f.orch = NewOrchestrator(
		&scriptedFactory{client: f.portal},
		fetcher,
		f.sessions, f.results, f.invoices, f.files,
		cfg,
		zap.NewNop(),
	)
	return f
}

func properties(names ...string) []*entity.Property {
	props := make([]*entity.Property, 0, len(names))
	for _, name := range names {
		props = append(props, &entity.Property{
			ID:        uuid.NewString(),
			Name:      name,
			RoomCount: 1,
		})
	}
	return props
}

// --- tests ---

func TestRun_LoginFailureLeavesSlotsPending(t *testing.T) {
	f := newFixture(t, Config{Workers: 2})
	f.portal.loginErr = &portal.AuthenticationError{Cause: errors.New("bad credentials")}

	props := properties("A", "B", "C")
	session, err := f.orch.Run(context.Background(), "", testWindow(), props)

	require.Error(t, err)
	assert.True(t, portal.IsAuthenticationError(err))
	require.NotNil(t, session)

	stored := f.sessions.get(session.ID)
	assert.Equal(t, entity.StatusFailed, stored.Status)
	assert.Equal(t, 0, stored.SuccessfulProperties)
	require.NotNil(t, stored.CompletedAt)

	for _, name := range []string{"A", "B", "C"} {
		slot := f.results.byProperty(name)
		assert.Equal(t, entity.StatusPending, slot.Status, "slot %s", name)
	}
}

func TestRun_ProcessesAllProperties(t *testing.T) {
	f := newFixture(t, Config{Workers: 2})
	f.portal.rowsByName["A"] = []portal.RawInvoiceRow{
		electricityRow("A-E1", "80,00 €", "dl/a-e1"),
		waterRow("A-W1", "40,00 €", "dl/a-w1"),
	}
	f.portal.rowsByName["B"] = []portal.RawInvoiceRow{
		electricityRow("B-E1", "30,00 €", "dl/b-e1"),
	}

	session, err := f.orch.Run(context.Background(), "june", testWindow(), properties("A", "B"))
	require.NoError(t, err)

	stored := f.sessions.get(session.ID)
	assert.Equal(t, entity.StatusCompleted, stored.Status)
	assert.Equal(t, 2, stored.SuccessfulProperties)
	assert.Equal(t, 0, stored.FailedProperties)

	// A: 120 total against allowance 50 → 70 overuse. B: 30 total, none.
	assert.InDelta(t, 150.00, stored.TotalCost, 0.001)
	assert.InDelta(t, 70.00, stored.TotalOveruse, 0.001)

	slotA := f.results.byProperty("A")
	assert.Equal(t, entity.StatusCompleted, slotA.Status)
	assert.InDelta(t, 120.00, slotA.TotalCost, 0.001)
	assert.InDelta(t, 70.00, slotA.Overuse, 0.001)
	assert.Equal(t, 2, slotA.SelectedInvoicesCount)
	assert.Equal(t, 2, slotA.DownloadedFilesCount)
	assert.NotEmpty(t, slotA.Reasoning)

	persisted := f.invoices.byResult(slotA.ID)
	assert.Len(t, persisted, 2)
	for _, inv := range persisted {
		assert.True(t, inv.IsSelected)
		assert.True(t, inv.IsDownloaded)
		assert.NotEmpty(t, inv.FilePath)
	}
}

func TestRun_PropertyFailureIsIsolated(t *testing.T) {
	f := newFixture(t, Config{Workers: 1})
	f.portal.rowsByName["OK"] = []portal.RawInvoiceRow{
		electricityRow("E-1", "30,00", "dl/e1"),
	}
	// "MISSING" has no rows scripted, the portal reports an empty result.

	session, err := f.orch.Run(context.Background(), "", testWindow(), properties("OK", "MISSING"))
	require.NoError(t, err)

	stored := f.sessions.get(session.ID)
	assert.Equal(t, entity.StatusCompleted, stored.Status)
	assert.Equal(t, 1, stored.SuccessfulProperties)
	assert.Equal(t, 1, stored.FailedProperties)

	failed := f.results.byProperty("MISSING")
	assert.Equal(t, entity.StatusFailed, failed.Status)
	assert.Contains(t, failed.ErrorMessage, "MISSING")

	ok := f.results.byProperty("OK")
	assert.Equal(t, entity.StatusCompleted, ok.Status)
}

func TestRun_InsufficientDataStillCompletes(t *testing.T) {
	f := newFixture(t, Config{Workers: 1})
	f.portal.rowsByName["A"] = []portal.RawInvoiceRow{
		electricityRow("E-only", "47,50", "dl/e"),
	}

	session, err := f.orch.Run(context.Background(), "", testWindow(), properties("A"))
	require.NoError(t, err)

	stored := f.sessions.get(session.ID)
	assert.Equal(t, 1, stored.SuccessfulProperties)

	slot := f.results.byProperty("A")
	assert.Equal(t, entity.StatusCompleted, slot.Status)
	assert.Equal(t, 1, slot.SelectedInvoicesCount)
	assert.Contains(t, slot.Reasoning, "insufficient data")
}

func TestRun_DownloadFailureIsNonFatal(t *testing.T) {
	f := newFixture(t, Config{Workers: 1})
	f.portal.rowsByName["A"] = []portal.RawInvoiceRow{
		electricityRow("E-1", "60,00", "dl/e1"),
	}
	f.portal.downloadErr = &portal.DownloadError{InvoiceNumber: "E-1", Cause: errors.New("410 gone")}

	session, err := f.orch.Run(context.Background(), "", testWindow(), properties("A"))
	require.NoError(t, err)

	stored := f.sessions.get(session.ID)
	assert.Equal(t, 1, stored.SuccessfulProperties)

	slot := f.results.byProperty("A")
	assert.Equal(t, entity.StatusCompleted, slot.Status)
	assert.Equal(t, 1, slot.SelectedInvoicesCount)
	assert.Equal(t, 0, slot.DownloadedFilesCount)
	assert.Contains(t, slot.Reasoning, "download of E-1 failed")
}

func TestRun_CancellationLetsInFlightPropertyFinish(t *testing.T) {
	f := newFixture(t, Config{Workers: 1})
	f.portal.rowsByName["A"] = []portal.RawInvoiceRow{
		electricityRow("E-1", "30,00", "dl/e1"),
	}
	f.portal.rowsByName["B"] = []portal.RawInvoiceRow{
		electricityRow("E-2", "30,00", "dl/e2"),
	}
	f.portal.searchEntered = make(chan struct{}, 4)
	gate := make(chan struct{})
	f.portal.searchGate = gate

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type runResult struct {
		session *entity.ProcessingSession
		err     error
	}
	done := make(chan runResult, 1)
	go func() {
		session, err := f.orch.Run(ctx, "", testWindow(), properties("A", "B"))
		done <- runResult{session, err}
	}()

	// Cancel while the first property's search is still on screen, then let
	// the portal respond.
	<-f.portal.searchEntered
	cancel()
	close(gate)

	res := <-done
	require.NoError(t, res.err)

	// The property already in flight ran its steps to completion.
	slotA := f.results.byProperty("A")
	assert.Equal(t, entity.StatusCompleted, slotA.Status)

	// The property that had not started was never picked up.
	slotB := f.results.byProperty("B")
	assert.Equal(t, entity.StatusPending, slotB.Status)

	stored := f.sessions.get(res.session.ID)
	assert.Equal(t, 1, stored.SuccessfulProperties)
	assert.Equal(t, 0, stored.FailedProperties)
}

func TestRun_NilFileStoreSkipsDownloads(t *testing.T) {
	f := newFixture(t, Config{Workers: 1})
	f.portal.rowsByName["A"] = []portal.RawInvoiceRow{
		electricityRow("E-1", "60,00", "dl/e1"),
	}

	fetcher := report.NewFetcher(report.RetryPolicy{MaxAttempts: 1, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond}, zap.NewNop())
	orch := NewOrchestrator(
		&scriptedFactory{client: f.portal}, fetcher,
		f.sessions, f.results, f.invoices, nil,
		Config{Workers: 1}, zap.NewNop(),
	)

	_, err := orch.Run(context.Background(), "", testWindow(), properties("A"))
	require.NoError(t, err)

	slot := f.results.byProperty("A")
	assert.Equal(t, entity.StatusCompleted, slot.Status)
	assert.Equal(t, 0, slot.DownloadedFilesCount)
}
