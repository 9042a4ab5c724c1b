package services

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JongoDB/ems-cop-sub001/internal/domain/events"
	"github.com/JongoDB/ems-cop-sub001/internal/domain/models"
	"github.com/JongoDB/ems-cop-sub001/internal/domain/ports"
	apperrors "github.com/JongoDB/ems-cop-sub001/pkg/errors"
	"github.com/JongoDB/ems-cop-sub001/pkg/expression"
)

// memStore is an in-memory DefinitionStore, RunStore, TicketGateway and Transactor
type memStore struct {
	mu sync.Mutex

	defs        map[string]*models.WorkflowDefinition
	defOrder    []string
	stages      map[string][]*models.Stage
	transitions map[string][]*models.Transition
	runs        map[string]*models.Run
	history     []*models.HistoryEntry
	tickets     map[string]*models.Ticket
	operations  map[string]string

	getStagesCalls int
}

var (
	_ ports.DefinitionStore = (*memStore)(nil)
	_ ports.RunStore        = (*memStore)(nil)
	_ ports.TicketGateway   = (*memStore)(nil)
	_ ports.Transactor      = (*memStore)(nil)
)

func newMemStore() *memStore {
	return &memStore{
		defs:        map[string]*models.WorkflowDefinition{},
		stages:      map[string][]*models.Stage{},
		transitions: map[string][]*models.Transition{},
		runs:        map[string]*models.Run{},
		tickets:     map[string]*models.Ticket{},
		operations:  map[string]string{},
	}
}

type memTxKey struct{}

func (m *memStore) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.InTransaction(ctx) {
		return fn(ctx)
	}
	return fn(context.WithValue(ctx, memTxKey{}, true))
}

func (m *memStore) InTransaction(ctx context.Context) bool {
	v, _ := ctx.Value(memTxKey{}).(bool)
	return v
}

// definitions

func (m *memStore) InsertDefinition(_ context.Context, def *models.WorkflowDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *def
	cp.Stages, cp.Transitions = nil, nil
	m.defs[def.ID] = &cp
	m.defOrder = append(m.defOrder, def.ID)
	return nil
}

func (m *memStore) UpdateDefinition(_ context.Context, def *models.WorkflowDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.defs[def.ID]; !ok {
		return apperrors.NewNotFoundError("Workflow", def.ID)
	}
	cp := *def
	cp.Stages, cp.Transitions = nil, nil
	m.defs[def.ID] = &cp
	return nil
}

func (m *memStore) DeleteDefinition(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.defs, id)
	return nil
}

func (m *memStore) GetDefinition(_ context.Context, id string) (*models.WorkflowDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	def, ok := m.defs[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("Workflow", id)
	}
	cp := *def
	return &cp, nil
}

func (m *memStore) ListDefinitions(_ context.Context, filter ports.DefinitionFilter) ([]*models.WorkflowDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.WorkflowDefinition
	for _, id := range m.defOrder {
		def, ok := m.defs[id]
		if !ok {
			continue
		}
		if filter.IsTemplate != nil && def.IsTemplate != *filter.IsTemplate {
			continue
		}
		cp := *def
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStore) GetDefaultDefinition(_ context.Context) (*models.WorkflowDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, def := range m.defs {
		if def.IsDefault {
			cp := *def
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) ClearDefault(_ context.Context, exceptID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, def := range m.defs {
		if id != exceptID {
			def.IsDefault = false
		}
	}
	return nil
}

func (m *memStore) InsertStages(_ context.Context, stages []*models.Stage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range stages {
		cp := *s
		m.stages[s.WorkflowID] = append(m.stages[s.WorkflowID], &cp)
	}
	return nil
}

func (m *memStore) InsertTransitions(_ context.Context, transitions []*models.Transition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range transitions {
		cp := *t
		m.transitions[t.WorkflowID] = append(m.transitions[t.WorkflowID], &cp)
	}
	return nil
}

func (m *memStore) DeleteGraph(_ context.Context, workflowID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stages, workflowID)
	delete(m.transitions, workflowID)
	return nil
}

func (m *memStore) GetStages(_ context.Context, workflowID string) ([]*models.Stage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getStagesCalls++
	out := append([]*models.Stage(nil), m.stages[workflowID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (m *memStore) GetTransitions(_ context.Context, workflowID string) ([]*models.Transition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.Transition(nil), m.transitions[workflowID]...), nil
}

// runs

func cloneRun(r *models.Run) *models.Run {
	cp := *r
	cp.Context = copyMap(r.Context)
	return &cp
}

func (m *memStore) InsertRun(_ context.Context, run *models.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = cloneRun(run)
	return nil
}

func (m *memStore) UpdateRun(_ context.Context, run *models.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.runs[run.ID]
	if !ok || stored.Version != run.Version {
		return apperrors.NewConflictError("Run", run.ID, "")
	}
	run.Version++
	m.runs[run.ID] = cloneRun(run)
	return nil
}

func (m *memStore) GetRun(_ context.Context, id string) (*models.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("Run", id)
	}
	return cloneRun(run), nil
}

func (m *memStore) ListRuns(_ context.Context, filter ports.RunFilter) ([]*models.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Run
	for _, r := range m.runs {
		if filter.WorkflowID != "" && r.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		if filter.TicketID != "" && (r.TicketID == nil || *r.TicketID != filter.TicketID) {
			continue
		}
		out = append(out, cloneRun(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (m *memStore) CountActiveRuns(_ context.Context, workflowID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.runs {
		if r.WorkflowID == workflowID && r.Status == models.RunStatusActive {
			n++
		}
	}
	return n, nil
}

func (m *memStore) ListActiveRunsAtStageType(_ context.Context, stageType models.StageType) ([]*models.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Run
	for _, r := range m.runs {
		if r.Status != models.RunStatusActive || r.CurrentStageID == nil {
			continue
		}
		for _, s := range m.stages[r.WorkflowID] {
			if s.ID == *r.CurrentStageID && s.Type == stageType {
				out = append(out, cloneRun(r))
			}
		}
	}
	return out, nil
}

func (m *memStore) DeleteRunsForWorkflow(_ context.Context, workflowID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.runs {
		if r.WorkflowID != workflowID {
			continue
		}
		delete(m.runs, id)
		kept := m.history[:0]
		for _, h := range m.history {
			if h.RunID != id {
				kept = append(kept, h)
			}
		}
		m.history = kept
	}
	return nil
}

func (m *memStore) AppendHistory(_ context.Context, entry *models.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *entry
	m.history = append(m.history, &cp)
	return nil
}

func (m *memStore) ListHistory(_ context.Context, runID string) ([]*models.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.HistoryEntry
	for _, h := range m.history {
		if h.RunID == runID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *memStore) ListStageHistory(ctx context.Context, runID, stageID string) ([]*models.HistoryEntry, error) {
	all, _ := m.ListHistory(ctx, runID)
	var out []*models.HistoryEntry
	for _, h := range all {
		if h.StageID != nil && *h.StageID == stageID {
			out = append(out, h)
		}
	}
	return out, nil
}

// tickets

func (m *memStore) GetTicket(_ context.Context, id string) (*models.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("Ticket", id)
	}
	cp := *t
	return &cp, nil
}

func (m *memStore) LinkRun(_ context.Context, ticketID, runID string, stageID *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[ticketID]
	if !ok {
		return apperrors.NewNotFoundError("Ticket", ticketID)
	}
	t.RunID = &runID
	_ = stageID
	return nil
}

func (m *memStore) SetStage(_ context.Context, ticketID string, _ *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tickets[ticketID]; !ok {
		return apperrors.NewNotFoundError("Ticket", ticketID)
	}
	return nil
}

func (m *memStore) SetStatus(_ context.Context, ticketID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[ticketID]
	if !ok {
		return apperrors.NewNotFoundError("Ticket", ticketID)
	}
	t.Status = status
	return nil
}

func (m *memStore) DetachWorkflow(_ context.Context, workflowID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tickets {
		if t.RunID == nil {
			continue
		}
		if r, ok := m.runs[*t.RunID]; ok && r.WorkflowID == workflowID {
			t.RunID = nil
		}
	}
	return nil
}

func (m *memStore) OperationWorkflowID(_ context.Context, operationID string) (*string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if wf, ok := m.operations[operationID]; ok {
		return &wf, nil
	}
	return nil, nil
}

func (m *memStore) ticketStatus(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tickets[id].Status
}

func (m *memStore) actions(runID string) []models.Action {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Action
	for _, h := range m.history {
		if h.RunID == runID {
			out = append(out, h.Action)
		}
	}
	return out
}

// recorder captures published events in order
type recorder struct {
	mu     sync.Mutex
	events []EventType
	loads  []interface{}
}

func (r *recorder) attach(bus *EventBus) {
	for _, et := range events.Outbound {
		et := et
		bus.Subscribe(et, func(_ context.Context, payload interface{}) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, et)
			r.loads = append(r.loads, payload)
			return nil
		})
	}
}

func (r *recorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]EventType(nil), r.events...)
}

func (r *recorder) count(et EventType) int {
	n := 0
	for _, t := range r.types() {
		if t == et {
			n++
		}
	}
	return n
}

type fixture struct {
	store   *memStore
	bus     *EventBus
	events  *recorder
	defs    *DefinitionService
	engine  *RunEngine
	escal   *EscalationService
	tickets *TicketListener
	clock   *fakeClock
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newFixture(t *testing.T, maxHops int) *fixture {
	t.Helper()
	store := newMemStore()
	bus := NewEventBus(zap.NewNop())
	rec := &recorder{}
	rec.attach(bus)
	clock := &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	eval := expression.NewEvaluator()

	defs := NewDefinitionService(store, store, store, store, bus, NewGraphCache(time.Minute), eval, zap.NewNop())
	defs.now = clock.Now
	engine := NewRunEngine(defs, store, store, store, bus, NewRunLocker(), eval, zap.NewNop(), RunEngineOptions{
		SuperRole:   "admin",
		MaxAutoHops: maxHops,
		Now:         clock.Now,
	})
	return &fixture{
		store:   store,
		bus:     bus,
		events:  rec,
		defs:    defs,
		engine:  engine,
		escal:   NewEscalationService(engine, time.Second, zap.NewNop()),
		tickets: NewTicketListener(engine, defs, store, zap.NewNop()),
		clock:   clock,
	}
}

func (f *fixture) createWorkflow(t *testing.T, in CreateDefinitionInput) *models.WorkflowDefinition {
	t.Helper()
	if in.Name == "" {
		in.Name = "Test workflow"
	}
	def, err := f.defs.Create(context.Background(), in, &models.Caller{ID: "author"})
	require.NoError(t, err)
	return def
}

func (f *fixture) addTicket(id string, opID *string, risk *int) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	f.store.tickets[id] = &models.Ticket{ID: id, Status: models.TicketStatusSubmitted, TicketType: "change", OperationID: opID, RiskLevel: risk}
}

func stageNamed(def *models.WorkflowDefinition, name string) *models.Stage {
	for _, s := range def.Stages {
		if s.Name == name {
			return s
		}
	}
	return nil
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

var (
	supervisor = &models.Caller{ID: "sup-1", Roles: []string{"supervisor"}}
	operator   = &models.Caller{ID: "op-1", Roles: []string{"operator"}}
	superUser  = &models.Caller{ID: "root-1", Roles: []string{"admin"}}
)
