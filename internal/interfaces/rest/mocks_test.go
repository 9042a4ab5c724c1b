package rest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/mock"

	"github.com/JongoDB/ems-cop-sub001/internal/application/services"
	"github.com/JongoDB/ems-cop-sub001/internal/domain/models"
	"github.com/JongoDB/ems-cop-sub001/internal/domain/ports"
	"github.com/JongoDB/ems-cop-sub001/internal/interfaces/middleware"
	"github.com/JongoDB/ems-cop-sub001/internal/interfaces/rest"
)

// MockWorkflowService is a mock implementation of rest.WorkflowService
type MockWorkflowService struct {
	mock.Mock
}

func (m *MockWorkflowService) Create(ctx context.Context, in services.CreateDefinitionInput, caller *models.Caller) (*models.WorkflowDefinition, error) {
	args := m.Called(ctx, in, caller)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.WorkflowDefinition), args.Error(1)
}

func (m *MockWorkflowService) Update(ctx context.Context, id string, in services.UpdateDefinitionInput, caller *models.Caller) (*models.WorkflowDefinition, error) {
	args := m.Called(ctx, id, in, caller)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.WorkflowDefinition), args.Error(1)
}

func (m *MockWorkflowService) Delete(ctx context.Context, id string, caller *models.Caller) error {
	return m.Called(ctx, id, caller).Error(0)
}

func (m *MockWorkflowService) Clone(ctx context.Context, id string, caller *models.Caller) (*models.WorkflowDefinition, error) {
	args := m.Called(ctx, id, caller)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.WorkflowDefinition), args.Error(1)
}

func (m *MockWorkflowService) Get(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.WorkflowDefinition), args.Error(1)
}

func (m *MockWorkflowService) List(ctx context.Context, filter ports.DefinitionFilter) ([]*models.WorkflowDefinition, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.WorkflowDefinition), args.Error(1)
}

// MockRunService is a mock implementation of rest.RunService
type MockRunService struct {
	mock.Mock
}

func (m *MockRunService) Start(ctx context.Context, in services.StartRunInput, caller *models.Caller) (*models.RunView, error) {
	args := m.Called(ctx, in, caller)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RunView), args.Error(1)
}

func (m *MockRunService) Action(ctx context.Context, runID string, in services.ActionInput, caller *models.Caller) (*models.RunView, error) {
	args := m.Called(ctx, runID, in, caller)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RunView), args.Error(1)
}

func (m *MockRunService) Abort(ctx context.Context, runID string, comment *string, caller *models.Caller) (*models.RunView, error) {
	args := m.Called(ctx, runID, comment, caller)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RunView), args.Error(1)
}

func (m *MockRunService) UpdateContext(ctx context.Context, runID string, patch map[string]interface{}) (*models.RunView, error) {
	args := m.Called(ctx, runID, patch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RunView), args.Error(1)
}

func (m *MockRunService) Get(ctx context.Context, runID string) (*models.RunView, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RunView), args.Error(1)
}

func (m *MockRunService) List(ctx context.Context, filter ports.RunFilter) ([]*models.RunView, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.RunView), args.Error(1)
}

func (m *MockRunService) History(ctx context.Context, runID string) ([]*models.HistoryEntry, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.HistoryEntry), args.Error(1)
}

type testServer struct {
	router    *gin.Engine
	workflows *MockWorkflowService
	runs      *MockRunService
	bus       *services.EventBus
}

func newTestServer() *testServer {
	gin.SetMode(gin.TestMode)
	s := &testServer{
		workflows: new(MockWorkflowService),
		runs:      new(MockRunService),
		bus:       services.NewEventBus(nil),
	}
	s.router = rest.NewRouter(rest.RouterConfig{Workflows: s.workflows, Runs: s.runs, Bus: s.bus})
	return s
}

// do sends a request; a non-nil caller is sent as identity headers
func (s *testServer) do(method, path string, body interface{}, caller *models.Caller) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if caller != nil {
		req.Header.Set(middleware.HeaderUserID, caller.ID)
		req.Header.Set(middleware.HeaderUserRoles, strings.Join(caller.Roles, ","))
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(w *httptest.ResponseRecorder) map[string]interface{} {
	var out map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return out
}

var supervisor = &models.Caller{ID: "sup-1", Roles: []string{"supervisor"}}
