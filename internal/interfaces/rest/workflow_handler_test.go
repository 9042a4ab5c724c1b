package rest_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/JongoDB/ems-cop-sub001/internal/application/services"
	"github.com/JongoDB/ems-cop-sub001/internal/domain/models"
	"github.com/JongoDB/ems-cop-sub001/internal/domain/ports"
	apperrors "github.com/JongoDB/ems-cop-sub001/pkg/errors"
)

func TestWorkflowHandler_Create(t *testing.T) {
	s := newTestServer()
	in := services.CreateDefinitionInput{
		Name:   "Change approval",
		Stages: []services.StageInput{{Name: "Review", Order: 1, Type: models.StageTypeApproval}},
	}
	created := &models.WorkflowDefinition{ID: "wf-1", Name: "Change approval", Version: 1}

	t.Run("Success", func(t *testing.T) {
		s.workflows.On("Create", mock.Anything, in, supervisor).Return(created, nil).Once()

		w := s.do(http.MethodPost, "/api/v1/workflows", in, supervisor)
		assert.Equal(t, http.StatusCreated, w.Code)
		body := decode(w)
		assert.Equal(t, "wf-1", body["workflow"].(map[string]interface{})["id"])
		s.workflows.AssertExpectations(t)
	})

	t.Run("Unauthenticated", func(t *testing.T) {
		w := s.do(http.MethodPost, "/api/v1/workflows", in, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "UNAUTHORIZED", decode(w)["code"])
	})

	t.Run("Validation error", func(t *testing.T) {
		bad := services.CreateDefinitionInput{Name: ""}
		s.workflows.On("Create", mock.Anything, bad, supervisor).
			Return(nil, apperrors.NewValidationError("name", "is required")).Once()

		w := s.do(http.MethodPost, "/api/v1/workflows", bad, supervisor)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		body := decode(w)
		assert.Equal(t, "VALIDATION_ERROR", body["code"])
		assert.Contains(t, body["message"], "name")
	})
}

func TestWorkflowHandler_List(t *testing.T) {
	s := newTestServer()
	yes := true
	s.workflows.On("List", mock.Anything, ports.DefinitionFilter{IsTemplate: &yes, Limit: 10, Offset: 20}).
		Return([]*models.WorkflowDefinition{{ID: "wf-1"}}, nil).Once()

	w := s.do(http.MethodGet, "/api/v1/workflows?is_template=true&limit=10&offset=20", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(w)["workflows"], 1)

	w = s.do(http.MethodGet, "/api/v1/workflows?limit=ten", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	s.workflows.AssertExpectations(t)
}

func TestWorkflowHandler_ErrorMapping(t *testing.T) {
	s := newTestServer()
	s.workflows.On("Get", mock.Anything, "missing").Return(nil, apperrors.NewNotFoundError("Workflow", "missing"))
	s.workflows.On("Delete", mock.Anything, "busy", supervisor).Return(apperrors.NewActiveRunsError("busy", 2))
	name := "renamed"
	s.workflows.On("Update", mock.Anything, "busy", services.UpdateDefinitionInput{Name: &name}, supervisor).
		Return(&models.WorkflowDefinition{ID: "busy", Name: name, Version: 2}, nil)

	w := s.do(http.MethodGet, "/api/v1/workflows/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", decode(w)["code"])

	w = s.do(http.MethodDelete, "/api/v1/workflows/busy", nil, supervisor)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "ACTIVE_RUNS", decode(w)["code"])

	w = s.do(http.MethodPatch, "/api/v1/workflows/busy", map[string]interface{}{"name": name}, supervisor)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decode(w)["workflow"].(map[string]interface{})["version"])
}

func TestWorkflowHandler_Clone(t *testing.T) {
	s := newTestServer()
	s.workflows.On("Clone", mock.Anything, "wf-1", supervisor).
		Return(&models.WorkflowDefinition{ID: "wf-2", Name: "Change approval (Copy)"}, nil).Once()

	w := s.do(http.MethodPost, "/api/v1/workflows/wf-1/clone", nil, supervisor)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "Change approval (Copy)", decode(w)["workflow"].(map[string]interface{})["name"])
	s.workflows.AssertExpectations(t)
}

func TestHealth(t *testing.T) {
	s := newTestServer()
	w := s.do(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(w)["status"])
}
