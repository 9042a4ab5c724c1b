package rest

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/JongoDB/ems-cop-sub001/internal/domain/models"
	"github.com/JongoDB/ems-cop-sub001/internal/interfaces/middleware"
	apperrors "github.com/JongoDB/ems-cop-sub001/pkg/errors"
)

// Response envelope keys
const (
	FieldMessage = "message"
	KeyWorkflow  = "workflow"
	KeyWorkflows = "workflows"
	KeyRun       = "run"
	KeyRuns      = "runs"
	KeyHistory   = "history"
)

// RespondAppError sends {code, message} with the error's HTTP status
func RespondAppError(c *gin.Context, err error) {
	status := apperrors.GetHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		zap.L().Error("request failed",
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
	}
	_ = c.Error(err)
	c.JSON(status, apperrors.ToResponse(err))
}

// BindJSON binds JSON and returns true if successful. If failed, it sends bad request error.
func BindJSON(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		RespondAppError(c, apperrors.NewValidationError("body", err.Error()))
		return false
	}
	return true
}

// Caller returns the caller attached by the identity middleware
func Caller(c *gin.Context) *models.Caller {
	return middleware.CallerFrom(c)
}

// queryInt parses an optional integer query parameter
func queryInt(c *gin.Context, name string) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		RespondAppError(c, apperrors.NewValidationError(name, "must be a non-negative integer"))
		return 0, false
	}
	return n, true
}

// queryBool parses an optional boolean query parameter; nil when absent
func queryBool(c *gin.Context, name string) (*bool, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		RespondAppError(c, apperrors.NewValidationError(name, "must be a boolean"))
		return nil, false
	}
	return &b, true
}

// HandleGetEnvelope executes a read action and returns the result wrapped in a JSON key
func HandleGetEnvelope(c *gin.Context, key string, action func() (interface{}, error)) {
	result, err := action()
	if err != nil {
		RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{key: result})
}
