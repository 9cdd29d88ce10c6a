package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/aescanero/evalpipe/internal/application/evaluation"
	"github.com/aescanero/evalpipe/pkg/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CancelResponse acknowledges a cancellation request
type CancelResponse struct {
	EvaluationID string           `json:"evaluation_id"`
	State        evaluation.State `json:"state"`
	CancelledAt  time.Time        `json:"cancelled_at"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"checks": gin.H{
			"evaluation": string(s.evaluation.Status().State),
		},
	})
}

// handleGetEvaluation returns the status of the evaluation
func (s *Server) handleGetEvaluation(c *gin.Context) {
	c.JSON(http.StatusOK, s.evaluation.Status())
}

// handleCancelEvaluation requests cancellation. A finished evaluation cannot
// be cancelled.
func (s *Server) handleCancelEvaluation(c *gin.Context) {
	status := s.evaluation.Status()
	if status.State != evaluation.StateCreated && status.State != evaluation.StateRunning {
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: ErrorDetail{
				Code:    "NOT_RUNNING",
				Message: "evaluation is " + string(status.State),
			},
		})
		return
	}

	if err := s.evaluation.Cancel(); err != nil && !errors.Is(err, domain.ErrCancelled) {
		s.logger.Error("failed to cancel evaluation", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: ErrorDetail{
				Code:    "CANCELLATION_FAILED",
				Message: err.Error(),
			},
		})
		return
	}

	s.logger.Info("evaluation cancelled through the API", zap.String("evaluation_id", status.ID))
	c.JSON(http.StatusAccepted, CancelResponse{
		EvaluationID: status.ID,
		State:        s.evaluation.Status().State,
		CancelledAt:  time.Now().UTC(),
	})
}
