package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cognicore/consult/pkg/consult"
	"github.com/cognicore/consult/pkg/consult/inference"
	"github.com/cognicore/consult/pkg/consult/internalerr"
)

// Handlers serves the consultation API over a Consult instance.
type Handlers struct {
	consult *consult.Consult
	logger  *zap.Logger
}

// NewHandlers creates the handlers. A nil logger disables logging.
func NewHandlers(c *consult.Consult, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{consult: c, logger: logger}
}

// getOrCreateRequestID propagates X-Request-ID, minting one when absent.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}

func (h *Handlers) requestLogger(c *gin.Context, handler string) (*zap.Logger, string) {
	requestID := getOrCreateRequestID(c)
	return h.logger.With(zap.String("request_id", requestID), zap.String("handler", handler)), requestID
}

// writeError maps sentinel errors onto HTTP status codes.
func writeError(c *gin.Context, logger *zap.Logger, requestID string, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case errors.Is(err, internalerr.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, internalerr.ErrInvalidInput), errors.Is(err, internalerr.ErrInvalidConfig):
		status, code = http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, internalerr.ErrStoreUnavailable):
		status, code = http.StatusServiceUnavailable, "STORE_UNAVAILABLE"
	}

	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.Error(err))
	} else {
		logger.Warn("request rejected", zap.Error(err), zap.Int("status", status))
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code, RequestID: requestID})
}

func badRequest(c *gin.Context, logger *zap.Logger, requestID string, err error) {
	logger.Warn("invalid request body", zap.Error(err))
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:     "invalid request body: " + err.Error(),
		Code:      "INVALID_REQUEST",
		RequestID: requestID,
	})
}

// HandleStart handles POST /v1/consultations.
//
// Response:
//
//	201 Created: StartResponse
//	400 Bad Request: missing domain, or the domain has no rules
func (h *Handlers) HandleStart(c *gin.Context) {
	logger, requestID := h.requestLogger(c, "HandleStart")

	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, logger, requestID, err)
		return
	}

	id, res, err := h.consult.Start(c.Request.Context(), req.Domain)
	if err != nil {
		writeError(c, logger, requestID, err)
		return
	}
	c.JSON(http.StatusCreated, StartResponse{SessionID: id, Result: res})
}

// HandleAnswer handles POST /v1/consultations/:id/answer.
func (h *Handlers) HandleAnswer(c *gin.Context) {
	logger, requestID := h.requestLogger(c, "HandleAnswer")
	id := c.Param("id")

	var req AnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, logger, requestID, err)
		return
	}

	res, err := h.consult.Answer(c.Request.Context(), id, req.Fact, req.Answer)
	if err != nil {
		writeError(c, logger.With(zap.String("session", id)), requestID, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// HandleBack handles POST /v1/consultations/:id/back.
func (h *Handlers) HandleBack(c *gin.Context) {
	logger, requestID := h.requestLogger(c, "HandleBack")
	res, err := h.consult.Back(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, logger, requestID, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// HandleVisualization handles GET /v1/consultations/:id/visualization.
func (h *Handlers) HandleVisualization(c *gin.Context) {
	logger, requestID := h.requestLogger(c, "HandleVisualization")
	vis, err := h.consult.Visualize(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, logger, requestID, err)
		return
	}
	c.JSON(http.StatusOK, vis)
}

// HandleExplain handles GET /v1/consultations/:id/explain?fact=X.
func (h *Handlers) HandleExplain(c *gin.Context) {
	logger, requestID := h.requestLogger(c, "HandleExplain")
	fact := c.Query("fact")
	if fact == "" {
		writeError(c, logger, requestID, fmt.Errorf("%w: fact query parameter is required", internalerr.ErrInvalidInput))
		return
	}
	steps, err := h.consult.Explain(c.Request.Context(), c.Param("id"), fact)
	if err != nil {
		writeError(c, logger, requestID, err)
		return
	}
	if steps == nil {
		steps = []inference.Step{}
	}
	c.JSON(http.StatusOK, ExplainResponse{Fact: fact, Steps: steps})
}

// HandleEnd handles DELETE /v1/consultations/:id.
func (h *Handlers) HandleEnd(c *gin.Context) {
	logger, requestID := h.requestLogger(c, "HandleEnd")
	if err := h.consult.End(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, logger, requestID, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleDomains handles GET /v1/domains.
func (h *Handlers) HandleDomains(c *gin.Context) {
	logger, requestID := h.requestLogger(c, "HandleDomains")
	domains, err := h.consult.Domains(c.Request.Context())
	if err != nil {
		writeError(c, logger, requestID, err)
		return
	}
	c.JSON(http.StatusOK, DomainsResponse{Domains: domains})
}

// HandleValidation handles GET /v1/domains/:domain/validation. It returns
// the last stored report without re-running the analysis.
//
// Response:
//
//	200 OK: validate.Report
//	404 Not Found: the domain was never validated
func (h *Handlers) HandleValidation(c *gin.Context) {
	logger, requestID := h.requestLogger(c, "HandleValidation")
	rep, err := h.consult.LatestValidation(c.Request.Context(), c.Param("domain"))
	if err != nil {
		writeError(c, logger, requestID, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

// HandleValidate handles POST /v1/domains/:domain/validation. It analyzes
// the domain's current rules and stores the report.
func (h *Handlers) HandleValidate(c *gin.Context) {
	logger, requestID := h.requestLogger(c, "HandleValidate")
	rep, err := h.consult.Validate(c.Request.Context(), c.Param("domain"))
	if err != nil {
		writeError(c, logger, requestID, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

// HandleReload handles POST /v1/domains/:domain/reload.
func (h *Handlers) HandleReload(c *gin.Context) {
	logger, _ := h.requestLogger(c, "HandleReload")
	domain := c.Param("domain")
	h.consult.Reload(domain)
	logger.Info("domain catalog dropped", zap.String("domain", domain))
	c.Status(http.StatusNoContent)
}

// HandleHealth handles GET /healthz.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy"})
}
