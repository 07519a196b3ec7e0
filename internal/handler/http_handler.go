package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/pesio-ai/be-docflow/internal/auth"
	"github.com/pesio-ai/be-docflow/internal/errors"
	"github.com/pesio-ai/be-docflow/internal/logger"
	"github.com/pesio-ai/be-docflow/internal/repository"
	"github.com/pesio-ai/be-docflow/internal/service"
)

// HTTPHandler serves the REST API.
type HTTPHandler struct {
	documents *service.DocumentService
	workflows *service.WorkflowService
	log       *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(documents *service.DocumentService, workflows *service.WorkflowService, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{documents: documents, workflows: workflows, log: log}
}

// Register mounts the routes. Everything under /api/v1 requires an identity.
func (h *HTTPHandler) Register(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	api := e.Group("/api/v1", auth.EchoMiddleware())

	docs := api.Group("/documents")
	docs.POST("", h.SubmitDocument)
	docs.GET("", h.ListAll)
	docs.GET("/my", h.ListMyDocuments)
	docs.GET("/pending", h.ListForApprover)
	docs.GET("/stats", h.GetStats)
	docs.GET("/history", h.ApprovalHistory)
	docs.GET("/:id", h.GetDocument)
	docs.GET("/:id/capabilities", h.Capabilities)
	docs.PUT("/:id/assign", h.AssignToSelf)
	docs.PUT("/:id/status", h.ApplyAction)

	wfs := api.Group("/workflows")
	wfs.GET("", h.ListWorkflows)
	wfs.PUT("", h.SaveWorkflow)
	wfs.GET("/:id", h.GetWorkflow)
}

type response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Count   *int   `json:"count,omitempty"`
	Message string `json:"message,omitempty"`
}

func ok(c echo.Context, status int, data any) error {
	return c.JSON(status, response{Success: true, Data: data})
}

func okList[T any](c echo.Context, items []T) error {
	if items == nil {
		items = []T{}
	}
	n := len(items)
	return c.JSON(http.StatusOK, response{Success: true, Data: items, Count: &n})
}

// Health handles liveness probes.
func (h *HTTPHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// ── Documents ─────────────────────────────────────────────────────────────────

type submitRequest struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	DocumentType string `json:"documentType"`
	FileRef      string `json:"fileRef"`
	FileName     string `json:"fileName"`
	FileType     string `json:"fileType"`
	FileSize     int64  `json:"fileSize"`
}

// SubmitDocument handles POST /api/v1/documents. Students only.
func (h *HTTPHandler) SubmitDocument(c echo.Context) error {
	actor := actorOf(c)
	if actor.Role != repository.RoleStudent {
		return h.fail(c, errors.Forbidden("only students can submit documents"))
	}

	var req submitRequest
	if err := c.Bind(&req); err != nil {
		return h.fail(c, errors.InvalidInput("body", "invalid request body"))
	}

	doc, err := h.documents.SubmitDocument(c.Request().Context(), service.Submission{
		StudentID:    actor.ID,
		Title:        req.Title,
		Description:  req.Description,
		DocumentType: repository.DocumentType(req.DocumentType),
		FileMeta: repository.FileMeta{
			FileRef:  req.FileRef,
			FileName: req.FileName,
			FileType: req.FileType,
			FileSize: req.FileSize,
		},
	})
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusCreated, doc)
}

// GetDocument handles GET /api/v1/documents/:id.
func (h *HTTPHandler) GetDocument(c echo.Context) error {
	doc, err := h.documents.GetDocument(c.Request().Context(), c.Param("id"), actorOf(c))
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusOK, doc)
}

// Capabilities handles GET /api/v1/documents/:id/capabilities.
func (h *HTTPHandler) Capabilities(c echo.Context) error {
	caps, err := h.documents.Capabilities(c.Request().Context(), c.Param("id"), actorOf(c))
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusOK, caps)
}

// ListMyDocuments handles GET /api/v1/documents/my.
func (h *HTTPHandler) ListMyDocuments(c echo.Context) error {
	docs, err := h.documents.ListMyDocuments(c.Request().Context(), actorOf(c))
	if err != nil {
		return h.fail(c, err)
	}
	return okList(c, docs)
}

// ListForApprover handles GET /api/v1/documents/pending.
func (h *HTTPHandler) ListForApprover(c echo.Context) error {
	docs, err := h.documents.ListForApprover(c.Request().Context(), actorOf(c))
	if err != nil {
		return h.fail(c, err)
	}
	return okList(c, docs)
}

// ListAll handles GET /api/v1/documents. Admin only.
func (h *HTTPHandler) ListAll(c echo.Context) error {
	docs, err := h.documents.ListAll(c.Request().Context(), actorOf(c))
	if err != nil {
		return h.fail(c, err)
	}
	return okList(c, docs)
}

// ApprovalHistory handles GET /api/v1/documents/history.
func (h *HTTPHandler) ApprovalHistory(c echo.Context) error {
	docs, err := h.documents.ApprovalHistory(c.Request().Context(), actorOf(c))
	if err != nil {
		return h.fail(c, err)
	}
	return okList(c, docs)
}

// GetStats handles GET /api/v1/documents/stats.
func (h *HTTPHandler) GetStats(c echo.Context) error {
	stats, err := h.documents.GetStats(c.Request().Context(), service.ScopeFor(actorOf(c)))
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusOK, stats)
}

// AssignToSelf handles PUT /api/v1/documents/:id/assign.
func (h *HTTPHandler) AssignToSelf(c echo.Context) error {
	doc, err := h.documents.AssignToSelf(c.Request().Context(), c.Param("id"), actorOf(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, response{Success: true, Data: doc, Message: "Document assigned to you successfully"})
}

type actionRequest struct {
	Action  string `json:"action"`
	Comment string `json:"comment"`
}

// ApplyAction handles PUT /api/v1/documents/:id/status.
func (h *HTTPHandler) ApplyAction(c echo.Context) error {
	var req actionRequest
	if err := c.Bind(&req); err != nil {
		return h.fail(c, errors.InvalidInput("body", "invalid request body"))
	}

	result, err := h.documents.ApplyAction(c.Request().Context(), c.Param("id"), actorOf(c),
		service.Action(req.Action), req.Comment)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, response{
		Success: true,
		Data:    result.Document,
		Message: "Document " + string(result.Action.PastTense()) + " successfully",
	})
}

// ── Workflows ─────────────────────────────────────────────────────────────────

// ListWorkflows handles GET /api/v1/workflows.
func (h *HTTPHandler) ListWorkflows(c echo.Context) error {
	wfs, err := h.workflows.ListWorkflows(c.Request().Context(), actorOf(c))
	if err != nil {
		return h.fail(c, err)
	}
	return okList(c, wfs)
}

// GetWorkflow handles GET /api/v1/workflows/:id.
func (h *HTTPHandler) GetWorkflow(c echo.Context) error {
	wf, err := h.workflows.GetWorkflow(c.Request().Context(), actorOf(c), c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusOK, wf)
}

// SaveWorkflow handles PUT /api/v1/workflows. Admin only.
func (h *HTTPHandler) SaveWorkflow(c echo.Context) error {
	var def repository.WorkflowDefinition
	if err := c.Bind(&def); err != nil {
		return h.fail(c, errors.InvalidInput("body", "invalid request body"))
	}
	if err := h.workflows.SaveWorkflow(c.Request().Context(), actorOf(c), &def); err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusOK, &def)
}

// ── helpers ───────────────────────────────────────────────────────────────────

func actorOf(c echo.Context) service.Actor {
	u, _ := auth.FromContext(c.Request().Context())
	return u.Actor()
}

// fail writes the error envelope. Internal errors are logged and masked.
func (h *HTTPHandler) fail(c echo.Context, err error) error {
	code := errors.CodeOf(err)
	status := httpStatus(code)
	msg := err.Error()
	if code == errors.ErrCodeInternal {
		h.log.Error().Err(err).
			Str("method", c.Request().Method).
			Str("path", c.Path()).
			Msg("request failed")
		msg = "internal server error"
	}
	return c.JSON(status, response{Success: false, Message: msg})
}

func httpStatus(code errors.ErrorCode) int {
	switch code {
	case errors.ErrCodeValidation:
		return http.StatusBadRequest
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	case errors.ErrCodeAuthorization:
		return http.StatusForbidden
	case errors.ErrCodeConflict:
		return http.StatusConflict
	case errors.ErrCodeConfiguration:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
