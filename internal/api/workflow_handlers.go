package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/awaregh/platform/internal/engine"
	"github.com/awaregh/platform/pkg/models"
)

type registerRequest struct {
	TenantName string `json:"tenantName"`
	Email      string `json:"email"`
	Password   string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

func (h *Handler) HandleRegister(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return h.writeError(c, models.NewValidationError("malformed request body"))
	}
	user, token, err := h.auth.Register(c.Request().Context(), req.TenantName, req.Email, req.Password)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, authResponse{Token: token, User: user})
}

func (h *Handler) HandleLogin(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return h.writeError(c, models.NewValidationError("malformed request body"))
	}
	user, token, err := h.auth.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, authResponse{Token: token, User: user})
}

type workflowRequest struct {
	Name       string                     `json:"name"`
	Definition *models.WorkflowDefinition `json:"definition"`
}

func (h *Handler) HandleListWorkflows(c echo.Context) error {
	identity := identityOf(c)
	req := pageRequest(c)
	workflows, total, err := h.store.ListWorkflows(c.Request().Context(), identity.TenantID, req)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, paged(workflows, req, total))
}

func (h *Handler) HandleCreateWorkflow(c echo.Context) error {
	identity := identityOf(c)

	var req workflowRequest
	if err := c.Bind(&req); err != nil {
		return h.writeError(c, models.NewValidationError("malformed request body"))
	}
	if req.Name == "" {
		return h.writeError(c, models.NewValidationError("invalid workflow",
			models.FieldError{Path: "name", Message: "name is required"}))
	}
	if req.Definition == nil {
		return h.writeError(c, models.NewValidationError("invalid workflow",
			models.FieldError{Path: "definition", Message: "definition is required"}))
	}
	if err := engine.ValidateDefinition(req.Definition); err != nil {
		return h.writeError(c, err)
	}

	now := time.Now().UTC()
	wf := &models.Workflow{
		ID:         uuid.New().String(),
		TenantID:   identity.TenantID,
		Name:       req.Name,
		Version:    1,
		Definition: *req.Definition,
		IsActive:   true,
		CreatedBy:  identity.UserID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := h.store.CreateWorkflow(c.Request().Context(), wf); err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, wf)
}

func (h *Handler) HandleGetWorkflow(c echo.Context) error {
	identity := identityOf(c)
	wf, err := h.store.GetWorkflow(c.Request().Context(), identity.TenantID, c.Param("id"))
	if err != nil {
		return h.writeError(c, err)
	}
	if !wf.IsActive {
		return h.writeError(c, models.ErrNotFound)
	}
	return c.JSON(http.StatusOK, wf)
}

// HandleUpdateWorkflow replaces name and definition; a definition change
// bumps the version.
func (h *Handler) HandleUpdateWorkflow(c echo.Context) error {
	identity := identityOf(c)
	ctx := c.Request().Context()

	wf, err := h.store.GetWorkflow(ctx, identity.TenantID, c.Param("id"))
	if err != nil {
		return h.writeError(c, err)
	}

	var req workflowRequest
	if err := c.Bind(&req); err != nil {
		return h.writeError(c, models.NewValidationError("malformed request body"))
	}
	if req.Name != "" {
		wf.Name = req.Name
	}
	if req.Definition != nil {
		if err := engine.ValidateDefinition(req.Definition); err != nil {
			return h.writeError(c, err)
		}
		wf.Definition = *req.Definition
		wf.Version++
	}
	wf.UpdatedAt = time.Now().UTC()

	if err := h.store.UpdateWorkflow(ctx, wf); err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, wf)
}

func (h *Handler) HandleDeleteWorkflow(c echo.Context) error {
	if err := requireAdmin(c); err != nil {
		return h.writeError(c, err)
	}
	identity := identityOf(c)
	if err := h.store.DeactivateWorkflow(c.Request().Context(), identity.TenantID, c.Param("id")); err != nil {
		return h.writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type executeRequest struct {
	Input map[string]any `json:"input"`
}

func (h *Handler) HandleExecuteWorkflow(c echo.Context) error {
	identity := identityOf(c)

	var req executeRequest
	if err := c.Bind(&req); err != nil {
		return h.writeError(c, models.NewValidationError("malformed request body"))
	}

	run, err := h.engine.StartRun(c.Request().Context(), identity.TenantID, c.Param("id"), req.Input)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusAccepted, run)
}

func (h *Handler) HandleListRuns(c echo.Context) error {
	identity := identityOf(c)
	req := pageRequest(c)
	status := models.RunStatus(c.QueryParam("status"))

	runs, total, err := h.store.ListRuns(c.Request().Context(), identity.TenantID, c.Param("id"), status, req)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, paged(runs, req, total))
}

type runResponse struct {
	*models.Run
	Steps []*models.Step `json:"steps"`
}

func (h *Handler) HandleGetRun(c echo.Context) error {
	identity := identityOf(c)
	run, steps, err := h.engine.ObserveRun(c.Request().Context(), identity.TenantID, c.Param("id"))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, runResponse{Run: run, Steps: steps})
}

func (h *Handler) HandleListEvents(c echo.Context) error {
	identity := identityOf(c)
	ctx := c.Request().Context()

	// the run lookup enforces the tenant predicate for the event query
	run, err := h.store.GetRun(ctx, identity.TenantID, c.Param("id"))
	if err != nil {
		return h.writeError(c, err)
	}

	var since time.Time
	if raw := c.QueryParam("since"); raw != "" {
		// an unparsable since is ignored
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			since = parsed
		}
	}

	req := pageRequest(c)
	events, total, err := h.store.ListEvents(ctx, run.ID, since, req)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, paged(events, req, total))
}

func (h *Handler) HandleCancelRun(c echo.Context) error {
	identity := identityOf(c)
	run, err := h.engine.CancelRun(c.Request().Context(), identity.TenantID, c.Param("id"))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, run)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// HandleWebSocket authenticates the handshake token and attaches the
// connection to the push bus.
func (h *Handler) HandleWebSocket(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		token = bearerToken(c.Request())
	}
	identity, err := h.auth.Verify(token)
	if err != nil {
		return h.writeError(c, models.ErrUnauthorized)
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	h.bus.Attach(conn, identity.TenantID, identity.UserID)
	return nil
}
