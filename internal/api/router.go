package api

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// jsonSerializer swaps echo's default codec for goccy/go-json.
type jsonSerializer struct{}

func (jsonSerializer) Serialize(c echo.Context, i any, indent string) error {
	enc := json.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

func (jsonSerializer) Deserialize(c echo.Context, i any) error {
	err := json.NewDecoder(c.Request().Body).Decode(i)
	if ute, ok := err.(*json.UnmarshalTypeError); ok {
		return echo.NewHTTPError(400, fmt.Sprintf("unmarshal type error: expected=%v, got=%v, field=%v, offset=%v",
			ute.Type, ute.Value, ute.Field, ute.Offset)).SetInternal(err)
	}
	if se, ok := err.(*json.SyntaxError); ok {
		return echo.NewHTTPError(400, fmt.Sprintf("syntax error: offset=%v, error=%v",
			se.Offset, se.Error())).SetInternal(err)
	}
	return err
}

// NewEcho builds the shared echo instance with the base middleware stack.
func NewEcho(h *Handler, devCORS bool) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = jsonSerializer{}

	e.Use(middleware.Recover())
	e.Use(h.AccessLog)
	if devCORS {
		e.Use(middleware.CORS())
	}
	return e
}

// RegisterWorkflowRoutes mounts the workflow service surface.
func RegisterWorkflowRoutes(e *echo.Echo, h *Handler) {
	// health also answers at the root for load-balancer probes
	e.GET("/health", h.HandleHealth)
	e.GET("/ws", h.HandleWebSocket)

	api := e.Group("/api", h.RateLimit)
	api.GET("/health", h.HandleHealth)
	api.POST("/auth/register", h.HandleRegister)
	api.POST("/auth/login", h.HandleLogin)

	protected := api.Group("", h.Guard)
	protected.GET("/workflows", h.HandleListWorkflows)
	protected.POST("/workflows", h.HandleCreateWorkflow)
	protected.GET("/workflows/:id", h.HandleGetWorkflow)
	protected.PUT("/workflows/:id", h.HandleUpdateWorkflow)
	protected.DELETE("/workflows/:id", h.HandleDeleteWorkflow)
	protected.POST("/workflows/:id/execute", h.HandleExecuteWorkflow)
	protected.GET("/workflows/:id/runs", h.HandleListRuns)
	protected.GET("/runs/:id", h.HandleGetRun)
	protected.GET("/runs/:id/events", h.HandleListEvents)
	protected.POST("/runs/:id/cancel", h.HandleCancelRun)
}

// RegisterBuilderRoutes mounts the builder service surface, including the
// public serve endpoint.
func RegisterBuilderRoutes(e *echo.Echo, h *Handler) {
	e.GET("/health", h.HandleHealth)

	e.GET("/serve/:subdomain", h.HandleServe)
	e.GET("/serve/:subdomain/*", h.HandleServe)

	api := e.Group("/api", h.RateLimit)
	api.GET("/health", h.HandleHealth)
	api.POST("/auth/register", h.HandleRegister)
	api.POST("/auth/login", h.HandleLogin)

	protected := api.Group("", h.Guard)
	protected.GET("/sites", h.HandleListSites)
	protected.POST("/sites", h.HandleCreateSite)
	protected.GET("/sites/:id", h.HandleGetSite)
	protected.PUT("/sites/:id", h.HandleUpdateSite)
	protected.DELETE("/sites/:id", h.HandleDeleteSite)
	protected.POST("/sites/:id/publish", h.HandlePublishSite)
	protected.POST("/sites/:id/rollback", h.HandleRollbackSite)
	protected.GET("/sites/:id/versions", h.HandleListVersions)
	protected.GET("/sites/:id/pages", h.HandleListPages)
	protected.POST("/sites/:id/pages", h.HandleCreatePage)
	protected.PUT("/sites/:id/pages/:pageId", h.HandleUpdatePage)
	protected.DELETE("/sites/:id/pages/:pageId", h.HandleDeletePage)
}
