// Package api implements the HTTP/WS Surface (§4, §6): REST endpoints for
// workflow CRUD and approval routing, plus the WebSocket event stream.
//
// Grounded on the teacher's pkg/api/server.go + pkg/api/handler_ws.go: the
// echo v5 router, echo middleware, and coder/websocket upgrade delegated to
// the ConnectionManager are kept as-is; the route set and every handler
// body are rewritten against §6.1's workflow/approval contract instead of
// the teacher's alert-submission/session surface.
package api

import (
	"context"
	"net"
	"net/http"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/amelia-dev/amelia/pkg/config"
	"github.com/amelia-dev/amelia/pkg/database"
	"github.com/amelia-dev/amelia/pkg/events"
	"github.com/amelia-dev/amelia/pkg/eventstore"
	"github.com/amelia-dev/amelia/pkg/orchestrator"
)

// recentEventsLimit bounds the `recent_events` slice returned by the
// workflow detail endpoint (§6.1). Clients needing the full history use the
// WebSocket backfill or a future paginated events endpoint.
const recentEventsLimit = 50

// Server is the HTTP/WS surface (§4 "HTTP/WS Surface", §6).
type Server struct {
	echo        *echo.Echo
	httpServer  *http.Server
	cfg         *config.Config
	dbClient    *database.Client
	orch        *orchestrator.Service
	eventStore  *eventstore.Store
	connManager *events.ConnectionManager
}

// NewServer builds a Server with every route registered.
func NewServer(
	cfg *config.Config,
	dbClient *database.Client,
	orch *orchestrator.Service,
	eventStore *eventstore.Store,
	connManager *events.ConnectionManager,
) *Server {
	e := echo.New()

	s := &Server{
		echo:        e,
		cfg:         cfg,
		dbClient:    dbClient,
		orch:        orch,
		eventStore:  eventStore,
		connManager: connManager,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.echo.Use(middleware.BodyLimit(2 * 1024 * 1024))
	s.echo.Use(securityHeaders())

	s.echo.GET("/health", s.healthHandler)

	api := s.echo.Group("/api")
	api.POST("/workflows", s.createWorkflowHandler)
	api.GET("/workflows", s.listWorkflowsHandler)
	api.GET("/workflows/:id", s.getWorkflowHandler)
	api.POST("/workflows/:id/approve", s.approveWorkflowHandler)
	api.POST("/workflows/:id/reject", s.rejectWorkflowHandler)
	api.POST("/workflows/:id/cancel", s.cancelWorkflowHandler)

	s.echo.GET("/ws/events", s.wsHandler)
}

// Start starts the HTTP server on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener. Used by
// test infrastructure to serve on a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// createWorkflowHandler implements POST /api/workflows (§6.1).
func (s *Server) createWorkflowHandler(c *echo.Context) error {
	var req CreateWorkflowRequest
	if err := c.Bind(&req); err != nil {
		return newHTTPError(http.StatusBadRequest, "invalid_request", "malformed request body")
	}

	if req.IssueID == "" || req.WorktreePath == "" {
		return newHTTPError(http.StatusBadRequest, "invalid_request", "issue_id and worktree_path are required")
	}
	if req.TaskDesc != "" && req.TaskTitle == "" {
		return newHTTPError(http.StatusBadRequest, "invalid_request", "task_description requires task_title")
	}
	if req.Profile == "" {
		return newHTTPError(http.StatusBadRequest, "invalid_request", "profile is required")
	}

	wf, err := s.orch.Create(c.Request().Context(), orchestrator.CreateRequest{
		IssueID:      req.IssueID,
		WorktreePath: req.WorktreePath,
		WorktreeName: req.WorktreeName,
		ProfileID:    req.Profile,
		TaskTitle:    req.TaskTitle,
		TaskDesc:     req.TaskDesc,
	})
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusCreated, &CreateWorkflowResponse{
		ID:      wf.ID,
		Status:  string(wf.Status),
		Message: "workflow created",
	})
}

// listWorkflowsHandler implements GET /api/workflows?status=<comma-separated> (§6.1).
func (s *Server) listWorkflowsHandler(c *echo.Context) error {
	var statuses []orchestrator.Status
	if raw := c.QueryParam("status"); raw != "" {
		for _, part := range splitCSV(raw) {
			statuses = append(statuses, orchestrator.Status(part))
		}
	}

	rows, err := s.orch.List(c.Request().Context(), statuses)
	if err != nil {
		return mapServiceError(err)
	}

	out := make([]*WorkflowResponse, len(rows))
	for i, wf := range rows {
		out[i] = toWorkflowResponse(wf)
	}
	return c.JSON(http.StatusOK, out)
}

// getWorkflowHandler implements GET /api/workflows/{id} (§6.1).
func (s *Server) getWorkflowHandler(c *echo.Context) error {
	id := c.Param("id")
	wf, err := s.orch.Get(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}

	detail := &WorkflowDetailResponse{
		WorkflowResponse: *toWorkflowResponse(wf),
		Plan:             wf.PlanCache,
		PlanPath:         wf.PlanPath,
		TokenUsage:       &TokenUsageResponse{},
		RecentEvents:     []events.EventCreatedPayload{},
	}

	if s.eventStore != nil {
		recent, err := s.eventStore.Recent(c.Request().Context(), id, recentEventsLimit)
		if err != nil {
			return mapServiceError(err)
		}
		detail.RecentEvents = make([]events.EventCreatedPayload, len(recent))
		for i, evt := range recent {
			detail.RecentEvents[i] = events.ToEventPayload(evt)
		}
	}

	return c.JSON(http.StatusOK, detail)
}

// approveWorkflowHandler implements POST /api/workflows/{id}/approve (§6.1).
func (s *Server) approveWorkflowHandler(c *echo.Context) error {
	id := c.Param("id")
	if err := s.orch.Approve(c.Request().Context(), id); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &CancelResponse{ID: id, Message: "approved"})
}

// rejectWorkflowHandler implements POST /api/workflows/{id}/reject (§6.1).
func (s *Server) rejectWorkflowHandler(c *echo.Context) error {
	id := c.Param("id")
	var req RejectWorkflowRequest
	if err := c.Bind(&req); err != nil {
		return newHTTPError(http.StatusBadRequest, "invalid_request", "malformed request body")
	}
	if err := s.orch.Reject(c.Request().Context(), id, req.Feedback); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &CancelResponse{ID: id, Message: "rejected"})
}

// cancelWorkflowHandler implements POST /api/workflows/{id}/cancel (§6.1):
// "sets cancellation; response returns immediately" — it does not wait for
// the state machine to actually reach `cancelled`.
func (s *Server) cancelWorkflowHandler(c *echo.Context) error {
	id := c.Param("id")
	if err := s.orch.Cancel(c.Request().Context(), id); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &CancelResponse{ID: id, Message: "cancellation requested"})
}

func toWorkflowResponse(wf *orchestrator.Workflow) *WorkflowResponse {
	return &WorkflowResponse{
		ID:              wf.ID,
		IssueID:         wf.IssueID,
		WorktreePath:    wf.WorktreePath,
		WorktreeName:    wf.WorktreeName,
		ProfileID:       wf.ProfileID,
		WorkflowType:    wf.WorkflowType,
		Status:          string(wf.Status),
		FailureReason:   wf.FailureReason,
		ReviewIteration: wf.ReviewIteration,
		CreatedAt:       wf.CreatedAt,
		StartedAt:       wf.StartedAt,
		CompletedAt:     wf.CompletedAt,
		UpdatedAt:       wf.UpdatedAt,
	}
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}
