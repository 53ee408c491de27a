package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"

	"tasktracker/domain"
	"tasktracker/service"
)

const (
	maxBodySize          = 64 << 10
	headerIdempotencyKey = "Idempotency-Key"
	metricsNamespace     = "tasktracker"
)

type handlers struct {
	svc     Services
	deduper Deduper
	log     *log.Logger
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, svc Services, auth Authenticator, deduper Deduper, logger *log.Logger) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	h := &handlers{svc: svc, deduper: deduper, log: logger}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Namespace:  metricsNamespace,
		Registerer: reg,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/metrics" || c.Path() == "/healthz"
		},
	}))
	e.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{Gatherer: reg}))
	e.GET("/healthz", healthz)

	if svc.Feed != nil {
		e.GET("/api/stream", h.stream, RequestMetrics(logger), QueryToken(), Authenticate(auth, svc.Users))
	}

	g := e.Group("/api", RequestMetrics(logger), GzipRequestMiddleware(), Authenticate(auth, svc.Users))

	g.POST("/session", h.postSession)
	g.GET("/users", h.listUsers)
	g.GET("/users/:id", h.getUser)
	g.PATCH("/users/:id", h.patchUser)

	g.GET("/tasks", h.listTasks)
	g.POST("/tasks", h.createTask)
	g.GET("/tasks/:id", h.getTask)
	g.PATCH("/tasks/:id", h.editTask)
	g.DELETE("/tasks/:id", h.deleteTask)
	g.GET("/tasks/:id/permissions", h.taskPermissions)
	g.PUT("/tasks/:id/status", h.putStatus)
	g.PUT("/tasks/:id/progress", h.putProgress)
	g.PUT("/tasks/:id/assignee", h.putAssignee)
	g.POST("/tasks/:id/comments", h.postComment)
	g.POST("/tasks/:id/attachments", h.postAttachment)
	g.DELETE("/tasks/:id/attachments/:attachmentId", h.deleteAttachment)
	g.POST("/tasks/:id/restore", h.restoreTask)

	g.GET("/trash", h.listTrash)
	g.DELETE("/trash/:id", h.purgeTask)
	g.POST("/trash/sweep", h.sweepTrash)

	g.GET("/stats", h.stats)
}

func healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

// decodeBody reads a size limited JSON body, rejecting unknown fields.
func decodeBody(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, maxBodySize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.NewValidationError("body", "invalid JSON body")
	}
	return nil
}

type tasksResponse struct {
	Tasks []domain.Task `json:"tasks"`
}

type usersResponse struct {
	Users []domain.User `json:"users"`
}

func (h *handlers) postSession(c echo.Context) error {
	u, err := h.svc.Users.RecordLogin(c.Request().Context(), actorFrom(c))
	if err != nil {
		return respondError(c, "record_login", err)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *handlers) listUsers(c echo.Context) error {
	users, err := h.svc.Users.List(c.Request().Context(), actorFrom(c))
	if err != nil {
		return respondError(c, "list_users", err)
	}
	metricsFrom(c).SetItemsReturned(len(users))
	return c.JSON(http.StatusOK, usersResponse{Users: users})
}

func (h *handlers) getUser(c echo.Context) error {
	u, err := h.svc.Users.Get(c.Request().Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		return respondError(c, "get_user", err)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *handlers) patchUser(c echo.Context) error {
	var in domain.ProfileInput
	if err := decodeBody(c, &in); err != nil {
		return respondError(c, "decode_body", err)
	}
	u, err := h.svc.Users.UpdateProfile(c.Request().Context(), actorFrom(c), c.Param("id"), in)
	if err != nil {
		return respondError(c, "update_user", err)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *handlers) listTasks(c echo.Context) error {
	opts := service.ListOptions{
		Status:     domain.Status(strings.TrimSpace(c.QueryParam("status"))),
		Priority:   domain.Priority(strings.TrimSpace(c.QueryParam("priority"))),
		Category:   domain.Category(strings.TrimSpace(c.QueryParam("category"))),
		AssigneeID: strings.TrimSpace(c.QueryParam("assigneeId")),
		OrderBy:    strings.TrimSpace(c.QueryParam("orderBy")),
	}
	if raw := strings.TrimSpace(c.QueryParam("desc")); raw != "" {
		desc, err := strconv.ParseBool(raw)
		if err != nil {
			return respondError(c, "invalid_query", domain.NewValidationError("desc", "must be a boolean"))
		}
		opts.Descending = desc
	}
	if raw := strings.TrimSpace(c.QueryParam("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return respondError(c, "invalid_query", domain.NewValidationError("limit", "must be an integer"))
		}
		opts.Limit = limit
	}

	tasks, err := h.svc.Tasks.List(c.Request().Context(), actorFrom(c), opts)
	if err != nil {
		return respondError(c, "list_tasks", err)
	}
	metricsFrom(c).SetItemsReturned(len(tasks))
	return c.JSON(http.StatusOK, tasksResponse{Tasks: tasks})
}

// createTask stores a new task. A repeated Idempotency-Key returns the task
// created by the first request instead of creating another one.
func (h *handlers) createTask(c echo.Context) error {
	ctx := c.Request().Context()
	actor := actorFrom(c)
	var in domain.CreateTaskInput
	if err := decodeBody(c, &in); err != nil {
		return respondError(c, "decode_body", err)
	}

	key := strings.TrimSpace(c.Request().Header.Get(headerIdempotencyKey))
	if key != "" && h.deduper != nil {
		added, err := h.deduper.Add(ctx, actor.ID, key)
		switch {
		case err != nil:
			h.log.WithError(err).WithField("actor", actor.ID).Warn("idempotency check unavailable")
			key = ""
		case !added:
			return h.replayCreate(c, actor, key)
		}
	} else {
		key = ""
	}

	task, err := h.svc.Tasks.Create(ctx, actor, in)
	if err != nil {
		if key != "" {
			if rerr := h.deduper.Remove(ctx, actor.ID, key); rerr != nil {
				h.log.WithError(rerr).WithField("actor", actor.ID).Warn("idempotency key not released")
			}
		}
		return respondError(c, "create_task", err)
	}
	if key != "" {
		if err := h.deduper.Complete(ctx, actor.ID, key, task.ID); err != nil {
			h.log.WithError(err).WithFields(log.Fields{"actor": actor.ID, "task": task.ID}).Warn("idempotency result not stored")
		}
	}
	return c.JSON(http.StatusCreated, task)
}

func (h *handlers) replayCreate(c echo.Context, actor domain.Actor, key string) error {
	id, err := h.deduper.Result(c.Request().Context(), actor.ID, key)
	if err != nil {
		h.log.WithError(err).WithField("actor", actor.ID).Warn("idempotency lookup failed")
	}
	if id == "" {
		return respondError(c, "duplicate_request", errors.Join(errors.New("a request with this idempotency key is in progress"), domain.ErrConcurrencyConflict))
	}
	task, err := h.svc.Tasks.Get(c.Request().Context(), actor, id)
	if err != nil {
		return respondError(c, "replay_create", err)
	}
	return c.JSON(http.StatusOK, task)
}

func (h *handlers) getTask(c echo.Context) error {
	t, err := h.svc.Tasks.Get(c.Request().Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		return respondError(c, "get_task", err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *handlers) editTask(c echo.Context) error {
	var in domain.EditTaskInput
	if err := decodeBody(c, &in); err != nil {
		return respondError(c, "decode_body", err)
	}
	t, err := h.svc.Tasks.Edit(c.Request().Context(), actorFrom(c), c.Param("id"), in)
	if err != nil {
		return respondError(c, "edit_task", err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *handlers) deleteTask(c echo.Context) error {
	t, err := h.svc.Tasks.Delete(c.Request().Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		return respondError(c, "delete_task", err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *handlers) restoreTask(c echo.Context) error {
	t, err := h.svc.Tasks.Restore(c.Request().Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		return respondError(c, "restore_task", err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *handlers) taskPermissions(c echo.Context) error {
	p, err := h.svc.Tasks.Permissions(c.Request().Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		return respondError(c, "task_permissions", err)
	}
	return c.JSON(http.StatusOK, p)
}

type statusRequest struct {
	Status   *domain.Status `json:"status"`
	Progress *int           `json:"progress"`
}

func (h *handlers) putStatus(c echo.Context) error {
	var req statusRequest
	if err := decodeBody(c, &req); err != nil {
		return respondError(c, "decode_body", err)
	}
	if req.Status == nil {
		return respondError(c, "invalid_body", domain.NewValidationError("status", "is required"))
	}
	t, err := h.svc.Tasks.ChangeStatus(c.Request().Context(), actorFrom(c), c.Param("id"),
		domain.StatusChange{Status: req.Status, Progress: req.Progress})
	if err != nil {
		return respondError(c, "change_status", err)
	}
	return c.JSON(http.StatusOK, t)
}

type progressRequest struct {
	Progress *int `json:"progress"`
}

func (h *handlers) putProgress(c echo.Context) error {
	var req progressRequest
	if err := decodeBody(c, &req); err != nil {
		return respondError(c, "decode_body", err)
	}
	if req.Progress == nil {
		return respondError(c, "invalid_body", domain.NewValidationError("progress", "is required"))
	}
	t, err := h.svc.Tasks.UpdateProgress(c.Request().Context(), actorFrom(c), c.Param("id"), *req.Progress)
	if err != nil {
		return respondError(c, "update_progress", err)
	}
	return c.JSON(http.StatusOK, t)
}

type assigneeRequest struct {
	AssigneeID string `json:"assigneeId"`
}

func (h *handlers) putAssignee(c echo.Context) error {
	var req assigneeRequest
	if err := decodeBody(c, &req); err != nil {
		return respondError(c, "decode_body", err)
	}
	t, err := h.svc.Tasks.Reassign(c.Request().Context(), actorFrom(c), c.Param("id"), req.AssigneeID)
	if err != nil {
		return respondError(c, "reassign", err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *handlers) postComment(c echo.Context) error {
	var in domain.CommentInput
	if err := decodeBody(c, &in); err != nil {
		return respondError(c, "decode_body", err)
	}
	comment, err := h.svc.Tasks.AddComment(c.Request().Context(), actorFrom(c), c.Param("id"), in)
	if err != nil {
		return respondError(c, "add_comment", err)
	}
	return c.JSON(http.StatusCreated, comment)
}

func (h *handlers) postAttachment(c echo.Context) error {
	var in domain.AttachmentInput
	if err := decodeBody(c, &in); err != nil {
		return respondError(c, "decode_body", err)
	}
	a, err := h.svc.Tasks.AddAttachment(c.Request().Context(), actorFrom(c), c.Param("id"), in)
	if err != nil {
		return respondError(c, "add_attachment", err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *handlers) deleteAttachment(c echo.Context) error {
	t, err := h.svc.Tasks.RemoveAttachment(c.Request().Context(), actorFrom(c), c.Param("id"), c.Param("attachmentId"))
	if err != nil {
		return respondError(c, "remove_attachment", err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *handlers) listTrash(c echo.Context) error {
	tasks, err := h.svc.Tasks.ListTrash(c.Request().Context(), actorFrom(c))
	if err != nil {
		return respondError(c, "list_trash", err)
	}
	metricsFrom(c).SetItemsReturned(len(tasks))
	return c.JSON(http.StatusOK, tasksResponse{Tasks: tasks})
}

func (h *handlers) purgeTask(c echo.Context) error {
	report, err := h.svc.Tasks.Purge(c.Request().Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		return respondError(c, "purge_task", err)
	}
	return c.JSON(http.StatusOK, report)
}

func (h *handlers) sweepTrash(c echo.Context) error {
	report, err := h.svc.Tasks.EmptyTrash(c.Request().Context(), actorFrom(c))
	if err != nil {
		return respondError(c, "sweep_trash", err)
	}
	return c.JSON(http.StatusOK, report)
}

func (h *handlers) stats(c echo.Context) error {
	st, err := h.svc.Stats.Dashboard(c.Request().Context(), actorFrom(c))
	if err != nil {
		return respondError(c, "stats", err)
	}
	return c.JSON(http.StatusOK, st)
}
