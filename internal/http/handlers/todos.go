package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/taskhubdev/taskhub/internal/cache"
	"github.com/taskhubdev/taskhub/internal/config"
	"github.com/taskhubdev/taskhub/internal/domain/job"
	"github.com/taskhubdev/taskhub/internal/domain/todo"
	"github.com/taskhubdev/taskhub/internal/http/middlewares"
	"github.com/taskhubdev/taskhub/internal/jobs"
	"github.com/taskhubdev/taskhub/internal/utils"
)

type TodoStore interface {
	Create(ctx context.Context, t todo.Todo) (todo.Todo, error)
	ListByOwner(ctx context.Context, ownerID string) ([]todo.Todo, error)
	ListCompletedIDs(ctx context.Context, ownerID string) ([]string, error)
	Toggle(ctx context.Context, ownerID, todoID string) (todo.Todo, error)
	Delete(ctx context.Context, ownerID, todoID string) error
}

// clearWorkers caps the fan-out when bulk-deleting completed todos.
const clearWorkers = 8

type TodosHandler struct {
	store TodoStore
	cache *cache.Cache

	// nil when the job queue is not wired; export then reports 503
	jobsStore JobsCreator
}

func NewTodosHandler(store TodoStore, listCache *cache.Cache, jobsStore JobsCreator) *TodosHandler {
	return &TodosHandler{
		store:     store,
		cache:     listCache,
		jobsStore: jobsStore,
	}
}

func (h *TodosHandler) List(ctx *gin.Context) {
	ownerID, ok := middlewares.UserIDFromContext(ctx)

	if !ok {
		RespondUnAuthorized(ctx, "unauthorized", "Missing authentication.")
		return
	}

	key := utils.BuildTodosListCacheKey(ownerID)

	if h.cache != nil {
		if cached, hit := h.cache.Get(key); hit {
			RespondJSONWithETag(ctx, http.StatusOK, cached)
			return
		}
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	list, err := h.store.ListByOwner(cctx, ownerID)

	if err != nil {
		RespondServiceUnavailable(ctx, "Could not list todos")
		return
	}

	payload := gin.H{"todos": list, "count": len(list)}

	if h.cache != nil {
		h.cache.Set(key, payload)
	}

	RespondJSONWithETag(ctx, http.StatusOK, payload)
}

func (h *TodosHandler) Add(ctx *gin.Context) {
	ownerID, ok := middlewares.UserIDFromContext(ctx)

	if !ok {
		RespondUnAuthorized(ctx, "unauthorized", "Missing authentication.")
		return
	}

	var req todo.CreateTodoRequest

	if !BindJSON(ctx, &req) {
		return
	}

	text := strings.TrimSpace(req.Text)

	if text == "" {
		RespondError(ctx, http.StatusBadRequest, "empty_text", "Todo text must not be empty.", nil)
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	created, err := h.store.Create(cctx, todo.New(ownerID, text))

	if err != nil {
		RespondServiceUnavailable(ctx, "Could not create todo")
		return
	}

	h.invalidateList(ownerID)

	ctx.JSON(http.StatusCreated, created)
}

func (h *TodosHandler) Toggle(ctx *gin.Context) {
	ownerID, ok := middlewares.UserIDFromContext(ctx)

	if !ok {
		RespondUnAuthorized(ctx, "unauthorized", "Missing authentication.")
		return
	}

	todoID := ctx.Param("id")

	if !utils.IsUUID(todoID) {
		RespondNotFound(ctx, "Todo not found")
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	toggled, err := h.store.Toggle(cctx, ownerID, todoID)

	if err != nil {
		if errors.Is(err, todo.ErrNotFound) {
			RespondNotFound(ctx, "Todo not found")
			return
		}

		RespondServiceUnavailable(ctx, "Could not update todo")
		return
	}

	h.invalidateList(ownerID)

	ctx.JSON(http.StatusOK, toggled)
}

func (h *TodosHandler) Delete(ctx *gin.Context) {
	ownerID, ok := middlewares.UserIDFromContext(ctx)

	if !ok {
		RespondUnAuthorized(ctx, "unauthorized", "Missing authentication.")
		return
	}

	todoID := ctx.Param("id")

	if !utils.IsUUID(todoID) {
		RespondNotFound(ctx, "Todo not found")
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	err := h.store.Delete(cctx, ownerID, todoID)

	if err != nil {
		if errors.Is(err, todo.ErrNotFound) {
			RespondNotFound(ctx, "Todo not found")
			return
		}

		RespondServiceUnavailable(ctx, "Could not delete todo")
		return
	}

	h.invalidateList(ownerID)

	ctx.Status(http.StatusNoContent)
}

// ClearCompleted deletes every completed todo of the caller. Deletes
// fan out concurrently with a bounded worker count, and a todo that
// vanished mid-flight still counts as cleared.
func (h *TodosHandler) ClearCompleted(ctx *gin.Context) {
	ownerID, ok := middlewares.UserIDFromContext(ctx)

	if !ok {
		RespondUnAuthorized(ctx, "unauthorized", "Missing authentication.")
		return
	}

	cctx, cancel := config.WithTimeout(10 * time.Second)
	defer cancel()

	ids, err := h.store.ListCompletedIDs(cctx, ownerID)

	if err != nil {
		RespondServiceUnavailable(ctx, "Could not clear completed todos")
		return
	}

	if len(ids) == 0 {
		ctx.JSON(http.StatusOK, gin.H{"cleared": 0})
		return
	}

	var (
		wg      sync.WaitGroup
		cleared int64
		failed  int64
	)

	sem := make(chan struct{}, clearWorkers)

	for _, id := range ids {
		wg.Add(1)
		sem <- struct{}{}

		go func(todoID string) {
			defer wg.Done()
			defer func() { <-sem }()

			err := h.store.Delete(cctx, ownerID, todoID)

			switch {
			case err == nil, errors.Is(err, todo.ErrNotFound):
				atomic.AddInt64(&cleared, 1)
			default:
				atomic.AddInt64(&failed, 1)
			}
		}(id)
	}

	wg.Wait()

	h.invalidateList(ownerID)

	// each delete is independent; the count reports only confirmed removals
	if n := atomic.LoadInt64(&failed); n > 0 {
		slog.Default().WarnContext(ctx.Request.Context(), "clear completed left todos behind",
			"owner_id", ownerID, "failed", n)
	}

	ctx.JSON(http.StatusOK, gin.H{"cleared": atomic.LoadInt64(&cleared)})
}

// Export queues a CSV export of the caller's todos; the worker writes the
// file out of band.
func (h *TodosHandler) Export(ctx *gin.Context) {
	ownerID, ok := middlewares.UserIDFromContext(ctx)

	if !ok {
		RespondUnAuthorized(ctx, "unauthorized", "Missing authentication.")
		return
	}

	if h.jobsStore == nil {
		RespondServiceUnavailable(ctx, "Export is not available")
		return
	}

	raw, err := jobs.EncodePayload(jobs.JobExportTodosCSV, jobs.ExportTodosCSVPayload{UserID: ownerID})

	if err != nil {
		RespondInternal(ctx, "Could not queue export")
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	queued, err := h.jobsStore.Create(cctx, job.CreateRequest{
		Type:    string(jobs.JobExportTodosCSV),
		Payload: raw,
		UserID:  &ownerID,
	})

	if err != nil {
		RespondServiceUnavailable(ctx, "Could not queue export")
		return
	}

	ctx.JSON(http.StatusAccepted, gin.H{
		"jobId":  queued.ID,
		"status": string(queued.Status),
	})
}

func (h *TodosHandler) invalidateList(ownerID string) {
	if h.cache != nil {
		h.cache.Delete(utils.BuildTodosListCacheKey(ownerID))
	}
}
