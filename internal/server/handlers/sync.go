package handlers

import (
	"context"
	"net/http"
	"slices"
	"strconv"

	"github.com/agentstation/rallysync"
	"github.com/agentstation/rallysync/internal/server/response"
	"github.com/agentstation/rallysync/pkg/errors"
)

// HandleSyncCollection handles POST /api/v1/collections/{name}/sync.
// @Summary Sync one collection
// @Description Runs a pass, or joins the running one. With wait=false the
// @Description pass is started and 202 is returned immediately.
// @Tags sync
// @Produce json
// @Param name path string true "Collection name"
// @Param wait query bool false "Wait for the pass to finish (default true)"
// @Success 200 {object} response.Response{data=rallysync.SyncStatus}
// @Success 202 {object} response.Response{data=rallysync.SyncStatus}
// @Failure 400 {object} response.Response{error=response.Error}
// @Failure 404 {object} response.Response{error=response.Error}
// @Failure 502 {object} response.Response{data=rallysync.SyncStatus,error=response.Error}
// @Router /api/v1/collections/{name}/sync [post].
func (h *Handlers) HandleSyncCollection(w http.ResponseWriter, r *http.Request) {
	name := rallysync.CollectionName(r.PathValue("name"))
	wait, err := waitParam(r)
	if err != nil {
		response.ErrorFromType(w, err)
		return
	}

	if !wait {
		cfg, err := h.engine.Config(name)
		if err != nil {
			response.ErrorFromType(w, err)
			return
		}
		if !cfg.Enabled {
			response.ErrorFromType(w, errors.NewConfigError("collection "+string(name), "sync is disabled", nil))
			return
		}
		go h.syncDetached(name)
		response.Accepted(w, h.engine.GetSyncStatus(name))
		return
	}

	ctx, cancel := h.syncContext(r.Context())
	defer cancel()
	st, err := h.engine.SyncCollection(ctx, name)
	var syncErr *errors.SyncError
	switch {
	case errors.As(err, &syncErr):
		response.SyncFailed(w, st, err)
	case err != nil:
		response.ErrorFromType(w, err)
	default:
		response.OK(w, st)
	}
}

// HandleSyncAll handles POST /api/v1/sync.
// @Summary Sync every enabled collection
// @Tags sync
// @Produce json
// @Success 200 {object} response.Response{data=SyncAllView}
// @Failure 502 {object} response.Response{data=SyncAllView,error=response.Error}
// @Router /api/v1/sync [post].
func (h *Handlers) HandleSyncAll(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.syncContext(r.Context())
	defer cancel()

	statuses, err := h.engine.SyncAllCollections(ctx)
	view := SyncAllView{Statuses: statuses, Failed: []rallysync.CollectionName{}}
	if view.Statuses == nil {
		view.Statuses = map[rallysync.CollectionName]rallysync.SyncStatus{}
	}
	for name, st := range statuses {
		if st.Status == rallysync.StatusError {
			view.Failed = append(view.Failed, name)
		}
	}
	slices.Sort(view.Failed)

	var syncErr *errors.SyncError
	switch {
	case errors.As(err, &syncErr):
		response.SyncFailed(w, view, err)
	case err != nil:
		response.ErrorFromType(w, err)
	default:
		response.OK(w, view)
	}
}

func (h *Handlers) syncContext(parent context.Context) (context.Context, context.CancelFunc) {
	if h.syncTimeout > 0 {
		return context.WithTimeout(parent, h.syncTimeout)
	}
	return context.WithCancel(parent)
}

// syncDetached runs a pass that no request waits for. It is bounded by the
// server's lifetime instead of the request's.
func (h *Handlers) syncDetached(name rallysync.CollectionName) {
	ctx, cancel := h.syncContext(h.ctx)
	defer cancel()
	if _, err := h.engine.SyncCollection(ctx, name); err != nil {
		h.logger.Warn().Err(err).Str("collection", string(name)).Msg("Background sync failed")
	}
}

func waitParam(r *http.Request) (bool, error) {
	raw := r.URL.Query().Get("wait")
	if raw == "" {
		return true, nil
	}
	wait, err := strconv.ParseBool(raw)
	if err != nil {
		return false, errors.NewValidationError("wait", raw, "must be a boolean")
	}
	return wait, nil
}
