package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/agentstation/rallysync"
	"github.com/agentstation/rallysync/internal/server/filter"
	"github.com/agentstation/rallysync/internal/server/response"
	"github.com/agentstation/rallysync/pkg/errors"
	"github.com/agentstation/rallysync/pkg/logging"
)

// maxPatchBody bounds PATCH request bodies.
const maxPatchBody = 64 << 10

// HandleListCollections handles GET /api/v1/collections.
// @Summary List collections
// @Description Registered collections with their config and sync status
// @Tags collections
// @Produce json
// @Param name query string false "Glob on the collection name"
// @Param status query string false "Comma separated states"
// @Param enabled query bool false "Config enabled flag"
// @Success 200 {object} response.Response{data=[]CollectionView}
// @Failure 400 {object} response.Response{error=response.Error}
// @Router /api/v1/collections [get].
func (h *Handlers) HandleListCollections(w http.ResponseWriter, r *http.Request) {
	f, err := filter.ParseCollectionFilter(r)
	if err != nil {
		response.ErrorFromType(w, err)
		return
	}

	views := []CollectionView{}
	for _, st := range h.engine.Statuses() {
		cfg, err := h.engine.Config(st.Collection)
		if err != nil {
			// removed between the two calls
			continue
		}
		if f.Match(st, cfg) {
			views = append(views, CollectionView{Name: st.Collection, Config: newConfigView(cfg), Status: st})
		}
	}
	response.OK(w, views)
}

// HandleGetCollection handles GET /api/v1/collections/{name}.
// @Summary Get collection
// @Tags collections
// @Produce json
// @Param name path string true "Collection name"
// @Success 200 {object} response.Response{data=CollectionView}
// @Failure 404 {object} response.Response{error=response.Error}
// @Router /api/v1/collections/{name} [get].
func (h *Handlers) HandleGetCollection(w http.ResponseWriter, r *http.Request) {
	view, err := h.collection(rallysync.CollectionName(r.PathValue("name")))
	if err != nil {
		response.ErrorFromType(w, err)
		return
	}
	response.OK(w, view)
}

// HandlePatchCollection handles PATCH /api/v1/collections/{name}.
// @Summary Update collection config
// @Description Applies a partial config update; disabling stops the worker
// @Tags collections
// @Accept json
// @Produce json
// @Param name path string true "Collection name"
// @Param patch body PatchRequest true "Fields to change"
// @Success 200 {object} response.Response{data=CollectionView}
// @Failure 400 {object} response.Response{error=response.Error}
// @Failure 404 {object} response.Response{error=response.Error}
// @Router /api/v1/collections/{name} [patch].
func (h *Handlers) HandlePatchCollection(w http.ResponseWriter, r *http.Request) {
	name := rallysync.CollectionName(r.PathValue("name"))

	var req PatchRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPatchBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body", err.Error())
		return
	}
	patch, err := req.ConfigPatch()
	if err != nil {
		response.ErrorFromType(w, err)
		return
	}
	if patch.IsEmpty() {
		response.BadRequest(w, "Empty patch", "Provide at least one field to change")
		return
	}

	if err := h.engine.UpdateConfig(name, patch); err != nil {
		response.ErrorFromType(w, err)
		return
	}
	logging.FromContext(r.Context()).Info().Str("collection", string(name)).Msg("Collection config patched")

	view, err := h.collection(name)
	if err != nil {
		response.ErrorFromType(w, err)
		return
	}
	response.OK(w, view)
}

// HandleResetCollection handles POST /api/v1/collections/{name}/reset.
// @Summary Reset collection checkpoint
// @Description Drops the pull checkpoint so the next pass pulls everything
// @Tags collections
// @Produce json
// @Param name path string true "Collection name"
// @Success 200 {object} response.Response{data=rallysync.SyncStatus}
// @Failure 404 {object} response.Response{error=response.Error}
// @Router /api/v1/collections/{name}/reset [post].
func (h *Handlers) HandleResetCollection(w http.ResponseWriter, r *http.Request) {
	name := rallysync.CollectionName(r.PathValue("name"))
	if err := h.engine.ResetCollection(r.Context(), name); err != nil {
		response.ErrorFromType(w, err)
		return
	}
	st := h.engine.GetSyncStatus(name)
	if st == nil {
		response.ErrorFromType(w, errors.NewNotFoundError("collection", string(name)))
		return
	}
	response.OK(w, st)
}

func (h *Handlers) collection(name rallysync.CollectionName) (CollectionView, error) {
	cfg, err := h.engine.Config(name)
	if err != nil {
		return CollectionView{}, err
	}
	st := h.engine.GetSyncStatus(name)
	if st == nil {
		return CollectionView{}, errors.NewNotFoundError("collection", string(name))
	}
	return CollectionView{Name: name, Config: newConfigView(cfg), Status: *st}, nil
}
