// Package filter parses the query parameters accepted by the collection
// listing endpoint.
package filter

import (
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/agentstation/rallysync"
	"github.com/agentstation/rallysync/internal/matcher"
	"github.com/agentstation/rallysync/pkg/errors"
)

var statuses = []rallysync.Status{
	rallysync.StatusIdle,
	rallysync.StatusSyncing,
	rallysync.StatusCompleted,
	rallysync.StatusError,
}

// CollectionFilter narrows a collection listing. Zero fields match
// everything.
type CollectionFilter struct {
	// Name is a glob such as "team*" or a /regex/.
	Name string
	name *matcher.Matcher

	// Status keeps collections in any of the listed states.
	Status []rallysync.Status

	// Enabled keeps collections whose config matches.
	Enabled *bool
}

// ParseCollectionFilter reads ?name=, ?status= (comma separated) and
// ?enabled= from r.
func ParseCollectionFilter(r *http.Request) (CollectionFilter, error) {
	q := r.URL.Query()
	f := CollectionFilter{Name: q.Get("name")}

	if f.Name != "" {
		m, err := matcher.New("name", f.Name)
		if err != nil {
			return CollectionFilter{}, err
		}
		f.name = m
	}

	if raw := q.Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			st := rallysync.Status(strings.TrimSpace(s))
			if !slices.Contains(statuses, st) {
				return CollectionFilter{}, errors.NewValidationError("status", s, "must be one of idle, syncing, completed, error")
			}
			f.Status = append(f.Status, st)
		}
	}

	if raw := q.Get("enabled"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return CollectionFilter{}, errors.NewValidationError("enabled", raw, "must be a boolean")
		}
		f.Enabled = &b
	}

	return f, nil
}

// Match reports whether a collection with the given status and config
// passes the filter.
func (f CollectionFilter) Match(st rallysync.SyncStatus, cfg rallysync.SyncConfig) bool {
	if f.Name != "" {
		m := f.name
		if m == nil {
			var err error
			if m, err = matcher.New("name", f.Name); err != nil {
				return false
			}
		}
		if !m.Match(string(st.Collection)) {
			return false
		}
	}
	if len(f.Status) > 0 && !slices.Contains(f.Status, st.Status) {
		return false
	}
	if f.Enabled != nil && *f.Enabled != cfg.Enabled {
		return false
	}
	return true
}
