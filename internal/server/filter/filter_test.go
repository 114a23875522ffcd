package filter

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/rallysync"
	"github.com/agentstation/rallysync/pkg/errors"
)

func TestParseCollectionFilter(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/v1/collections?name=team*&status=error,%20idle&enabled=true", nil)
	f, err := ParseCollectionFilter(r)
	require.NoError(t, err)

	assert.Equal(t, "team*", f.Name)
	assert.Equal(t, []rallysync.Status{rallysync.StatusError, rallysync.StatusIdle}, f.Status)
	require.NotNil(t, f.Enabled)
	assert.True(t, *f.Enabled)
}

func TestParseCollectionFilterErrors(t *testing.T) {
	tests := []struct {
		query string
		field string
	}{
		{"status=broken", "status"},
		{"enabled=maybe", "enabled"},
		{"name=[", "name"},
		{"name=/(/", "name"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			_, err := ParseCollectionFilter(httptest.NewRequest("GET", "/?"+tt.query, nil))
			var verr *errors.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestMatch(t *testing.T) {
	on := rallysync.SyncConfig{Enabled: true}
	off := rallysync.SyncConfig{}
	teams := rallysync.SyncStatus{Collection: "teams", Status: rallysync.StatusCompleted}
	players := rallysync.SyncStatus{Collection: "players", Status: rallysync.StatusError}

	yes := true
	tests := []struct {
		name   string
		filter CollectionFilter
		st     rallysync.SyncStatus
		cfg    rallysync.SyncConfig
		want   bool
	}{
		{"empty matches all", CollectionFilter{}, teams, off, true},
		{"glob hit", CollectionFilter{Name: "team*"}, teams, on, true},
		{"glob miss", CollectionFilter{Name: "team*"}, players, on, false},
		{"regex hit", CollectionFilter{Name: "/^play/"}, players, on, true},
		{"status hit", CollectionFilter{Status: []rallysync.Status{rallysync.StatusError}}, players, on, true},
		{"status miss", CollectionFilter{Status: []rallysync.Status{rallysync.StatusError}}, teams, on, false},
		{"enabled miss", CollectionFilter{Enabled: &yes}, teams, off, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Match(tt.st, tt.cfg))
		})
	}
}
