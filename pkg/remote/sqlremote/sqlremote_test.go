package sqlremote

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/rallysync/pkg/document"
	"github.com/agentstation/rallysync/pkg/errors"
	"github.com/agentstation/rallysync/pkg/matcher"
	"github.com/agentstation/rallysync/pkg/query"
	"github.com/agentstation/rallysync/pkg/remote"
)

const teamsDDL = `CREATE TABLE teams (
	id        TEXT PRIMARY KEY,
	name      TEXT NOT NULL,
	status    TEXT,
	rank      INTEGER,
	coach     TEXT,
	_modified INTEGER,
	_deleted  BOOLEAN
)`

func openTeams(t *testing.T) *Remote {
	t.Helper()
	r, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	_, err = r.DB().Exec(teamsDDL)
	require.NoError(t, err)
	return r
}

func TestInsertAndQuery(t *testing.T) {
	ctx := context.Background()
	r := openTeams(t)

	for i, name := range []string{"Hawks", "Owls", "Gulls"} {
		_, err := r.Insert(ctx, "teams", document.Document{
			"id": name, "name": name, "status": "active", "rank": i + 1, "_modified": 10 + i, "_deleted": false,
		})
		require.NoError(t, err)
	}
	_, err := r.Insert(ctx, "teams", document.Document{"id": "Crows", "name": "Crows", "status": "archived", "_modified": 1})
	require.NoError(t, err)

	page, err := r.Query(ctx, query.Query{
		Collection: "teams",
		Where:      []query.Predicate{query.Equal("status", "active")},
		OrderBy:    []query.Order{{Field: "_modified"}, {Field: "id"}},
		Limit:      2,
		Count:      true,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Records, 2)
	assert.Equal(t, "Hawks", page.Records[0]["id"])
	assert.Equal(t, int64(1), page.Records[0]["rank"])
	assert.Equal(t, false, page.Records[0]["_deleted"])
	assert.Nil(t, page.Records[0]["coach"])

	page, err = r.Query(ctx, query.Query{Collection: "teams", Offset: 3, OrderBy: []query.Order{{Field: "id"}}})
	require.NoError(t, err)
	assert.Equal(t, remote.UnknownTotal, page.Total)
	require.Len(t, page.Records, 1)
	assert.Equal(t, "Owls", page.Records[0]["id"])
}

func TestUniqueViolationIsConflict(t *testing.T) {
	ctx := context.Background()
	r := openTeams(t)
	_, err := r.Insert(ctx, "teams", document.Document{"id": "t1", "name": "Hawks"})
	require.NoError(t, err)

	_, err = r.Insert(ctx, "teams", document.Document{"id": "t1", "name": "Hawks again"})
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))

	var apiErr *errors.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, errors.ConflictCode, apiErr.Code)
}

func TestConstraintAndSchemaErrorsAreRejections(t *testing.T) {
	ctx := context.Background()
	r := openTeams(t)

	_, err := r.Insert(ctx, "teams", document.Document{"id": "t1"})
	assert.True(t, errors.IsRejected(err), "NOT NULL violation: %v", err)

	_, err = r.Insert(ctx, "teams", document.Document{"id": "t2", "name": "x", "mascot": "owl"})
	assert.True(t, errors.IsRejected(err), "unknown column: %v", err)
	assert.False(t, errors.IsTransient(err))
}

func TestUpdateDelete(t *testing.T) {
	ctx := context.Background()
	r := openTeams(t)
	key := remote.Key{Field: "id", Value: "t1"}

	_, err := r.Update(ctx, "teams", key, document.Document{"id": "t1", "name": "Hawks"})
	assert.True(t, errors.IsNotFound(err))

	_, err = r.Insert(ctx, "teams", document.Document{"id": "t1", "name": "Hawks"})
	require.NoError(t, err)
	_, err = r.Update(ctx, "teams", key, document.Document{"id": "t1", "name": "Harbor Hawks", "coach": "Kim"})
	require.NoError(t, err)

	page, err := r.Query(ctx, query.Query{Collection: "teams"})
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	assert.Equal(t, "Harbor Hawks", page.Records[0]["name"])
	assert.Equal(t, "Kim", page.Records[0]["coach"])

	require.NoError(t, r.Delete(ctx, "teams", key))
	assert.True(t, errors.IsNotFound(r.Delete(ctx, "teams", key)))
}

func TestMatcherPredicatesRunAsSQL(t *testing.T) {
	ctx := context.Background()
	r := openTeams(t)
	schema := document.DefaultSchema()

	_, err := r.Insert(ctx, "teams", document.Document{"id": "t1", "name": "Hawks", "_modified": 5})
	require.NoError(t, err)

	// Local copy as it comes back from a JSON store: numbers are float64
	// and the deleted marker is false while the remote column is NULL.
	local := document.Document{"id": "t1", "name": "Hawks", "_modified": float64(5), "_deleted": false, "_rev": "1-a"}
	page, err := r.Query(ctx, query.Query{Collection: "teams", Where: matcher.Build(local, schema, nil), Limit: 1})
	require.NoError(t, err)
	assert.Len(t, page.Records, 1)

	local["name"] = "Owls"
	page, err = r.Query(ctx, query.Query{Collection: "teams", Where: matcher.Build(local, schema, nil), Limit: 1})
	require.NoError(t, err)
	assert.Empty(t, page.Records)
}
