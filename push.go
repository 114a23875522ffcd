package rallysync

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/agentstation/rallysync/pkg/constants"
	"github.com/agentstation/rallysync/pkg/document"
	"github.com/agentstation/rallysync/pkg/errors"
	"github.com/agentstation/rallysync/pkg/matcher"
	"github.com/agentstation/rallysync/pkg/query"
	"github.com/agentstation/rallysync/pkg/remote"
)

// push sends locally pending writes to the remote. Rejected documents are
// collected and reported once the batch finishes; any other failure
// aborts the remaining changes.
func (w *worker) push(ctx context.Context, cfg SyncConfig, logger *zerolog.Logger) error {
	coll := string(w.name)

	changes, err := w.local.Pending(ctx, coll)
	if err != nil {
		return errors.NewSyncError(coll, "push", nil, err)
	}
	if len(changes) == 0 {
		return nil
	}

	var (
		rejected  []string
		rejectErr error
		pushed    int
	)
	for _, change := range changes {
		if !w.isActive() {
			return errDetached
		}
		err := w.pushChange(ctx, cfg, logger, change)
		switch {
		case err == nil:
			pushed++
		case err == errDetached:
			return err
		case errors.IsRejected(err):
			logger.Warn().Err(err).Str("key", change.Key).Str("op", change.Op.String()).Msg("Remote rejected document")
			if len(rejected) < constants.MaxErrorDocuments {
				rejected = append(rejected, change.Key)
			}
			if rejectErr == nil {
				rejectErr = err
			}
		default:
			return errors.NewSyncError(coll, "push", []string{change.Key}, err)
		}
	}

	logger.Debug().Int("changes", len(changes)).Int("pushed", pushed).Int("rejected", len(rejected)).Msg("Push finished")
	if rejectErr != nil {
		return errors.NewSyncError(coll, "push", rejected, rejectErr)
	}
	return nil
}

func (w *worker) pushChange(ctx context.Context, cfg SyncConfig, logger *zerolog.Logger, change document.Change) error {
	coll := string(w.name)
	pk := w.schema.PrimaryKey

	if change.Op == document.OpDelete {
		err := w.call(ctx, cfg, logger, "delete", func(ctx context.Context) error {
			return w.remote.Delete(ctx, coll, remote.Key{Field: pk, Value: change.Key})
		})
		if errors.IsConflict(err) {
			return w.reconcile(ctx, cfg, logger, change, change.Key)
		}
		if err != nil && !errors.IsNotFound(err) {
			return err
		}
		return w.markSynced(ctx, change)
	}

	doc := change.Doc.Clone()
	if _, ok := doc[pk]; !ok {
		doc[pk] = change.Key
	}

	// An equal remote row means an earlier push already landed.
	var page remote.Page
	where := matcher.Build(doc, w.schema, logger)
	err := w.call(ctx, cfg, logger, "match", func(ctx context.Context) error {
		var err error
		page, err = w.remote.Query(ctx, query.Query{Collection: coll, Where: where, Limit: 1})
		return err
	})
	if err != nil {
		return err
	}
	if len(page.Records) > 0 {
		logger.Debug().Str("key", change.Key).Msg("Document already in sync")
		return w.markSynced(ctx, change)
	}

	if change.Op == document.OpUpdate {
		err := w.call(ctx, cfg, logger, "update", func(ctx context.Context) error {
			_, err := w.remote.Update(ctx, coll, remote.Key{Field: pk, Value: change.Key}, doc)
			return err
		})
		if err == nil {
			return w.markSynced(ctx, change)
		}
		if errors.IsConflict(err) {
			return w.reconcile(ctx, cfg, logger, change, doc[pk])
		}
		if !errors.IsNotFound(err) {
			return err
		}
		logger.Debug().Str("key", change.Key).Msg("Remote row missing, inserting instead")
	}

	err = w.call(ctx, cfg, logger, "insert", func(ctx context.Context) error {
		_, err := w.remote.Insert(ctx, coll, doc)
		return err
	})
	if errors.IsConflict(err) {
		return w.reconcile(ctx, cfg, logger, change, doc[pk])
	}
	if err != nil {
		return err
	}
	return w.markSynced(ctx, change)
}

// reconcile resolves a write conflict by overwriting the local document
// with the remote row that holds its key. A conflict with no such row is
// a rejection of this document alone.
func (w *worker) reconcile(ctx context.Context, cfg SyncConfig, logger *zerolog.Logger, change document.Change, id any) error {
	coll := string(w.name)
	pk := w.schema.PrimaryKey

	var page remote.Page
	err := w.call(ctx, cfg, logger, "refetch", func(ctx context.Context) error {
		var err error
		page, err = w.remote.Query(ctx, query.Query{
			Collection: coll,
			Where:      []query.Predicate{query.Equal(pk, id)},
			Limit:      1,
		})
		return err
	})
	if err != nil {
		return err
	}
	if len(page.Records) == 0 {
		return errors.NewValidationError(pk, change.Key, "conflicting remote row could not be fetched")
	}

	if !w.isActive() {
		return errDetached
	}
	logger.Info().Str("key", change.Key).Str("op", change.Op.String()).Msg("Write conflicted, local document replaced by remote row")
	return w.local.Upsert(ctx, coll, change.Key, page.Records[0])
}

func (w *worker) markSynced(ctx context.Context, change document.Change) error {
	if !w.isActive() {
		return errDetached
	}
	err := w.local.MarkSynced(ctx, string(w.name), change.Key, change.Revision)
	if err != nil && !errors.IsNotFound(err) {
		return err
	}
	return nil
}
