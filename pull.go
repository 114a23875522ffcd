package rallysync

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/agentstation/rallysync/pkg/errors"
	"github.com/agentstation/rallysync/pkg/query"
	"github.com/agentstation/rallysync/pkg/remote"
)

// pull copies remote records matching the collection's filters into the
// local store, page by page, and advances the checkpoint.
//
// The checkpoint is inclusive: rows whose modified marker equals it are
// read again, so rows that share the marker of the last pull are not
// lost. Such boundary rows never replace a document with a pending local
// write; push settles those.
func (w *worker) pull(ctx context.Context, cfg SyncConfig, logger *zerolog.Logger) error {
	coll := string(w.name)

	checkpoint, err := w.local.Checkpoint(ctx, coll)
	if err != nil {
		return errors.NewSyncError(coll, "pull", nil, err)
	}

	where := query.Translate(cfg.Filters)
	order := []query.Order{{Field: w.schema.PrimaryKey}}
	mod := w.schema.ModifiedField
	var held map[string]struct{}
	if mod != "" {
		if checkpoint != nil {
			where = append(where, query.Compare{Field: mod, Op: query.Gte, Value: checkpoint})
			if held, err = w.pendingKeys(ctx); err != nil {
				return errors.NewSyncError(coll, "pull", nil, err)
			}
		}
		order = append([]query.Order{{Field: mod}}, order...)
	}

	var (
		total    = remote.UnknownTotal
		pages    int
		pulled   int
		highest  = checkpoint
		advanced bool
	)
	for offset := 0; ; offset += cfg.BatchSize {
		q := query.Query{
			Collection: coll,
			Where:      where,
			OrderBy:    order,
			Limit:      cfg.BatchSize,
			Offset:     offset,
			Count:      offset == 0,
		}

		var page remote.Page
		err := w.call(ctx, cfg, logger, "pull", func(ctx context.Context) error {
			var err error
			page, err = w.remote.Query(ctx, q)
			return err
		})
		if err != nil {
			return errors.NewSyncError(coll, "pull", nil, err)
		}
		if offset == 0 {
			total = page.Total
		}

		for _, rec := range page.Records {
			key, ok := rec.Key(w.schema)
			if !ok {
				logger.Warn().Str("primary_key", w.schema.PrimaryKey).Msg("Skipping pulled record without a primary key")
				continue
			}
			if !w.isActive() {
				return errDetached
			}
			var v any
			if mod != "" {
				v = rec[mod]
			}
			if _, ok := held[key]; ok && v != nil && query.ValuesEqual(v, checkpoint) {
				continue
			}
			if err := w.local.Upsert(ctx, coll, key, rec); err != nil {
				return errors.NewSyncError(coll, "pull", []string{key}, err)
			}
			if v != nil {
				if highest == nil {
					highest, advanced = v, true
				} else if c, ok := query.CompareValues(v, highest); ok && c > 0 {
					highest, advanced = v, true
				}
			}
			pulled++
		}

		pages++
		if total > 0 {
			estimated := (total + cfg.BatchSize - 1) / cfg.BatchSize
			w.progress(min(100, pages*100/estimated))
		}
		if len(page.Records) < cfg.BatchSize {
			break
		}
	}

	if advanced {
		if !w.isActive() {
			return errDetached
		}
		if err := w.local.SaveCheckpoint(ctx, coll, highest); err != nil {
			return errors.NewSyncError(coll, "pull", nil, err)
		}
	}

	logger.Debug().
		Int("records", pulled).
		Int("pages", pages).
		Int("total", total).
		Interface("checkpoint", highest).
		Msg("Pull finished")
	return nil
}

func (w *worker) pendingKeys(ctx context.Context) (map[string]struct{}, error) {
	changes, err := w.local.Pending(ctx, string(w.name))
	if err != nil {
		return nil, err
	}
	keys := make(map[string]struct{}, len(changes))
	for _, c := range changes {
		keys[c.Key] = struct{}{}
	}
	return keys, nil
}
