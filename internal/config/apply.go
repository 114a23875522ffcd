package config

import (
	"slices"

	"github.com/agentstation/rallysync"
	"github.com/agentstation/rallysync/pkg/errors"
	"github.com/agentstation/rallysync/pkg/store"
)

// Apply makes the engine's registrations match colls: listed collections
// are added or updated in place, unlisted ones are removed. Every
// collection shares the local store.
func Apply(engine rallysync.Engine, colls Collections, local store.Local) error {
	var errs []error
	for _, c := range colls {
		if err := engine.AddCollection(c.Name, local, c.Config, rallysync.WithSchema(c.Schema)); err != nil {
			errs = append(errs, err)
		}
	}

	wanted := colls.Names()
	for _, name := range engine.Collections() {
		if slices.Contains(wanted, name) {
			continue
		}
		if err := engine.RemoveCollection(name); err != nil && !errors.IsNotFound(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
