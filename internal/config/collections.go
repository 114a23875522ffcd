package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/agentstation/rallysync"
	"github.com/agentstation/rallysync/pkg/document"
	"github.com/agentstation/rallysync/pkg/errors"
	"github.com/agentstation/rallysync/pkg/query"
)

// Collection is one entry of the collections file.
type Collection struct {
	Name   rallysync.CollectionName
	Config rallysync.SyncConfig
	Schema document.Schema
}

// Collections is a parsed collections file in file order.
type Collections []Collection

// Names returns the collection names in file order.
func (c Collections) Names() []rallysync.CollectionName {
	names := make([]rallysync.CollectionName, len(c))
	for i, coll := range c {
		names[i] = coll.Name
	}
	return names
}

// Find returns the named collection.
func (c Collections) Find(name rallysync.CollectionName) (Collection, bool) {
	for _, coll := range c {
		if coll.Name == name {
			return coll, true
		}
	}
	return Collection{}, false
}

// rawFile mirrors the YAML layout; durations and operators stay strings
// until Parse converts them.
type rawFile struct {
	Collections []rawCollection `yaml:"collections"`
}

type rawCollection struct {
	Name          string          `yaml:"name"`
	Enabled       *bool           `yaml:"enabled"`
	BatchSize     int             `yaml:"batch_size"`
	SyncInterval  string          `yaml:"sync_interval"`
	RetryAttempts int             `yaml:"retry_attempts"`
	Schema        document.Schema `yaml:"schema"`
	Filters       []rawFilter     `yaml:"filters"`
}

type rawFilter struct {
	Field    string `yaml:"field"`
	Operator string `yaml:"operator"`
	Value    any    `yaml:"value"`
}

// Load reads and parses a collections file.
func Load(path string) (Collections, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapIO("read", path, err)
	}
	return Parse(data, path)
}

// Parse decodes a collections file and validates every entry. Omitted
// settings take the engine defaults; a collection is enabled unless it
// says otherwise.
func Parse(data []byte, file string) (Collections, error) {
	var raw rawFile
	if err := yaml.UnmarshalWithOptions(data, &raw, yaml.DisallowUnknownField()); err != nil {
		return nil, errors.WrapParse("yaml", file, err)
	}

	out := make(Collections, 0, len(raw.Collections))
	for i, rc := range raw.Collections {
		coll, err := rc.convert()
		if err != nil {
			name := rc.Name
			if name == "" {
				name = fmt.Sprintf("#%d", i+1)
			}
			return nil, errors.NewConfigError("collection "+name, err.Error(), err)
		}
		out = append(out, coll)
	}
	if err := Validate(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Validate checks names, configs and schemas of every collection.
func Validate(colls Collections) error {
	seen := make(map[rallysync.CollectionName]bool, len(colls))
	for _, c := range colls {
		if c.Name == "" {
			return errors.NewConfigError("collections", "every collection needs a name", nil)
		}
		if seen[c.Name] {
			return errors.NewConfigError("collection "+string(c.Name), "duplicate collection name", nil)
		}
		seen[c.Name] = true

		if err := c.Config.WithDefaults().Validate(); err != nil {
			return errors.NewConfigError("collection "+string(c.Name), err.Error(), err)
		}
		if err := c.Schema.WithDefaults().Validate(); err != nil {
			return errors.NewConfigError("collection "+string(c.Name), err.Error(), err)
		}
	}
	return nil
}

func (rc rawCollection) convert() (Collection, error) {
	cfg := rallysync.SyncConfig{
		Enabled:       rc.Enabled == nil || *rc.Enabled,
		BatchSize:     rc.BatchSize,
		RetryAttempts: rc.RetryAttempts,
	}
	if rc.SyncInterval != "" {
		d, err := time.ParseDuration(rc.SyncInterval)
		if err != nil {
			return Collection{}, errors.NewValidationError("sync_interval", rc.SyncInterval, "not a duration")
		}
		cfg.SyncInterval = d
	}
	for _, rf := range rc.Filters {
		op, err := query.ParseOperator(rf.Operator)
		if err != nil {
			return Collection{}, err
		}
		cfg.Filters = append(cfg.Filters, query.Filter{Field: rf.Field, Operator: op, Value: rf.Value})
	}

	return Collection{
		Name:   rallysync.CollectionName(rc.Name),
		Config: cfg.WithDefaults(),
		Schema: rc.Schema.WithDefaults(),
	}, nil
}
