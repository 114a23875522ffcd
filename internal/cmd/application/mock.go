package application

import (
	"github.com/rs/zerolog"

	"github.com/agentstation/rallysync"
	"github.com/agentstation/rallysync/internal/config"
	"github.com/agentstation/rallysync/pkg/errors"
	"github.com/agentstation/rallysync/pkg/store"
)

var _ Application = (*Mock)(nil)

// Mock provides a mock implementation of Application for testing.
// Each method can be customized by setting the corresponding function field.
// If a function field is nil, the method returns a default/zero value.
//
// Example Usage:
//
//	mock := &application.Mock{
//	    EngineFunc: func() (rallysync.Engine, error) {
//	        return registry, nil
//	    },
//	}
//	cmd := status.NewCommand(mock)
type Mock struct {
	EngineFunc          func() (rallysync.Engine, error)
	StoreFunc           func() (store.Store, error)
	CollectionsFunc     func() (config.Collections, error)
	CollectionsFileFunc func() string
	LoggerFunc          func() *zerolog.Logger
	OutputFormatFunc    func() string
	VersionFunc         func() string
	CommitFunc          func() string
	DateFunc            func() string
	BuiltByFunc         func() string
}

// Engine returns the engine from EngineFunc or an error.
func (m *Mock) Engine() (rallysync.Engine, error) {
	if m.EngineFunc != nil {
		return m.EngineFunc()
	}
	return nil, errors.NewConfigError("mock", "no engine configured", nil)
}

// Store returns the store from StoreFunc or an error.
func (m *Mock) Store() (store.Store, error) {
	if m.StoreFunc != nil {
		return m.StoreFunc()
	}
	return nil, errors.NewConfigError("mock", "no store configured", nil)
}

// Collections returns the collections from CollectionsFunc or none.
func (m *Mock) Collections() (config.Collections, error) {
	if m.CollectionsFunc != nil {
		return m.CollectionsFunc()
	}
	return nil, nil
}

// CollectionsFile returns the path from CollectionsFileFunc or "".
func (m *Mock) CollectionsFile() string {
	if m.CollectionsFileFunc != nil {
		return m.CollectionsFileFunc()
	}
	return ""
}

// Logger returns the logger from LoggerFunc or a no-op logger.
func (m *Mock) Logger() *zerolog.Logger {
	if m.LoggerFunc != nil {
		return m.LoggerFunc()
	}
	logger := zerolog.Nop()
	return &logger
}

// OutputFormat returns the format from OutputFormatFunc or "table".
func (m *Mock) OutputFormat() string {
	if m.OutputFormatFunc != nil {
		return m.OutputFormatFunc()
	}
	return "table"
}

// Version returns the version from VersionFunc or "dev".
func (m *Mock) Version() string {
	if m.VersionFunc != nil {
		return m.VersionFunc()
	}
	return "dev"
}

// Commit returns the commit from CommitFunc or "unknown".
func (m *Mock) Commit() string {
	if m.CommitFunc != nil {
		return m.CommitFunc()
	}
	return "unknown"
}

// Date returns the date from DateFunc or "unknown".
func (m *Mock) Date() string {
	if m.DateFunc != nil {
		return m.DateFunc()
	}
	return "unknown"
}

// BuiltBy returns the builder from BuiltByFunc or "unknown".
func (m *Mock) BuiltBy() string {
	if m.BuiltByFunc != nil {
		return m.BuiltByFunc()
	}
	return "unknown"
}
