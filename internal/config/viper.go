// Package config loads the collections file that declares which
// collections the engine synchronizes, watches it for changes, and offers
// helpers for reading application settings through Viper.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// GetString is a helper to get string values from Viper.
// It checks both OS environment variables and Viper configuration.
func GetString(key string) string {
	// Check OS env directly first
	osValue := os.Getenv(strings.ToUpper(key))
	viperValue := viper.GetString(key)

	// If Viper doesn't have it but OS does, return OS value
	if viperValue == "" && osValue != "" {
		return osValue
	}
	return viperValue
}

// GetDuration returns a duration setting, or fallback when it is unset or
// unparsable.
func GetDuration(key string, fallback time.Duration) time.Duration {
	raw := GetString(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
