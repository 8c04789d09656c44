package config

import (
	"os"
	"strings"

	"github.com/rohanthewiz/serr"

	"syncevo/revstore"
)

// ============================================================================
// Configuration
//
// Loads store and logging settings from SYNCEVO_* environment variables.
// Command line flags may override individual values after Load; Validate
// runs last so a bad combination fails before any store is opened.
// ============================================================================

// Config holds where a sync source keeps its revision store.
type Config struct {
	StoreDriver  string // file, duckdb or sqlite3 (SYNCEVO_STORE_DRIVER)
	StorePath    string // directory or database file (SYNCEVO_STORE_PATH)
	RecordFormat string // slash or msgpack (SYNCEVO_RECORD_FORMAT)
	SourceName   string // name of the sync source (SYNCEVO_SOURCE_NAME)
	LogLevel     string // logger level (SYNCEVO_LOG_LEVEL)
}

// Defaults used when the environment does not say otherwise.
const (
	DefaultStoreDriver  = revstore.DriverFile
	DefaultStorePath    = "./data"
	DefaultRecordFormat = revstore.FormatSlash
	DefaultSourceName   = "addressbook"
	DefaultLogLevel     = "info"
)

// Load reads the configuration from the environment. It never fails on
// content; Validate does that.
func Load() *Config {
	return &Config{
		StoreDriver:  envOr("SYNCEVO_STORE_DRIVER", DefaultStoreDriver),
		StorePath:    envOr("SYNCEVO_STORE_PATH", DefaultStorePath),
		RecordFormat: envOr("SYNCEVO_RECORD_FORMAT", DefaultRecordFormat),
		SourceName:   envOr("SYNCEVO_SOURCE_NAME", DefaultSourceName),
		LogLevel:     envOr("SYNCEVO_LOG_LEVEL", DefaultLogLevel),
	}
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// Validate checks every field against the values the store understands.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case revstore.DriverFile, revstore.DriverDuckDB, revstore.DriverSQLite:
	default:
		return serr.New("SYNCEVO_STORE_DRIVER must be file, duckdb or sqlite3, got " + c.StoreDriver)
	}

	if c.StorePath == "" {
		return serr.New("SYNCEVO_STORE_PATH must not be empty")
	}

	if _, err := revstore.CodecFor(c.RecordFormat); err != nil {
		return serr.Wrap(err, "invalid SYNCEVO_RECORD_FORMAT")
	}

	if c.SourceName == "" {
		return serr.New("SYNCEVO_SOURCE_NAME must not be empty")
	}
	if strings.ContainsAny(c.SourceName, `/\`) || strings.HasPrefix(c.SourceName, ".") {
		return serr.New("SYNCEVO_SOURCE_NAME must be a plain name, got " + c.SourceName)
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return serr.New("SYNCEVO_LOG_LEVEL must be debug, info, warn or error, got " + c.LogLevel)
	}

	return nil
}

// StoreOptions converts the configuration into revision store options.
func (c *Config) StoreOptions() revstore.Options {
	return revstore.Options{
		Driver: c.StoreDriver,
		Path:   c.StorePath,
		Format: c.RecordFormat,
		Source: c.SourceName,
	}
}
