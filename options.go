package buildstore

import (
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aweris/buildstore/internal/compression"
	"github.com/aweris/buildstore/internal/digest"
	"github.com/aweris/buildstore/internal/staging"
)

// DefaultCacheSize is the default number of object metadata records
// kept in memory.
const DefaultCacheSize = 1024

// OpenOptions configures a Store.
type OpenOptions struct {
	Algorithm        Algorithm
	Concurrency      int
	TempGrace        time.Duration
	CacheSize        int
	CompressionLevel int
	Logger           logrus.FieldLogger
}

// OpenOption is a functional option for configuring Open.
type OpenOption func(*OpenOptions)

func defaultOptions() *OpenOptions {
	return &OpenOptions{
		Algorithm:        digest.Canonical,
		Concurrency:      digest.DefaultConcurrency,
		TempGrace:        staging.DefaultGrace,
		CacheSize:        DefaultCacheSize,
		CompressionLevel: compression.LevelDefault,
	}
}

// WithAlgorithm sets the hash algorithm for new objects.
func WithAlgorithm(algo Algorithm) OpenOption {
	return func(o *OpenOptions) { o.Algorithm = algo }
}

// WithConcurrency sets the number of files hashed or verified in parallel.
func WithConcurrency(n int) OpenOption {
	return func(o *OpenOptions) {
		if n > 0 {
			o.Concurrency = n
		}
	}
}

// WithTempGrace sets the age after which Open sweeps abandoned staging
// entries. Zero disables the sweep on open.
func WithTempGrace(d time.Duration) OpenOption {
	return func(o *OpenOptions) { o.TempGrace = d }
}

// WithCacheSize sets how many metadata records are cached. Zero
// disables the cache.
func WithCacheSize(n int) OpenOption {
	return func(o *OpenOptions) { o.CacheSize = n }
}

// WithCompressionLevel sets the zstd level used by Export (1 fastest to
// 3 best).
func WithCompressionLevel(level int) OpenOption {
	return func(o *OpenOptions) { o.CompressionLevel = level }
}

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) OpenOption {
	return func(o *OpenOptions) { o.Logger = log }
}

// DefaultRoot returns the store location used when none is configured.
func DefaultRoot() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "buildstore")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "buildstore")
	}
	return ".buildstore"
}
