package dicomreg

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/patrickmn/go-cache"

	"regtoh5/pkg/transform"
)

// Cache lifetimes for parsed registrations. A conversion touches the same
// file at most twice within a few milliseconds.
const (
	DefaultCacheExpiration = 5 * time.Minute
	cacheCleanupInterval   = 10 * time.Minute
)

// TransformIO reads per-frame transform lists out of REG files.
type TransformIO struct {
	cache      *cache.Cache
	skipGrids  bool
	logger     *slog.Logger
	parseCalls int
}

// Option configures a TransformIO.
type Option func(*TransformIO)

// WithCache enables caching of parsed files for the given duration.
func WithCache(expiration time.Duration) Option {
	return func(t *TransformIO) {
		if expiration <= 0 {
			t.cache = nil
			return
		}
		t.cache = cache.New(expiration, cacheCleanupInterval)
	}
}

// WithoutCache parses the file on every read.
func WithoutCache() Option {
	return func(t *TransformIO) { t.cache = nil }
}

// SkipDeformationGrids drops deformation grids instead of reporting them as
// unsupported transform nodes.
func SkipDeformationGrids(skip bool) Option {
	return func(t *TransformIO) { t.skipGrids = skip }
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(t *TransformIO) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewTransformIO returns a reader with caching enabled by default.
func NewTransformIO(opts ...Option) *TransformIO {
	t := &TransformIO{
		cache:  cache.New(DefaultCacheExpiration, cacheCleanupInterval),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Load returns the decoded registration stored at path, from cache when the
// file is unchanged since it was last parsed.
func (t *TransformIO) Load(path string) (*Registration, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat registration file: %w", err)
	}

	key := cacheKey(path, info)
	if t.cache != nil {
		if v, ok := t.cache.Get(key); ok {
			t.logger.Debug("registration cache hit", "path", path)
			return v.(*Registration), nil
		}
	}

	t.parseCalls++
	reg, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	t.logger.Debug("parsed registration",
		"path", path,
		"sop_class", reg.SOPClassUID,
		"frames", reg.FramesOfReference(),
	)

	if t.cache != nil {
		t.cache.Set(key, reg, cache.DefaultExpiration)
	}
	return reg, nil
}

// ReadTransforms returns the transform list registered for
// frameOfReferenceUID in the REG file at path. The list is empty when the
// file does not register that frame.
func (t *TransformIO) ReadTransforms(path, frameOfReferenceUID string) ([]transform.Node, error) {
	reg, err := t.Load(path)
	if err != nil {
		return nil, err
	}
	if t.skipGrids && reg.HasGrids() {
		t.logger.Warn("ignoring deformation grids in registration",
			"path", path,
			"frame", frameOfReferenceUID,
		)
	}
	return reg.TransformsFor(frameOfReferenceUID, t.skipGrids), nil
}

// ParseCalls returns how many times a file was actually decoded.
func (t *TransformIO) ParseCalls() int {
	return t.parseCalls
}

func cacheKey(path string, info os.FileInfo) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return fmt.Sprintf("%s|%d|%d", abs, info.Size(), info.ModTime().UnixNano())
}
