package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/go-playground/validator"
)

// Environment variables recognized by FromEnv. Overrides are read exactly
// once; the resulting Config is passed by value and never re-reads the
// environment.
const (
	EnvEnableEnhancedKG          = "ENABLE_ENHANCED_KG"
	EnvEntityDistanceThreshold   = "KG_ENTITY_DISTANCE_THRESHOLD"
	EnvEntityCacheSize           = "ENTITY_CACHE_SIZE"
	EnvMaxWorkers                = "KG_MAX_WORKERS"
	EnvChunkTimeout              = "KG_CHUNK_TIMEOUT"
	EnvMinRelationshipConfidence = "KG_MIN_RELATIONSHIP_CONFIDENCE"
	EnvMaxEdgesPerEntity         = "KG_MAX_EDGES_PER_ENTITY"
)

const (
	// LegacyDistanceThreshold is the similarity floor used when the enhanced
	// pipeline is disabled.
	LegacyDistanceThreshold = 0.1

	defaultDistanceThreshold = 0.85
	defaultCacheSize         = 1000
	defaultChunkTimeout      = 30 * time.Second
	defaultMinConfidence     = 0.3
	defaultMaxEdges          = 50
)

// Config is the immutable pipeline configuration. It is read once at
// construction and handed to every component by value.
type Config struct {
	// EnableEnhancedKG is the master switch. When false all other
	// enhancement toggles are ignored and the pipeline behaves as legacy:
	// threshold 0.1, no cache, untyped edges, sequential processing, no
	// symmetric synthesis.
	EnableEnhancedKG bool

	CanonicalizationEnabled      bool
	TypedRelationshipsEnabled    bool
	AliasTrackingEnabled         bool
	ParallelProcessingEnabled    bool
	CreateSymmetricRelationships bool

	EntityDistanceThreshold   float64       `validate:"gte=0,lte=1"`
	EntityCacheSize           int           `validate:"gt=0"`
	MaxWorkers                int           `validate:"gt=0"`
	ChunkTimeout              time.Duration `validate:"gt=0"`
	MinRelationshipConfidence float64       `validate:"gte=0,lte=1"`
	MaxEdgesPerEntity         int           `validate:"gt=0"`

	EnableCacheWarmup bool
}

// ConfigError reports an invalid or unparsable configuration. It is fatal at
// construction time; no other error in the pipeline is.
type ConfigError struct {
	Key string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config: invalid %s: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("config: %v", e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Default returns the configuration with all enhancement toggles on and
// enhanced mode off, matching the documented defaults.
func Default() Config {
	return Config{
		EnableEnhancedKG:             false,
		CanonicalizationEnabled:      true,
		TypedRelationshipsEnabled:    true,
		AliasTrackingEnabled:         true,
		ParallelProcessingEnabled:    true,
		CreateSymmetricRelationships: true,
		EntityDistanceThreshold:      defaultDistanceThreshold,
		EntityCacheSize:              defaultCacheSize,
		MaxWorkers:                   runtime.NumCPU() + 4,
		ChunkTimeout:                 defaultChunkTimeout,
		MinRelationshipConfidence:    defaultMinConfidence,
		MaxEdgesPerEntity:            defaultMaxEdges,
		EnableCacheWarmup:            true,
	}
}

// FromEnv builds a Config from the process environment, applied on top of the
// defaults. A variable that is set but unparsable is a ConfigError, not a
// silent fallback.
func FromEnv() (Config, error) {
	cfg := Default()

	var err error
	if cfg.EnableEnhancedKG, err = envBool(EnvEnableEnhancedKG, cfg.EnableEnhancedKG); err != nil {
		return Config{}, err
	}
	if !cfg.EnableEnhancedKG {
		cfg.EntityDistanceThreshold = LegacyDistanceThreshold
	}
	if cfg.EntityDistanceThreshold, err = envFloat(EnvEntityDistanceThreshold, cfg.EntityDistanceThreshold); err != nil {
		return Config{}, err
	}
	if cfg.EntityCacheSize, err = envInt(EnvEntityCacheSize, cfg.EntityCacheSize); err != nil {
		return Config{}, err
	}
	if cfg.MaxWorkers, err = envInt(EnvMaxWorkers, cfg.MaxWorkers); err != nil {
		return Config{}, err
	}
	timeoutSec, err := envInt(EnvChunkTimeout, int(cfg.ChunkTimeout/time.Second))
	if err != nil {
		return Config{}, err
	}
	cfg.ChunkTimeout = time.Duration(timeoutSec) * time.Second
	if cfg.MinRelationshipConfidence, err = envFloat(EnvMinRelationshipConfidence, cfg.MinRelationshipConfidence); err != nil {
		return Config{}, err
	}
	if cfg.MaxEdgesPerEntity, err = envInt(EnvMaxEdgesPerEntity, cfg.MaxEdgesPerEntity); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the numeric bounds on the record.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return &ConfigError{Err: err}
	}
	return nil
}

// Canonicalization reports whether names are normalized and canonical ids
// derived.
func (c Config) Canonicalization() bool {
	return c.EnableEnhancedKG && c.CanonicalizationEnabled
}

// TypedRelationships reports whether the extractor requests and the store
// records semantic edge types with confidence.
func (c Config) TypedRelationships() bool {
	return c.EnableEnhancedKG && c.TypedRelationshipsEnabled
}

// AliasTracking reports whether differing surface forms are appended to an
// entity's alias list on duplicate hits.
func (c Config) AliasTracking() bool {
	return c.EnableEnhancedKG && c.AliasTrackingEnabled
}

// Parallel reports whether the indexer fans chunks out over a worker pool.
func (c Config) Parallel() bool {
	return c.EnableEnhancedKG && c.ParallelProcessingEnabled
}

// Symmetric reports whether symmetric edge types synthesize an inverse edge.
func (c Config) Symmetric() bool {
	return c.EnableEnhancedKG && c.CreateSymmetricRelationships
}

// EffectiveThreshold returns the similarity floor for entity merging,
// forcing the legacy value when enhanced mode is off.
func (c Config) EffectiveThreshold() float64 {
	if !c.EnableEnhancedKG {
		return LegacyDistanceThreshold
	}
	return c.EntityDistanceThreshold
}

// CacheEnabled reports whether the entity LRU cache is in use.
func (c Config) CacheEnabled() bool {
	return c.EnableEnhancedKG && c.EntityCacheSize > 0
}

func envBool(key string, fallback bool) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return false, &ConfigError{Key: key, Err: err}
	}
	return parsed, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, &ConfigError{Key: key, Err: err}
	}
	return parsed, nil
}

func envInt(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0, &ConfigError{Key: key, Err: err}
	}
	return parsed, nil
}
