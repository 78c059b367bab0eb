package config

import (
	"os"
	"strconv"
	"time"
)

// Server captures process-level configuration so main stays lean. Everything
// is read from the environment; defaults are suitable for local development
// and must be overridden in production.
type Server struct {
	Addr string

	// InternalSecret gates mutating endpoints when set. Empty disables the
	// check (dev mode), matching the upstream matching-service contract.
	InternalSecret string

	// PostgresURL selects the durable store. Empty falls back to in-memory
	// stores, which are fine for tests and single-process development.
	PostgresURL string

	Redis Redis

	// KeystorePath is where the signing keypair and encryption keys persist.
	// A restart loads the same keys; rotation is an explicit operator action.
	KeystorePath string

	// GenesisSeed anchors the first chain entry. Changing it on a populated
	// chain makes every verification fail, so treat it as immutable.
	GenesisSeed string

	VectorDim           int
	SimilarityThreshold float64
	SybilThreshold      float64

	// RevokeProofWindow bounds how far a revocation proof's timestamp may
	// drift from server time before it is rejected as stale.
	RevokeProofWindow time.Duration
	// NonceTTL is how long a consumed proof nonce is remembered for replay
	// detection. Must exceed RevokeProofWindow.
	NonceTTL time.Duration

	// MaxConsentDuration caps requested consent token lifetimes.
	MaxConsentDuration time.Duration
}

// Redis holds connection settings for the optional Redis-backed nonce store.
type Redis struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// FromEnv builds a Server config from environment variables.
func FromEnv() Server {
	return Server{
		Addr:                getString("VFACE_ADDR", ":8080"),
		InternalSecret:      os.Getenv("VFACE_INTERNAL_SECRET"),
		PostgresURL:         os.Getenv("VFACE_POSTGRES_URL"),
		KeystorePath:        getString("VFACE_KEYSTORE_PATH", "vface-keys.json"),
		GenesisSeed:         getString("VFACE_GENESIS_SEED", "vface-chain-genesis"),
		VectorDim:           getInt("VECTOR_DIM", 128),
		SimilarityThreshold: getFloat("SIMILARITY_THRESHOLD", 0.85),
		SybilThreshold:      getFloat("SYBIL_THRESHOLD", 0.92),
		RevokeProofWindow:   getDuration("VFACE_REVOKE_PROOF_WINDOW", 5*time.Minute),
		NonceTTL:            getDuration("VFACE_NONCE_TTL", 15*time.Minute),
		MaxConsentDuration:  getDuration("VFACE_MAX_CONSENT_DURATION", 30*24*time.Hour),
		Redis: Redis{
			URL:          os.Getenv("VFACE_REDIS_URL"),
			PoolSize:     getInt("VFACE_REDIS_POOL_SIZE", 10),
			MinIdleConns: getInt("VFACE_REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getDuration("VFACE_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getDuration("VFACE_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getDuration("VFACE_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
	}
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
