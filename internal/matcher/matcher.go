// Package matcher implements cosine-similarity search over enrolled vectors.
// The default implementation is a deliberate linear scan with decrypt-per-row;
// the VectorIndex contract stays stable if a caller later substitutes an
// indexed nearest-neighbor engine.
package matcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"vface/internal/platform/metrics"
	"vface/internal/vault"
)

// Match is one scan result at or above the query threshold.
type Match struct {
	Fingerprint string  `json:"fingerprint"`
	OwnerKey    string  `json:"ownerKey"`
	Similarity  float64 `json:"similarity"`
}

// VectorIndex is the pluggable similarity-search contract. Query returns
// matches at or above threshold, sorted by similarity descending with ties
// broken by insertion order (earliest record first). topK <= 0 returns all.
type VectorIndex interface {
	Insert(ctx context.Context, fp string, vector []float64) error
	Query(ctx context.Context, vector []float64, threshold float64, topK int) ([]Match, error)
}

// StoredVector is one candidate row surfaced by a VectorSource, in insertion
// order.
type StoredVector struct {
	Fingerprint     string
	OwnerKey        string
	EncryptedVector string
}

// VectorSource lists the non-revoked records that carry a stored vector.
type VectorSource interface {
	ListActiveVectors(ctx context.Context) ([]StoredVector, error)
}

// LinearScanner scans every active record, decrypting each vector through the
// keyring. Read-only: it holds no lock that blocks registrations.
type LinearScanner struct {
	source  VectorSource
	keyring *vault.Keyring
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewLinearScanner builds the default scan-based index.
func NewLinearScanner(source VectorSource, keyring *vault.Keyring, logger *slog.Logger, m *metrics.Metrics) *LinearScanner {
	return &LinearScanner{source: source, keyring: keyring, logger: logger, metrics: m}
}

// Insert is a no-op: the registry store is the system of record and the scan
// reads through it. An external ANN index would maintain its own structure
// here.
func (s *LinearScanner) Insert(_ context.Context, _ string, _ []float64) error {
	return nil
}

// Query runs the scan. Individually corrupt or undecryptable rows are logged,
// counted, and skipped; they never abort the whole search.
func (s *LinearScanner) Query(ctx context.Context, vector []float64, threshold float64, topK int) ([]Match, error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.SearchDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
		}
	}()

	rows, err := s.source.ListActiveVectors(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active vectors: %w", err)
	}

	matches := make([]Match, 0, 4)
	for _, row := range rows {
		plaintext, err := s.keyring.Decrypt(row.EncryptedVector)
		if err != nil {
			s.skipRow(ctx, row.Fingerprint, "decrypt", err)
			continue
		}
		stored, err := DecodeVector(plaintext)
		if err != nil {
			s.skipRow(ctx, row.Fingerprint, "decode", err)
			continue
		}

		similarity := Cosine(vector, stored)
		if similarity >= threshold {
			matches = append(matches, Match{
				Fingerprint: row.Fingerprint,
				OwnerKey:    row.OwnerKey,
				Similarity:  round4(similarity),
			})
		}
	}

	// Stable sort keeps insertion order for equal similarities.
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (s *LinearScanner) skipRow(ctx context.Context, fp, stage string, err error) {
	if s.metrics != nil {
		s.metrics.ScanRowsSkipped.Inc()
	}
	if s.logger != nil {
		s.logger.WarnContext(ctx, "skipping corrupt row during similarity scan",
			"fingerprint", fp,
			"stage", stage,
			"error", err.Error(),
		)
	}
}

// Cosine returns dot(a,b)/(|a|*|b|), or 0 when either vector has zero norm or
// the dimensions disagree.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// EncodeVector serializes a vector for encryption at rest.
func EncodeVector(v []float64) ([]byte, error) {
	return json.Marshal(v)
}

// DecodeVector parses a decrypted vector payload.
func DecodeVector(b []byte) ([]float64, error) {
	var v []float64
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("decode vector: %w", err)
	}
	return v, nil
}

func round4(f float64) float64 {
	return math.Round(f*1e4) / 1e4
}
