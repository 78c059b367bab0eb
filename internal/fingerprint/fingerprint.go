// Package fingerprint derives the deterministic 64-hex identifier from a raw
// feature vector. The derivation is exact by construction: independent runs of
// the upstream extractor converge on identical bytes after quantization, and a
// one-unit rounding difference yields a completely different digest. Fuzzy
// tolerance lives in the similarity matcher, never here.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strconv"
	"strings"

	domainerrors "vface/pkg/domain-errors"
)

// Precision is the fixed decimal precision applied to every component before
// serialization. Part of the fingerprint contract; changing it changes every
// derived identifier.
const Precision = 4

// HexLength is the length of a derived fingerprint.
const HexLength = 64

// Deriver computes fingerprints for vectors of a fixed dimension.
type Deriver struct {
	dim int
}

// NewDeriver returns a deriver for the given vector dimension.
func NewDeriver(dim int) *Deriver {
	return &Deriver{dim: dim}
}

// Dim returns the configured vector dimension.
func (d *Deriver) Dim() int { return d.dim }

// Derive computes the fingerprint: L2-normalize, quantize to Precision decimal
// places, serialize canonically, SHA-256, hex-encode.
func (d *Deriver) Derive(vector []float64) (string, error) {
	if len(vector) != d.dim {
		return "", domainerrors.Newf(domainerrors.CodeValidation,
			"dimension mismatch: expected %d components, got %d", d.dim, len(vector))
	}

	normalized := l2Normalize(vector)
	serialized := canonicalize(normalized)
	sum := sha256.Sum256([]byte(serialized))
	return hex.EncodeToString(sum[:]), nil
}

// Valid reports whether s is a well-formed fingerprint (64 lowercase hex).
func Valid(s string) bool {
	if len(s) != HexLength {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func l2Normalize(vector []float64) []float64 {
	var sum float64
	for _, v := range vector {
		sum += v * v
	}
	norm := math.Sqrt(sum)
	out := make([]float64, len(vector))
	if norm == 0 {
		copy(out, vector)
		return out
	}
	for i, v := range vector {
		out[i] = v / norm
	}
	return out
}

// canonicalize produces a stable, whitespace-free array encoding with every
// component at exactly Precision decimal places. Negative zero is folded into
// zero so -0.00004 and 0.00004 quantize to the same bytes.
func canonicalize(vector []float64) string {
	var b strings.Builder
	b.Grow(len(vector)*8 + 2)
	b.WriteByte('[')
	for i, v := range vector {
		if i > 0 {
			b.WriteByte(',')
		}
		q := math.Round(v*1e4) / 1e4
		if q == 0 {
			q = 0 // drop the sign on negative zero
		}
		b.WriteString(strconv.FormatFloat(q, 'f', Precision, 64))
	}
	b.WriteByte(']')
	return b.String()
}
