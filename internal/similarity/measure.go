// Package similarity defines the closed set of set-similarity measures and the
// threshold, position-filter and exact-score arithmetic each one needs for
// prefix-filtered joins.
package similarity

import (
	"fmt"
	"math"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/set-similarity-search/pkg/errors"
)

// Measure selects a similarity function. The zero value is Jaccard.
type Measure int

const (
	Jaccard Measure = iota
	Cosine
	Containment
	ContainmentMin
)

var measureNames = [...]string{
	Jaccard:        "jaccard",
	Cosine:         "cosine",
	Containment:    "containment",
	ContainmentMin: "containment_min",
}

// Measures returns every supported measure in declaration order.
func Measures() []Measure {
	return []Measure{Jaccard, Cosine, Containment, ContainmentMin}
}

// ParseMeasure maps a measure name to its Measure.
func ParseMeasure(name string) (Measure, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	for m, n := range measureNames {
		if n == normalized {
			return Measure(m), nil
		}
	}
	return 0, fmt.Errorf("%w: %q (supported: %s)",
		apperrors.ErrUnsupportedMeasure, name, strings.Join(measureNames[:], ", "))
}

func (m Measure) String() string {
	if m < 0 || int(m) >= len(measureNames) {
		return fmt.Sprintf("measure(%d)", int(m))
	}
	return measureNames[m]
}

// Valid reports whether m is one of the declared measures.
func (m Measure) Valid() bool {
	return m >= Jaccard && m <= ContainmentMin
}

// Symmetric reports whether Score(i, x, y) == Score(i, y, x) for all inputs.
func (m Measure) Symmetric() bool {
	return m != Containment
}

// ValidateThreshold rejects thresholds outside [0, 1].
func ValidateThreshold(threshold float64) error {
	if math.IsNaN(threshold) || threshold < 0 || threshold > 1 {
		return fmt.Errorf("%w: %v is not in [0, 1]", apperrors.ErrThresholdOutOfRange, threshold)
	}
	return nil
}

// OverlapThreshold is the minimum number of shared tokens a set of size x
// needs to reach threshold. It is used for probing (query) sets, and for both
// sides of a self-join.
func (m Measure) OverlapThreshold(x int, threshold float64) int {
	switch m {
	case Cosine:
		return int(math.Sqrt(float64(x)) * threshold)
	case Jaccard, Containment, ContainmentMin:
		return int(float64(x) * threshold)
	default:
		panic(fmt.Sprintf("similarity: unknown measure %d", int(m)))
	}
}

// IndexOverlapThreshold is OverlapThreshold for the indexed side of a search
// index. For Containment a single shared token can be enough, because the
// indexed set plays the containing role.
func (m Measure) IndexOverlapThreshold(x int, threshold float64) int {
	if m == Containment {
		return 1
	}
	return m.OverlapThreshold(x, threshold)
}

// PrefixLength returns size - overlap + 1 clamped to [0, size].
func PrefixLength(size, overlap int) int {
	n := size - overlap + 1
	if n > size {
		n = size
	}
	if n < 0 {
		n = 0
	}
	return n
}

// PositionFilter bounds the overlap still reachable after a shared token found
// at position p1 of the probing set (size x) and p2 of the other set (size y).
// For Containment, x is the size of the contained set.
func (m Measure) PositionFilter(x, y, p1, p2 int, threshold float64) bool {
	remaining := float64(min(x-p1, y-p2))
	switch m {
	case Jaccard, ContainmentMin:
		return remaining/float64(max(x, y)) >= threshold
	case Cosine:
		return remaining/math.Sqrt(float64(max(x, y))) >= threshold
	case Containment:
		return remaining/float64(x) >= threshold
	default:
		panic(fmt.Sprintf("similarity: unknown measure %d", int(m)))
	}
}

// Score computes the exact similarity from the intersection size i and the
// two set sizes. For Containment, x is the size of the contained set. An
// empty denominator scores 0.
func (m Measure) Score(i, x, y int) float64 {
	var denom float64
	switch m {
	case Jaccard:
		denom = float64(x + y - i)
	case Cosine:
		denom = math.Sqrt(float64(x) * float64(y))
	case Containment:
		denom = float64(x)
	case ContainmentMin:
		denom = float64(max(x, y))
	default:
		panic(fmt.Sprintf("similarity: unknown measure %d", int(m)))
	}
	if denom == 0 {
		return 0
	}
	return float64(i) / denom
}

// Similarity scores two sorted, duplicate-free id slices.
func (m Measure) Similarity(a, b []uint32) float64 {
	return m.Score(Overlap(a, b), len(a), len(b))
}
