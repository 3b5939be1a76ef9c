package engine

import (
	"math"
	"unicode/utf16"
)

// mulberryIncrement is the Weyl-sequence step added to the state on every draw.
const mulberryIncrement uint32 = 0x6D2B79F5

// Generator is an immutable Mulberry32 state. Advancing it returns a new
// Generator, so a value can be shared freely between goroutines.
type Generator struct {
	state uint32
}

// Derive folds a seed string into the initial generator state.
//
// The fold runs over UTF-16 code units with h = h*31 + c (mod 2^32) so that
// the browser client and the server agree on every seed, including seeds
// containing characters outside the Basic Multilingual Plane.
func Derive(seed string) Generator {
	var h uint32
	for _, c := range utf16.Encode([]rune(seed)) {
		h = h*31 + uint32(c)
	}
	return Generator{state: h}
}

// State exposes the folded 32-bit state.
func (g Generator) State() uint32 {
	return g.state
}

// Next returns the next value in [0, 1) together with the advanced generator.
func (g Generator) Next() (float64, Generator) {
	s := g.state + mulberryIncrement
	t := (s ^ s>>15) * (s | 1)
	t ^= t + (t^t>>7)*(s|61)
	return float64(t^t>>14) / 4294967296, Generator{state: s}
}

// Floats returns the first count values produced by seed.
func Floats(seed string, count int) []float64 {
	if count <= 0 {
		return nil
	}
	out := make([]float64, count)
	FloatsInto(out, seed)
	return out
}

// FloatsInto fills dst with values produced by seed.
func FloatsInto(dst []float64, seed string) {
	g := Derive(seed)
	for i := range dst {
		dst[i], g = g.Next()
	}
}

// Rand is a stateful convenience wrapper around Generator. It is not safe for
// concurrent use; give each caller its own.
type Rand struct {
	gen Generator
}

// NewRand returns a Rand positioned at the start of seed's sequence.
func NewRand(seed string) *Rand {
	return &Rand{gen: Derive(seed)}
}

// Float64 returns the next value in [0, 1).
func (r *Rand) Float64() float64 {
	v, next := r.gen.Next()
	r.gen = next
	return v
}

// Range returns an integer in [min, max], matching the client's integer draw.
func (r *Rand) Range(min, max int) int {
	v := r.Float64()
	return int(math.Floor(float64(min) + v*float64(max-min+1)))
}

// FloatRange returns a float in [min, max).
func (r *Rand) FloatRange(min, max float64) float64 {
	return min + r.Float64()*(max-min)
}
