// Package random provides the injectable random source used by the
// synthetic actor scheduler and the notification throttle.
package random

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"sync"
)

// Source is the subset of math/rand/v2 behavior the domain depends on.
type Source interface {
	// Float64 returns a value in [0.0, 1.0).
	Float64() float64
	// IntN returns a value in [0, n). It panics if n <= 0.
	IntN(n int) int
}

// lockedSource makes a *rand.Rand safe for concurrent timer callbacks.
type lockedSource struct {
	mu sync.Mutex
	r  *rand.Rand
}

// New returns a goroutine-safe PCG source seeded with seed.
func New(seed uint64) Source {
	return &lockedSource{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))} //nolint:gosec // simulation randomness
}

func (s *lockedSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.Float64()
}

func (s *lockedSource) IntN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.IntN(n)
}

// NewSeed generates a seed using crypto/rand.
func NewSeed() (uint64, error) {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("read random seed: %w", err)
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// Seeded returns a source seeded from crypto/rand, falling back to a fixed
// seed if the system source is unavailable.
func Seeded() Source {
	seed, err := NewSeed()
	if err != nil {
		seed = 42
	}
	return New(seed)
}

// Scripted replays a fixed sequence of floats, cycling when exhausted.
// IntN maps the next float onto [0, n).
type Scripted struct {
	mu     sync.Mutex
	values []float64
	next   int
}

// NewScripted returns a scripted source. With no values it always yields 0.
func NewScripted(values ...float64) *Scripted {
	return &Scripted{values: values}
}

// Float64 returns the next scripted value.
func (s *Scripted) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.values) == 0 {
		return 0
	}
	v := s.values[s.next%len(s.values)]
	s.next++
	return v
}

// IntN returns the next scripted value scaled to [0, n).
func (s *Scripted) IntN(n int) int {
	if n <= 0 {
		panic("random: invalid argument to IntN")
	}
	i := int(s.Float64() * float64(n))
	if i >= n {
		i = n - 1
	}
	if i < 0 {
		i = 0
	}
	return i
}
