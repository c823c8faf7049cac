// Package xoshiro256 implements the xoshiro256** pseudo-random
// number generator. The implementation is based on the public domain
// [C implementation], seeded through splitmix64 as its authors
// recommend.
//
// [C implementation]: https://xoshiro.di.unimi.it/xoshiro256starstar.c
package xoshiro256

import "math"

type Source struct {
	state [4]uint64
}

// NewSource returns a generator whose stream is determined entirely
// by seed.
func NewSource(seed uint64) *Source {
	s := new(Source)
	s.Seed(seed)
	return s
}

func (s *Source) Seed(seed uint64) {
	for i := range s.state {
		seed, s.state[i] = splitmix64(seed)
	}
}

func splitmix64(state uint64) (uint64, uint64) {
	state += 0x9E3779B97F4A7C15
	z := state
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return state, z ^ (z >> 31)
}

func (s *Source) Uint64() uint64 {
	result := rotl(s.state[1]*5, 7) * 9

	t := s.state[1] << 17

	s.state[2] ^= s.state[0]
	s.state[3] ^= s.state[1]
	s.state[1] ^= s.state[2]
	s.state[0] ^= s.state[3]

	s.state[2] ^= t

	s.state[3] = rotl(s.state[3], 45)

	return result
}

func (s *Source) Intn(n int) int {
	return int(s.Float64() * float64(n))
}

func (s *Source) Float64() float64 {
	return float64(s.Uint64()) / (float64(math.MaxUint64) + 1)
}

func rotl(x uint64, k int) uint64 {
	return (x << k) | (x >> (64 - k))
}
