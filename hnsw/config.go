package hnsw

import "math"

// Config holds the tunable HNSW construction and search parameters. The
// defaults mirror the values found to produce good recall/latency tradeoffs
// in the literature and are what NewIndex uses when the zero Config is
// supplied.
type Config struct {
	// M is the target number of bidirectional edges per node at every
	// layer above layer 0.
	M int
	// MMax0 is the target degree at layer 0, conventionally 2*M.
	MMax0 int
	// EFConstruction is the beam width used while inserting.
	EFConstruction int
	// EFSearch is the default beam width used while searching, when the
	// caller does not override it per-query.
	EFSearch int
	// LevelMult scales the exponential level-assignment draw; the
	// conventional choice is 1/ln(M).
	LevelMult float64
	// Seed makes level assignment reproducible when non-zero.
	Seed int64
	// BruteForceFallbackSelectivity is the allowed-set selectivity (as a
	// fraction of the live set) below which a pre-filtered search abandons
	// the graph walk and scans the allowed set directly, since the graph
	// walk's admission rate degrades as the allowed set shrinks.
	BruteForceFallbackSelectivity float64
}

// DefaultConfig returns the conventional HNSW defaults for the given M.
func DefaultConfig(m int) Config {
	if m <= 0 {
		m = 16
	}
	return Config{
		M:                             m,
		MMax0:                         2 * m,
		EFConstruction:                100,
		EFSearch:                      50,
		LevelMult:                     1.0 / math.Log(float64(m)),
		BruteForceFallbackSelectivity: 0.01,
	}
}

func (c Config) normalized() Config {
	if c.M <= 0 {
		return DefaultConfig(16)
	}
	if c.MMax0 <= 0 {
		c.MMax0 = 2 * c.M
	}
	if c.EFConstruction <= 0 {
		c.EFConstruction = 100
	}
	if c.EFSearch <= 0 {
		c.EFSearch = 50
	}
	if c.LevelMult <= 0 {
		c.LevelMult = 1.0 / math.Log(float64(c.M))
	}
	if c.BruteForceFallbackSelectivity <= 0 {
		c.BruteForceFallbackSelectivity = 0.01
	}
	return c
}
