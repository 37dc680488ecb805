package sdruntime

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
)

// Generator is the single source of randomness for one generation run.
// Every stage of a run draws from the same Generator, so the sequence of
// draws, and therefore the image, is a function of the seed alone.
// A Generator is not safe for concurrent use.
type Generator struct {
	seed  int64
	rng   *rand.Rand
	draws int
}

// pcgStream separates sdstudio's stream from other users of the same seed.
const pcgStream = 0x9e3779b97f4a7c15

func NewGenerator(seed int64) *Generator {
	return &Generator{
		seed: seed,
		rng:  rand.New(rand.NewPCG(uint64(seed), pcgStream)),
	}
}

func (g *Generator) Seed() int64 { return g.seed }

// Draws counts the normal samples taken so far.
func (g *Generator) Draws() int { return g.draws }

// Normal fills dst with standard normal samples.
func (g *Generator) Normal(dst []float64) {
	for i := range dst {
		dst[i] = g.rng.NormFloat64()
	}
	g.draws += len(dst)
}

// RandomSeed returns a non-negative seed from crypto/rand for callers that
// did not choose one.
func RandomSeed() int64 {
	var buf [8]byte
	if _, err := crand.Read(buf[:]); err != nil {
		return 42
	}
	return int64(binary.LittleEndian.Uint64(buf[:]) >> 1)
}
