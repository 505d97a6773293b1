package payload

import (
	"math/rand/v2"
	"time"
)

// Alphabet is the printable character set payload bytes are drawn from:
// ASCII letters, digits and punctuation.
const Alphabet = "abcdefghijklmnopqrstuvwxyz" +
	"ABCDEFGHIJKLMNOPQRSTUVWXYZ" +
	"0123456789" +
	"!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

// Generator produces random printable payloads from its own source.
// A Generator is not safe for concurrent use.
type Generator struct {
	rng *rand.Rand
}

// New returns a Generator whose output is fully determined by seed.
func New(seed uint64) *Generator {
	return &Generator{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// NewRandom returns a Generator seeded from the current time.
func NewRandom() *Generator {
	return New(uint64(time.Now().UnixNano()))
}

// Generate returns n bytes drawn uniformly and independently from Alphabet.
// n <= 0 yields an empty, non-nil slice.
func (g *Generator) Generate(n int) []byte {
	if n <= 0 {
		return []byte{}
	}

	buf := make([]byte, n)
	for i := range buf {
		buf[i] = Alphabet[g.rng.IntN(len(Alphabet))]
	}
	return buf
}
