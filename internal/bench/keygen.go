package bench

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"strings"
)

// KeyGenerator produces the keys written by a single write task.
// Implementations are not safe for concurrent use; every task owns
// its generator.
type KeyGenerator interface {
	NextKey() []byte
}

// KeyGeneratorSupplier creates a fresh KeyGenerator on every call.
type KeyGeneratorSupplier func() KeyGenerator

// KeyDistribution selects how keys are generated.
type KeyDistribution int

const (
	// Random keys are uniformly distributed fixed length byte strings.
	Random KeyDistribution = iota
)

func (kd KeyDistribution) String() string {
	switch kd {
	case Random:
		return "random"
	default:
		return fmt.Sprintf("KeyDistribution(%d)", int(kd))
	}
}

// ParseKeyDistribution parses the name of a key distribution.
func ParseKeyDistribution(name string) (KeyDistribution, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "random":
		return Random, nil
	default:
		return 0, invalidConfig("unknown key distribution: %q", name)
	}
}

// NewKeyGeneratorSupplier returns a supplier of generators of the
// given distribution producing keys of keyLen bytes.
func NewKeyGeneratorSupplier(dist KeyDistribution, keyLen int) (KeyGeneratorSupplier, error) {
	if keyLen <= 0 {
		return nil, invalidConfig("key length must be positive, got %d", keyLen)
	}
	switch dist {
	case Random:
		return func() KeyGenerator { return NewRandomKeyGenerator(keyLen) }, nil
	default:
		return nil, invalidConfig("unsupported key distribution: %v", dist)
	}
}

// RandomKeyGenerator generates keys made of uniformly random bytes.
// Duplicate keys are possible.
type RandomKeyGenerator struct {
	keyLen int
	rnd    *rand.Rand
}

// NewRandomKeyGenerator creates a generator of keyLen byte keys with
// its own independently seeded source.
func NewRandomKeyGenerator(keyLen int) *RandomKeyGenerator {
	return &RandomKeyGenerator{keyLen: keyLen, rnd: newRand()}
}

// NextKey returns a newly allocated key.
func (rkg *RandomKeyGenerator) NextKey() []byte {
	return randomBytes(rkg.rnd, rkg.keyLen)
}

func newRand() *rand.Rand {
	var seed [32]byte
	if _, err := crand.Read(seed[:]); err != nil {
		panic(fmt.Errorf("unable to seed random source: %w", err))
	}
	return rand.New(rand.NewChaCha8(seed))
}

func randomBytes(rnd *rand.Rand, size int) []byte {
	res := make([]byte, size)
	var buf [8]byte
	for i := 0; i < size; i += len(buf) {
		binary.LittleEndian.PutUint64(buf[:], rnd.Uint64())
		copy(res[i:], buf[:])
	}
	return res
}
