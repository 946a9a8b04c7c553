package ca

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
)

// maxSerialOctets is the X.509 limit on serial number length (RFC 5280).
const maxSerialOctets = 20

// SerialSource produces certificate serial numbers: positive integers that
// fit in 20 octets, are unique among all ever-issued serials, and carry a
// non-sequential component so issuance order alone cannot predict them.
// Exactly one source is constructed per deployment; the two strategies must
// never be mixed against the same store.
type SerialSource interface {
	Next() (*big.Int, error)
}

// NewSerialSource returns the source for the configured strategy name.
func NewSerialSource(strategy string) (SerialSource, error) {
	switch strategy {
	case "composite":
		return NewCompositeSource(), nil
	case "uuidv7":
		return NewUUIDv7Source(), nil
	default:
		return nil, fmt.Errorf("unknown serial strategy: %s", strategy)
	}
}

// CompositeSource encodes unix seconds, 64 random bits and a 16-bit
// in-process counter into one integer. The counter disambiguates serials
// allocated within the same second by the same process; the random component
// makes the value unguessable.
type CompositeSource struct {
	mu      sync.Mutex
	counter uint16
}

// NewCompositeSource creates a composite timestamp+random+counter source
func NewCompositeSource() *CompositeSource {
	return &CompositeSource{}
}

// Next allocates the next serial number
func (s *CompositeSource) Next() (*big.Int, error) {
	var rnd [8]byte
	if _, err := rand.Read(rnd[:]); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}

	s.mu.Lock()
	s.counter++
	counter := s.counter
	s.mu.Unlock()

	// seconds(high) | random(64) | counter(16), well under 20 octets
	serial := big.NewInt(time.Now().Unix())
	serial.Lsh(serial, 80)

	random := new(big.Int).SetUint64(binary.BigEndian.Uint64(rnd[:]))
	random.Lsh(random, 16)

	serial.Or(serial, random)
	serial.Or(serial, big.NewInt(int64(counter)))

	if len(serial.Bytes()) > maxSerialOctets {
		return nil, fmt.Errorf("serial exceeds %d octets", maxSerialOctets)
	}

	return serial, nil
}

// UUIDv7Source derives serials from time-ordered random UUIDs.
type UUIDv7Source struct{}

// NewUUIDv7Source creates a UUIDv7-based source
func NewUUIDv7Source() *UUIDv7Source {
	return &UUIDv7Source{}
}

// Next allocates the next serial number
func (s *UUIDv7Source) Next() (*big.Int, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate uuid: %w", err)
	}

	// 128-bit positive integer; the version bits guarantee it is non-zero
	return new(big.Int).SetBytes(id[:]), nil
}
