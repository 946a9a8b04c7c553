package ca

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSerialSource(t *testing.T) {
	src, err := NewSerialSource("composite")
	require.NoError(t, err)
	assert.IsType(t, &CompositeSource{}, src)

	src, err = NewSerialSource("uuidv7")
	require.NoError(t, err)
	assert.IsType(t, &UUIDv7Source{}, src)

	_, err = NewSerialSource("sequential")
	assert.Error(t, err)
}

func TestSerialSourceProperties(t *testing.T) {
	sources := map[string]SerialSource{
		"composite": NewCompositeSource(),
		"uuidv7":    NewUUIDv7Source(),
	}

	for name, src := range sources {
		t.Run(name, func(t *testing.T) {
			seen := make(map[string]bool)

			for i := 0; i < 1000; i++ {
				serial, err := src.Next()
				require.NoError(t, err)

				// Positive and within the X.509 serial length limit
				assert.Equal(t, 1, serial.Sign())
				assert.LessOrEqual(t, len(serial.Bytes()), 20)

				key := serial.String()
				assert.False(t, seen[key], "duplicate serial %s", key)
				seen[key] = true
			}
		})
	}
}

func TestCompositeSerialNotSequential(t *testing.T) {
	src := NewCompositeSource()

	a, err := src.Next()
	require.NoError(t, err)
	b, err := src.Next()
	require.NoError(t, err)

	// Consecutive serials must not differ by one; the random component
	// dominates the low bits.
	diff := new(big.Int).Sub(b, a)
	assert.NotEqual(t, 0, diff.CmpAbs(big.NewInt(1)))
}
