package certutil

import (
	"encoding/pem"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprint(t *testing.T) {
	der := []byte("not a real certificate, any bytes will do")

	fp := Fingerprint(der)
	assert.True(t, strings.HasPrefix(fp, "SHA256:"))
	assert.Equal(t, fp, Fingerprint(der))

	other := Fingerprint([]byte("different bytes"))
	assert.NotEqual(t, fp, other)
}

func TestFingerprintPEM(t *testing.T) {
	der := []byte{0x30, 0x03, 0x02, 0x01, 0x01}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})

	fp, err := FingerprintPEM(pemBytes)
	require.NoError(t, err)
	assert.Equal(t, Fingerprint(der), fp)

	_, err = FingerprintPEM([]byte("garbage"))
	assert.Error(t, err)

	wrongType := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	_, err = FingerprintPEM(wrongType)
	assert.Error(t, err)
}

func TestFingerprintMatches(t *testing.T) {
	a := []byte("same")
	b := []byte("same")
	c := []byte("not the same")

	assert.True(t, FingerprintMatches(a, b))
	assert.False(t, FingerprintMatches(a, c))
}
