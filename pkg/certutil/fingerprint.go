package certutil

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/pem"
	"fmt"
)

// Fingerprint calculates the SHA256 fingerprint of a certificate's DER
// encoding. The input must be the signed encoding; identical bytes always
// produce the same fingerprint, which is used as a secondary identity key.
func Fingerprint(der []byte) string {
	hash := sha256.Sum256(der)
	b64hash := base64.RawStdEncoding.EncodeToString(hash[:])

	return fmt.Sprintf("SHA256:%s", b64hash)
}

// FingerprintPEM calculates the fingerprint of a PEM-encoded certificate.
func FingerprintPEM(pemBytes []byte) (string, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil || block.Type != "CERTIFICATE" {
		return "", fmt.Errorf("not a PEM-encoded certificate")
	}

	return Fingerprint(block.Bytes), nil
}

// FingerprintMatches checks if two DER encodings have the same fingerprint
func FingerprintMatches(der1, der2 []byte) bool {
	return Fingerprint(der1) == Fingerprint(der2)
}
