package ca

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"
)

const caValidity = 10 * 365 * 24 * time.Hour

// AuthoritySubject is the distinguished name of the signing authority.
type AuthoritySubject struct {
	CommonName   string
	Organization string
	Country      string
	Email        string
}

// KeyPair holds the signing authority's key material: the private key and
// the self-signed CA certificate issued certificates chain to.
type KeyPair struct {
	PrivateKey  crypto.Signer
	Certificate *x509.Certificate
	KeyType     string
}

// LoadOrGenerateKeyPair loads existing CA key material or generates new
// material when the private key file does not exist.
func LoadOrGenerateKeyPair(privatePath, certPath, keyType string, subject AuthoritySubject) (*KeyPair, error) {
	if _, err := os.Stat(privatePath); err == nil {
		return loadKeyPair(privatePath, certPath)
	}

	return generateKeyPair(privatePath, certPath, keyType, subject)
}

// loadKeyPair loads existing key material from files
func loadKeyPair(privatePath, certPath string) (*KeyPair, error) {
	keyBytes, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}

	keyBlock, _ := pem.Decode(keyBytes)
	if keyBlock == nil {
		return nil, fmt.Errorf("failed to decode private key PEM")
	}

	key, err := x509.ParsePKCS8PrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("private key does not implement crypto.Signer")
	}

	certBytes, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	certBlock, _ := pem.Decode(certBytes)
	if certBlock == nil || certBlock.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("failed to decode CA certificate PEM")
	}

	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CA certificate: %w", err)
	}

	keyType := "rsa"
	if _, ok := signer.(*ecdsa.PrivateKey); ok {
		keyType = "ecdsa"
	}

	return &KeyPair{
		PrivateKey:  signer,
		Certificate: cert,
		KeyType:     keyType,
	}, nil
}

// generateKeyPair generates a new CA key and self-signed certificate
func generateKeyPair(privatePath, certPath, keyType string, subject AuthoritySubject) (*KeyPair, error) {
	var signer crypto.Signer
	var err error

	switch keyType {
	case "ecdsa":
		signer, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("failed to generate ecdsa key: %w", err)
		}

	case "rsa":
		signer, err = rsa.GenerateKey(rand.Reader, 3072)
		if err != nil {
			return nil, fmt.Errorf("failed to generate RSA key: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported key type: %s", keyType)
	}

	cert, err := createAuthorityCertificate(signer, subject)
	if err != nil {
		return nil, err
	}

	kp := &KeyPair{
		PrivateKey:  signer,
		Certificate: cert,
		KeyType:     keyType,
	}

	if err := saveKeyPair(kp, privatePath, certPath); err != nil {
		return nil, fmt.Errorf("failed to save key pair: %w", err)
	}

	return kp, nil
}

// createAuthorityCertificate builds the self-signed CA certificate. The
// subject uses the same normalized attribute encoding as issued
// certificates, so issuer and subject bytes match on the wire.
func createAuthorityCertificate(signer crypto.Signer, subject AuthoritySubject) (*x509.Certificate, error) {
	name := pkix.Name{CommonName: subject.CommonName}
	if subject.Organization != "" {
		name.Organization = []string{subject.Organization}
	}
	if subject.Country != "" {
		name.Country = []string{subject.Country}
	}
	if subject.Email != "" {
		name.ExtraNames = append(name.ExtraNames, pkix.AttributeTypeAndValue{
			Type:  oidEmailAddress,
			Value: subject.Email,
		})
	}

	rawSubject, err := normalizeName(name)
	if err != nil {
		return nil, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate CA serial: %w", err)
	}

	skid, err := subjectKeyID(signer.Public())
	if err != nil {
		return nil, err
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          serial,
		RawSubject:            rawSubject,
		NotBefore:             now,
		NotAfter:              now.Add(caValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLenZero:        true,
		SubjectKeyId:          skid,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, signer.Public(), signer)
	if err != nil {
		return nil, fmt.Errorf("failed to create CA certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CA certificate: %w", err)
	}

	return cert, nil
}

// saveKeyPair saves the key material to files
func saveKeyPair(kp *KeyPair, privatePath, certPath string) error {
	if err := os.MkdirAll(filepath.Dir(privatePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory for private key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(certPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory for certificate: %w", err)
	}

	keyBytes, err := x509.MarshalPKCS8PrivateKey(kp.PrivateKey)
	if err != nil {
		return fmt.Errorf("failed to marshal private key: %w", err)
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyBytes})

	// Write private key with restrictive permissions
	if err := os.WriteFile(privatePath, keyPEM, 0600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: kp.Certificate.Raw})

	if err := os.WriteFile(certPath, certPEM, 0644); err != nil {
		return fmt.Errorf("failed to write certificate: %w", err)
	}

	return nil
}

// CertificatePEM returns the CA certificate in PEM encoding
func (kp *KeyPair) CertificatePEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: kp.Certificate.Raw})
}

// SignatureAlgorithm returns the digest/signature algorithm used for issued
// certificates, fixed per key type.
func (kp *KeyPair) SignatureAlgorithm() x509.SignatureAlgorithm {
	if kp.KeyType == "rsa" {
		return x509.SHA256WithRSA
	}
	return x509.ECDSAWithSHA256
}

// subjectKeyID derives the subject key identifier as the SHA-1 digest of the
// subject public key bits.
func subjectKeyID(pub crypto.PublicKey) ([]byte, error) {
	spkiDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}

	var spki struct {
		Algorithm        pkix.AlgorithmIdentifier
		SubjectPublicKey asn1.BitString
	}
	if _, err := asn1.Unmarshal(spkiDER, &spki); err != nil {
		return nil, fmt.Errorf("failed to unmarshal public key: %w", err)
	}

	sum := sha1.Sum(spki.SubjectPublicKey.Bytes)
	return sum[:], nil
}
