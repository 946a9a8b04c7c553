package ca

import (
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/identca/identca/pkg/certutil"
)

// Signing errors. Format and signature errors are caller-fixable; a
// self-verification failure means the authority produced a certificate it
// cannot vouch for, which is a server fault.
var (
	ErrInvalidCSRFormat    = errors.New("invalid CSR format")
	ErrInvalidCSRSignature = errors.New("invalid CSR signature")
	ErrSelfVerification    = errors.New("issued certificate failed self-verification")
)

// Signer validates certificate signing requests and issues X.509 identity
// certificates chained to the authority key pair.
type Signer struct {
	keyPair  *KeyPair
	validity time.Duration
}

// NewSigner creates a signer issuing certificates valid for the given period
func NewSigner(kp *KeyPair, validity time.Duration) *Signer {
	return &Signer{
		keyPair:  kp,
		validity: validity,
	}
}

// IssuedCertificate is the result of a successful signing operation.
type IssuedCertificate struct {
	CertificatePEM []byte
	DER            []byte
	SerialNumber   *big.Int
	Fingerprint    string
	NotBefore      time.Time
	NotAfter       time.Time
}

// ParseCSR decodes and parses a PEM-encoded certificate signing request.
// Malformed input is a client error, never a server error.
func ParseCSR(pemBytes []byte) (*x509.CertificateRequest, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil || block.Type != "CERTIFICATE REQUEST" {
		return nil, ErrInvalidCSRFormat
	}

	csr, err := x509.ParseCertificateRequest(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCSRFormat, err)
	}

	return csr, nil
}

// Sign verifies the CSR's self-signature, builds the certificate with the
// normalized subject encoding and standard client-identity extensions, signs
// it with the authority key, and self-verifies the result before returning
// it. The serial number must already be reserved by the caller.
func (s *Signer) Sign(csr *x509.CertificateRequest, serial *big.Int) (*IssuedCertificate, error) {
	if err := csr.CheckSignature(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCSRSignature, err)
	}

	rawSubject, err := normalizeName(csr.Subject)
	if err != nil {
		return nil, err
	}

	skid, err := subjectKeyID(csr.PublicKey)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:       serial,
		RawSubject:         rawSubject,
		NotBefore:          now,
		NotAfter:           now.Add(s.validity),
		SignatureAlgorithm: s.keyPair.SignatureAlgorithm(),

		BasicConstraintsValid: true,
		IsCA:                  false,
		KeyUsage: x509.KeyUsageDigitalSignature |
			x509.KeyUsageKeyEncipherment |
			x509.KeyUsageContentCommitment,
		ExtKeyUsage: []x509.ExtKeyUsage{
			x509.ExtKeyUsageClientAuth,
			x509.ExtKeyUsageServerAuth,
			x509.ExtKeyUsageEmailProtection,
		},
		SubjectKeyId:   skid,
		AuthorityKeyId: s.keyPair.Certificate.SubjectKeyId,

		EmailAddresses: csr.EmailAddresses,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, s.keyPair.Certificate, csr.PublicKey, s.keyPair.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign certificate: %w", err)
	}

	// Re-parse the signed encoding and confirm it chains to the authority.
	// A certificate that fails this check is never returned, regardless of
	// what CreateCertificate reported.
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("%w: re-parse failed: %v", ErrSelfVerification, err)
	}
	if err := cert.CheckSignatureFrom(s.keyPair.Certificate); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSelfVerification, err)
	}

	return &IssuedCertificate{
		CertificatePEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		DER:            der,
		SerialNumber:   serial,
		Fingerprint:    certutil.Fingerprint(der),
		NotBefore:      cert.NotBefore,
		NotAfter:       cert.NotAfter,
	}, nil
}
