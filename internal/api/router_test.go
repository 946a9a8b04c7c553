package api

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/identca/identca/internal/api/handlers"
	"github.com/identca/identca/internal/ca"
	"github.com/identca/identca/internal/config"
	"github.com/identca/identca/internal/db"
	"github.com/identca/identca/internal/db/repository"
	"github.com/identca/identca/internal/mail"
	"github.com/identca/identca/internal/models"
	"github.com/identca/identca/internal/policy"
	"github.com/identca/identca/internal/registry"
	"github.com/identca/identca/pkg/certutil"
)

const testAdminToken = "test-admin-token"

func newTestServer(t *testing.T) *Server {
	t.Helper()

	dir := t.TempDir()

	cfg := config.Default()
	cfg.Database.Path = filepath.Join(dir, "test.db")
	cfg.Admin.Token = testAdminToken
	cfg.RateLimit.Enabled = false

	database, err := db.New(cfg.Database.Path)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.RunMigrations(database))

	keyPair, err := ca.LoadOrGenerateKeyPair(
		filepath.Join(dir, "ca_key.pem"),
		filepath.Join(dir, "ca_cert.pem"),
		"ecdsa",
		ca.AuthoritySubject{CommonName: "Test Issuing CA", Email: "ca@example.com"},
	)
	require.NoError(t, err)

	serials, err := ca.NewSerialSource(cfg.CA.SerialStrategy)
	require.NoError(t, err)
	signer := ca.NewSigner(keyPair, cfg.GetCertValidityDuration())

	logger := zap.NewNop()
	mailer := mail.NewLogSender(logger)

	requestRepo := repository.NewRequestRepository(database.DB)
	userRepo := repository.NewUserRepository(database.DB)
	certRepo := repository.NewCertRepository(database.DB)
	auditRepo := repository.NewAuditRepository(database.DB)

	reg := registry.New(requestRepo, userRepo, mailer, cfg.GetValidationWindowDuration(), logger)
	validator := policy.NewValidator(userRepo, certRepo)

	server := NewServer(cfg, keyPair, signer, serials, reg, certRepo, auditRepo, validator, mailer, "test", logger)
	t.Cleanup(server.Close)

	return server
}

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}, adminToken string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if adminToken != "" {
		req.Header.Set("X-Admin-Token", adminToken)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func makeCSRPEM(t *testing.T, commonName, email string) string {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.CertificateRequest{
		Subject:        pkix.Name{CommonName: commonName},
		EmailAddresses: []string{email},
	}

	der, err := x509.CreateCertificateRequest(rand.Reader, template, key)
	require.NoError(t, err)

	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: der}))
}

func TestIssuancePipeline(t *testing.T) {
	srv := newTestServer(t)
	router := srv.Router()

	// Register an account request
	w := doJSON(t, router, http.MethodPost, "/v1/requests", map[string]string{
		"username":     "alice",
		"display_name": "Alice Smith",
		"email":        "alice@example.com",
	}, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created handlers.CreateRequestResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.NotEmpty(t, created.Challenge)

	// A duplicate registration for the same identity conflicts
	w = doJSON(t, router, http.MethodPost, "/v1/requests", map[string]string{
		"username":     "alice",
		"display_name": "Alice Imposter",
		"email":        "imposter@example.com",
	}, "")
	assert.Equal(t, http.StatusConflict, w.Code)

	// Redeem the validation challenge
	w = doJSON(t, router, http.MethodPost, "/v1/requests/redeem", map[string]string{
		"challenge": created.Challenge,
	}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var user models.User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &user))
	assert.Equal(t, created.ID, user.ID)
	assert.Equal(t, "alice", user.Username)

	// The challenge is single use
	w = doJSON(t, router, http.MethodPost, "/v1/requests/redeem", map[string]string{
		"challenge": created.Challenge,
	}, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Issue a certificate
	w = doJSON(t, router, http.MethodPost, "/v1/certs/issue", map[string]string{
		"csr":      makeCSRPEM(t, "alice", "alice@example.com"),
		"user_id":  user.ID,
		"username": "alice",
		"email":    "alice@example.com",
	}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var issued handlers.IssueResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &issued))

	block, _ := pem.Decode([]byte(issued.Certificate))
	require.NotNil(t, block)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	assert.Equal(t, "alice", cert.Subject.CommonName)
	assert.Equal(t, issued.SerialNumber, cert.SerialNumber.String())
	assert.Equal(t, certutil.Fingerprint(block.Bytes), issued.Fingerprint)

	// The returned chain verifies against the advertised CA certificate
	caResp := doJSON(t, router, http.MethodGet, "/v1/ca/certificate", nil, "")
	require.Equal(t, http.StatusOK, caResp.Code)
	caBlock, _ := pem.Decode(caResp.Body.Bytes())
	require.NotNil(t, caBlock)
	caCert, err := x509.ParseCertificate(caBlock.Bytes)
	require.NoError(t, err)
	require.NoError(t, cert.CheckSignatureFrom(caCert))

	// A second certificate for the same identity is refused while one lives
	w = doJSON(t, router, http.MethodPost, "/v1/certs/issue", map[string]string{
		"csr":      makeCSRPEM(t, "alice", "alice@example.com"),
		"user_id":  user.ID,
		"username": "alice",
		"email":    "alice@example.com",
	}, "")
	assert.Equal(t, http.StatusConflict, w.Code)

	// The record is queryable by serial
	w = doJSON(t, router, http.MethodGet, "/v1/certs/"+issued.SerialNumber, nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var record models.CertificateRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &record))
	assert.Equal(t, models.CertStatusActive, record.Status)
	assert.True(t, record.IsFirstCertificate)

	// Revocation requires the admin token
	revokeBody := map[string]string{"reason": "superseded"}
	w = doJSON(t, router, http.MethodPost, "/v1/admin/certs/"+issued.SerialNumber+"/revoke", revokeBody, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, router, http.MethodPost, "/v1/admin/certs/"+issued.SerialNumber+"/revoke", revokeBody, "wrong-token")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, router, http.MethodPost, "/v1/admin/certs/"+issued.SerialNumber+"/revoke", revokeBody, testAdminToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// After revocation the identity can be issued a fresh certificate
	w = doJSON(t, router, http.MethodPost, "/v1/certs/issue", map[string]string{
		"csr":      makeCSRPEM(t, "alice", "alice@example.com"),
		"user_id":  user.ID,
		"username": "alice",
		"email":    "alice@example.com",
	}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var reissued handlers.IssueResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reissued))
	assert.NotEqual(t, issued.SerialNumber, reissued.SerialNumber)
	assert.NotEqual(t, issued.Fingerprint, reissued.Fingerprint)
}

func TestIssuePolicyRejections(t *testing.T) {
	srv := newTestServer(t)
	router := srv.Router()

	// Unknown identity
	w := doJSON(t, router, http.MethodPost, "/v1/certs/issue", map[string]string{
		"csr":      makeCSRPEM(t, "ghost", "ghost@example.com"),
		"user_id":  "no-such-id",
		"username": "ghost",
	}, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Register and redeem bob
	w = doJSON(t, router, http.MethodPost, "/v1/requests", map[string]string{
		"username":     "bob",
		"display_name": "Bob Jones",
		"email":        "bob@example.com",
	}, "")
	require.Equal(t, http.StatusCreated, w.Code)
	var created handlers.CreateRequestResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = doJSON(t, router, http.MethodPost, "/v1/requests/redeem", map[string]string{"challenge": created.Challenge}, "")
	require.Equal(t, http.StatusOK, w.Code)
	var user models.User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &user))

	// A CSR whose common name does not match the username is a policy violation
	w = doJSON(t, router, http.MethodPost, "/v1/certs/issue", map[string]string{
		"csr":      makeCSRPEM(t, "not-bob", "bob@example.com"),
		"user_id":  user.ID,
		"username": "bob",
	}, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	// A mismatched email is a policy violation
	w = doJSON(t, router, http.MethodPost, "/v1/certs/issue", map[string]string{
		"csr":      makeCSRPEM(t, "bob", "bob@example.com"),
		"user_id":  user.ID,
		"username": "bob",
		"email":    "someone-else@example.com",
	}, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Garbage CSRs are client errors, and no reservation is left behind
	w = doJSON(t, router, http.MethodPost, "/v1/certs/issue", map[string]string{
		"csr":      "not a csr",
		"user_id":  user.ID,
		"username": "bob",
	}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodGet, "/v1/certs?username=bob", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":0`)
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv.Router(), http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}
