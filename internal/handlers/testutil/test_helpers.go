package testutil

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/hycredit/internal/api"
	"github.com/charlesng35/hycredit/internal/app"
	iauth "github.com/charlesng35/hycredit/internal/auth"
	sharedtestutil "github.com/charlesng35/hycredit/internal/database/testutil"
	"github.com/charlesng35/hycredit/internal/ledger"
	"github.com/charlesng35/hycredit/internal/models"
	"github.com/charlesng35/hycredit/pkg/response"
)

// Seeded parties available in every Env.
var (
	Producer  = sharedtestutil.Producer("producer-a")
	Producer2 = sharedtestutil.Producer("producer-b")
	Certifier = sharedtestutil.Certifier("certifier-a")
	Operator  = sharedtestutil.Operator("operator-1")
)

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T        *testing.T
	DB       *gorm.DB
	Router   *gin.Engine
	JWT      *iauth.JWTService
	Services *api.Services
}

// EnvOption customises NewEnv.
type EnvOption func(*envConfig)

type envConfig struct {
	ledgerClient ledger.Client
	maxFileBytes int64
}

// WithLedger enables anchoring through client. The synchroniser workers are
// not started so tests drive Process themselves.
func WithLedger(client ledger.Client) EnvOption {
	return func(cfg *envConfig) {
		cfg.ledgerClient = client
	}
}

// WithMaxFileBytes overrides the per-file upload limit.
func WithMaxFileBytes(n int64) EnvOption {
	return func(cfg *envConfig) {
		cfg.maxFileBytes = n
	}
}

// NewEnv provisions a fresh handler test environment with migrations and seed parties applied.
func NewEnv(t *testing.T, opts ...EnvOption) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	settings := envConfig{maxFileBytes: 1 << 20}
	for _, opt := range opts {
		opt(&settings)
	}

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithParties(Producer, Producer2, Certifier, Operator))

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:         []byte("test-suite-super-secret-key-32-bytes!!"),
		Issuer:         "test-suite",
		AccessTokenTTL: time.Hour,
	})
	require.NoError(t, err)

	svc, err := api.NewServices(db)
	require.NoError(t, err)
	if settings.ledgerClient != nil {
		_, err := svc.EnableLedger(settings.ledgerClient, ledger.Config{
			Workers:   1,
			QueueSize: 8,
			Retry: ledger.RetryConfig{
				InitialDelay: time.Millisecond,
				MaxDelay:     2 * time.Millisecond,
				Factor:       1.5,
				MaxAttempts:  2,
			},
		})
		require.NoError(t, err)
	}

	cfg := &app.Config{
		Monitoring: app.MonitoringConfig{Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"}},
		Uploads:    app.UploadsConfig{MaxFileBytes: settings.maxFileBytes},
	}

	router, err := api.NewRouter(cfg, jwtSvc, svc)
	require.NoError(t, err)

	return &Env{
		T:        t,
		DB:       db,
		Router:   router,
		JWT:      jwtSvc,
		Services: svc,
	}
}

// Token issues an access token carrying the party's claims.
func (e *Env) Token(party models.Party) string {
	e.T.Helper()
	token, err := e.JWT.GenerateAccessToken(iauth.AccessTokenInput{
		PartyID:       party.ID,
		Role:          party.Role,
		Name:          party.Name,
		Organization:  party.Organization,
		Email:         party.Email,
		WalletAddress: party.WalletAddress,
	})
	require.NoError(e.T, err)
	return token
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
	Meta    *response.Meta      `json:"meta"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router, applying JSON encoding and auth headers automatically.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	buf := bytes.NewBuffer(nil)
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return e.serve(req, token)
}

// File is a multipart upload part.
type File struct {
	Field       string
	Name        string
	ContentType string
	Content     []byte
}

// Multipart posts a multipart form made of fields and files.
func (e *Env) Multipart(path string, fields map[string][]string, files []File, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for key, values := range fields {
		for _, value := range values {
			require.NoError(e.T, writer.WriteField(key, value))
		}
	}
	for _, f := range files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="`+f.Field+`"; filename="`+f.Name+`"`)
		contentType := f.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		header.Set("Content-Type", contentType)
		part, err := writer.CreatePart(header)
		require.NoError(e.T, err)
		_, err = part.Write(f.Content)
		require.NoError(e.T, err)
	}
	require.NoError(e.T, writer.Close())

	req, err := http.NewRequest(http.MethodPost, path, &buf)
	require.NoError(e.T, err)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return e.serve(req, token)
}

func (e *Env) serve(req *http.Request, token string) *httptest.ResponseRecorder {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}
