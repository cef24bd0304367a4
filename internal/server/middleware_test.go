package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soudan-ai/soudan/internal/auth"
	"github.com/soudan-ai/soudan/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&strings.Builder{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func TestRequestIDMiddleware(t *testing.T) {
	var captured string
	h := requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, captured)
	assert.Equal(t, captured, rec.Header().Get("X-Request-ID"))

	// An incoming ID is propagated rather than replaced.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "client-supplied")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "client-supplied", captured)
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	h := securityHeadersMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestAuthMiddleware(t *testing.T) {
	jwtMgr, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)

	var gotClaims *auth.Claims
	h := authMiddleware(jwtMgr, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClaims = ClaimsFromContext(r.Context())
	}))

	// Public paths pass straight through.
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	// Missing and malformed headers are rejected.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/questions", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/questions", nil)
	req.Header.Set("Authorization", "Basic abc")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/questions", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// A valid token populates claims.
	user := model.User{ID: uuid.New(), Username: "mwtest", Role: model.RoleUser}
	token, _, err := jwtMgr.IssueToken(user)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/v1/questions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, gotClaims)
	assert.Equal(t, user.ID, gotClaims.UserID())
	assert.Equal(t, model.RoleUser, gotClaims.Role)
}

func TestRequireRole(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	withClaims := func(role model.UserRole) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		claims := &auth.Claims{Role: role}
		return req.WithContext(context.WithValue(req.Context(), contextKeyClaims, claims))
	}

	adminOnly := requireRole(model.RoleAdmin)(next)

	rec := httptest.NewRecorder()
	adminOnly.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	adminOnly.ServeHTTP(rec, withClaims(model.RoleUser))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	adminOnly.ServeHTTP(rec, withClaims(model.RoleAdmin))
	assert.Equal(t, http.StatusOK, rec.Code)

	// Role ordering: guest clears a guest gate but not a user gate.
	userGate := requireRole(model.RoleUser)(next)
	rec = httptest.NewRecorder()
	userGate.ServeHTTP(rec, withClaims(model.RoleGuest))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	h := recoveryMiddleware(discardLogger(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var envelope model.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, model.ErrCodeInternalError, envelope.Error.Code)
}

func TestDecodeJSONEnforcesBodyCap(t *testing.T) {
	big := `{"title":"` + strings.Repeat("a", 200) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(big))
	rec := httptest.NewRecorder()

	var target model.SuggestTagsRequest
	err := decodeJSON(rec, req, &target, 50)
	require.Error(t, err)

	handleDecodeError(rec, req, err)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"bogus":1}`))
	var target model.SuggestTagsRequest
	err := decodeJSON(httptest.NewRecorder(), req, &target, 1024)
	assert.Error(t, err)
}

func TestParsePagination(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=500&offset=30", nil)
	limit, offset := parsePagination(req, 20, 100)
	assert.Equal(t, 100, limit)
	assert.Equal(t, 30, offset)

	req = httptest.NewRequest(http.MethodGet, "/?limit=junk&offset=-5", nil)
	limit, offset = parsePagination(req, 20, 100)
	assert.Equal(t, 20, limit)
	assert.Equal(t, 0, offset)
}
