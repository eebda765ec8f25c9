package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tommyeight8/wms-prod/internal/rate"
	"github.com/tommyeight8/wms-prod/internal/security"
	"github.com/tommyeight8/wms-prod/internal/session"
	"github.com/tommyeight8/wms-prod/internal/storage"
)

type memStore struct {
	mu      sync.Mutex
	users   map[uuid.UUID]*storage.User
	byEmail map[string]*storage.User
	tokens  map[string]*storage.RefreshToken
}

func newMemStore() *memStore {
	return &memStore{
		users:   map[uuid.UUID]*storage.User{},
		byEmail: map[string]*storage.User{},
		tokens:  map[string]*storage.RefreshToken{},
	}
}

func (m *memStore) addUser(u *storage.User) {
	m.users[u.ID] = u
	m.byEmail[u.Email] = u
}

func (m *memStore) GetUserByEmail(_ context.Context, email string) (*storage.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user, ok := m.byEmail[email]; ok {
		return user, nil
	}
	return nil, storage.ErrNotFound
}

func (m *memStore) GetUserByID(_ context.Context, id uuid.UUID) (*storage.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user, ok := m.users[id]; ok {
		return user, nil
	}
	return nil, storage.ErrNotFound
}

func (m *memStore) GetRefreshTokenByHash(_ context.Context, hash string) (*storage.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if token, ok := m.tokens[hash]; ok {
		copied := *token
		return &copied, nil
	}
	return nil, storage.ErrNotFound
}

func (m *memStore) CreateRefreshToken(_ context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tokens[tokenHash]; exists {
		return uuid.Nil, storage.ErrDuplicateHash
	}
	id := uuid.New()
	m.tokens[tokenHash] = &storage.RefreshToken{ID: id, UserID: userID, TokenHash: tokenHash, ExpiresAt: expiresAt}
	return id, nil
}

func (m *memStore) RotateToken(_ context.Context, oldTokenID uuid.UUID, userID uuid.UUID, newHash string, expiresAt time.Time) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var oldToken *storage.RefreshToken
	for _, token := range m.tokens {
		if token.ID == oldTokenID {
			oldToken = token
			break
		}
	}
	if oldToken == nil {
		return uuid.Nil, storage.ErrNotFound
	}
	if oldToken.RevokedAt != nil {
		return uuid.Nil, storage.ErrTokenUsed
	}
	now := time.Now()
	oldToken.RevokedAt = &now

	id := uuid.New()
	m.tokens[newHash] = &storage.RefreshToken{ID: id, UserID: userID, TokenHash: newHash, ExpiresAt: expiresAt}
	return id, nil
}

func (m *memStore) RevokeTokensByHash(_ context.Context, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if token, ok := m.tokens[hash]; ok && token.RevokedAt == nil {
		now := time.Now()
		token.RevokedAt = &now
	}
	return nil
}

func (m *memStore) RevokeAllForUser(_ context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, token := range m.tokens {
		if token.UserID == userID && token.RevokedAt == nil {
			now := time.Now()
			token.RevokedAt = &now
		}
	}
	return nil
}

const (
	testAccessSecret  = "test-access-secret"
	testRefreshSecret = "test-refresh-secret"
)

func setupRouter(t *testing.T, store *memStore, limiter rate.Limiter) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	issuer := security.NewIssuer(security.TokenConfig{
		AccessSecret:  []byte(testAccessSecret),
		RefreshSecret: []byte(testRefreshSecret),
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		Issuer:        "wms-auth-test",
	})

	logger := slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil))
	sessions := session.New(store, issuer, logger)
	metrics := NewMetrics(prometheus.NewRegistry())
	if limiter == nil {
		limiter = rate.NewMemory(100, time.Minute)
	}

	h := NewAuthHandler(sessions, logger, metrics, limiter, []byte(testAccessSecret))
	router := gin.New()
	h.RegisterRoutes(router)
	return router
}

func addActiveUser(t *testing.T, store *memStore, email, password string, role storage.Role) *storage.User {
	t.Helper()
	hash, err := security.HashPassword(password)
	if err != nil {
		t.Fatalf("hash error: %v", err)
	}
	user := &storage.User{
		ID:           uuid.New(),
		Email:        email,
		Name:         "Test User",
		PasswordHash: &hash,
		Role:         role,
		Active:       true,
	}
	store.addUser(user)
	return user
}

func performRequest(router *gin.Engine, method, path string, body any, token string) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var out errorResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return out
}

func TestLoginEndpointSuccess(t *testing.T) {
	store := newMemStore()
	addActiveUser(t, store, "a@x.com", "secret123", storage.RoleStaff)
	router := setupRouter(t, store, nil)

	resp := performRequest(router, http.MethodPost, "/auth/login", loginRequest{Email: "a@x.com", Password: "secret123"}, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var out loginResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.AccessToken == "" || out.RefreshToken == "" {
		t.Fatalf("expected tokens in response")
	}
	if out.User == nil || out.User.Email != "a@x.com" || out.User.Role != storage.RoleStaff {
		t.Fatalf("unexpected user summary: %+v", out.User)
	}

	// Wire format check: the SPA expects camelCase keys.
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(resp.Body.Bytes(), &raw); err != nil {
		t.Fatalf("decode raw: %v", err)
	}
	for _, key := range []string{"accessToken", "refreshToken", "user"} {
		if _, ok := raw[key]; !ok {
			t.Fatalf("expected key %q in response body", key)
		}
	}
}

func TestLoginEndpointIndistinguishableFailures(t *testing.T) {
	store := newMemStore()
	addActiveUser(t, store, "a@x.com", "secret123", storage.RoleStaff)
	router := setupRouter(t, store, nil)

	wrongPass := performRequest(router, http.MethodPost, "/auth/login", loginRequest{Email: "a@x.com", Password: "nope"}, "")
	unknown := performRequest(router, http.MethodPost, "/auth/login", loginRequest{Email: "ghost@x.com", Password: "nope"}, "")

	if wrongPass.Code != http.StatusUnauthorized || unknown.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for both, got %d and %d", wrongPass.Code, unknown.Code)
	}
	if wrongPass.Body.String() != unknown.Body.String() {
		t.Fatalf("expected identical bodies, got %q vs %q", wrongPass.Body.String(), unknown.Body.String())
	}
	if out := decodeError(t, wrongPass); out.Code != "INVALID_CREDENTIALS" {
		t.Fatalf("expected INVALID_CREDENTIALS, got %q", out.Code)
	}
}

func TestLoginEndpointDisabledAccount(t *testing.T) {
	store := newMemStore()
	user := addActiveUser(t, store, "a@x.com", "secret123", storage.RoleStaff)
	user.Active = false
	router := setupRouter(t, store, nil)

	resp := performRequest(router, http.MethodPost, "/auth/login", loginRequest{Email: "a@x.com", Password: "secret123"}, "")
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}
	if out := decodeError(t, resp); out.Code != "ACCOUNT_DISABLED" {
		t.Fatalf("expected ACCOUNT_DISABLED, got %q", out.Code)
	}
}

func TestLoginEndpointBadPayload(t *testing.T) {
	store := newMemStore()
	router := setupRouter(t, store, nil)

	resp := performRequest(router, http.MethodPost, "/auth/login", map[string]string{"email": "a@x.com"}, "")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestLoginEndpointRateLimited(t *testing.T) {
	store := newMemStore()
	addActiveUser(t, store, "a@x.com", "secret123", storage.RoleStaff)
	router := setupRouter(t, store, rate.NewMemory(1, time.Minute))

	first := performRequest(router, http.MethodPost, "/auth/login", loginRequest{Email: "a@x.com", Password: "secret123"}, "")
	if first.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", first.Code)
	}

	second := performRequest(router, http.MethodPost, "/auth/login", loginRequest{Email: "a@x.com", Password: "secret123"}, "")
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", second.Code)
	}
	if second.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	if out := decodeError(t, second); out.Code != "RATE_LIMITED" {
		t.Fatalf("expected RATE_LIMITED, got %q", out.Code)
	}
}

func TestRefreshEndpointRotationAndReuse(t *testing.T) {
	store := newMemStore()
	addActiveUser(t, store, "a@x.com", "secret123", storage.RoleStaff)
	router := setupRouter(t, store, nil)

	login := performRequest(router, http.MethodPost, "/auth/login", loginRequest{Email: "a@x.com", Password: "secret123"}, "")
	var loggedIn loginResponse
	if err := json.Unmarshal(login.Body.Bytes(), &loggedIn); err != nil {
		t.Fatalf("decode login: %v", err)
	}

	refresh := performRequest(router, http.MethodPost, "/auth/refresh", refreshRequest{RefreshToken: loggedIn.RefreshToken}, "")
	if refresh.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", refresh.Code, refresh.Body.String())
	}

	var rotated tokenResponse
	if err := json.Unmarshal(refresh.Body.Bytes(), &rotated); err != nil {
		t.Fatalf("decode refresh: %v", err)
	}
	if rotated.RefreshToken == loggedIn.RefreshToken {
		t.Fatalf("expected a rotated token")
	}

	reuse := performRequest(router, http.MethodPost, "/auth/refresh", refreshRequest{RefreshToken: loggedIn.RefreshToken}, "")
	if reuse.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 on reuse, got %d", reuse.Code)
	}
	if out := decodeError(t, reuse); out.Code != "INVALID_TOKEN" {
		t.Fatalf("expected INVALID_TOKEN, got %q", out.Code)
	}
}

func TestLogoutEndpointIdempotent(t *testing.T) {
	store := newMemStore()
	addActiveUser(t, store, "a@x.com", "secret123", storage.RoleStaff)
	router := setupRouter(t, store, nil)

	login := performRequest(router, http.MethodPost, "/auth/login", loginRequest{Email: "a@x.com", Password: "secret123"}, "")
	var loggedIn loginResponse
	if err := json.Unmarshal(login.Body.Bytes(), &loggedIn); err != nil {
		t.Fatalf("decode login: %v", err)
	}

	for i := 0; i < 2; i++ {
		resp := performRequest(router, http.MethodPost, "/auth/logout", refreshRequest{RefreshToken: loggedIn.RefreshToken}, "")
		if resp.Code != http.StatusOK {
			t.Fatalf("expected 200 on logout %d, got %d", i+1, resp.Code)
		}
	}

	refresh := performRequest(router, http.MethodPost, "/auth/refresh", refreshRequest{RefreshToken: loggedIn.RefreshToken}, "")
	if refresh.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", refresh.Code)
	}
}

func TestMeEndpoint(t *testing.T) {
	store := newMemStore()
	addActiveUser(t, store, "a@x.com", "secret123", storage.RoleManager)
	router := setupRouter(t, store, nil)

	login := performRequest(router, http.MethodPost, "/auth/login", loginRequest{Email: "a@x.com", Password: "secret123"}, "")
	var loggedIn loginResponse
	if err := json.Unmarshal(login.Body.Bytes(), &loggedIn); err != nil {
		t.Fatalf("decode login: %v", err)
	}

	me := performRequest(router, http.MethodGet, "/auth/me", nil, loggedIn.AccessToken)
	if me.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", me.Code, me.Body.String())
	}

	var out struct {
		User session.UserSummary `json:"user"`
	}
	if err := json.Unmarshal(me.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	if out.User.Email != "a@x.com" || out.User.Role != storage.RoleManager {
		t.Fatalf("unexpected summary: %+v", out.User)
	}

	if resp := performRequest(router, http.MethodGet, "/auth/me", nil, ""); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.Code)
	}

	// A refresh token must not pass the access-token gate.
	if resp := performRequest(router, http.MethodGet, "/auth/me", nil, loggedIn.RefreshToken); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for refresh token, got %d", resp.Code)
	}
}

func TestLogoutAllEndpoint(t *testing.T) {
	store := newMemStore()
	addActiveUser(t, store, "a@x.com", "secret123", storage.RoleStaff)
	router := setupRouter(t, store, nil)

	var sessions []loginResponse
	for i := 0; i < 2; i++ {
		login := performRequest(router, http.MethodPost, "/auth/login", loginRequest{Email: "a@x.com", Password: "secret123"}, "")
		var loggedIn loginResponse
		if err := json.Unmarshal(login.Body.Bytes(), &loggedIn); err != nil {
			t.Fatalf("decode login: %v", err)
		}
		sessions = append(sessions, loggedIn)
	}

	resp := performRequest(router, http.MethodPost, "/auth/logout-all", nil, sessions[0].AccessToken)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	for _, s := range sessions {
		refresh := performRequest(router, http.MethodPost, "/auth/refresh", refreshRequest{RefreshToken: s.RefreshToken}, "")
		if refresh.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 after logout-all, got %d", refresh.Code)
		}
	}
}
