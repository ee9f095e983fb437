package shibauth

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perimeterlabs/shibgate/pkg/identity"
	"github.com/perimeterlabs/shibgate/pkg/observability"
	"github.com/perimeterlabs/shibgate/pkg/session"
)

// memorySessionStore keeps sessions in a map; enough for handler tests.
type memorySessionStore struct {
	sessions map[string]*session.Session
}

func newMemorySessionStore() *memorySessionStore {
	return &memorySessionStore{sessions: make(map[string]*session.Session)}
}

func (s *memorySessionStore) Create(ctx context.Context, sess *session.Session) error {
	s.sessions[sess.ID] = sess
	return nil
}

func (s *memorySessionStore) Get(ctx context.Context, id string) (*session.Session, error) {
	sess, ok := s.sessions[id]
	if !ok || time.Now().After(sess.ExpiresAt) {
		return nil, nil
	}
	return sess, nil
}

func (s *memorySessionStore) Delete(ctx context.Context, id string) error {
	delete(s.sessions, id)
	return nil
}

func (s *memorySessionStore) DeleteExpired(ctx context.Context) (int64, error) {
	return 0, nil
}

func newTestRouter(t *testing.T) (*mux.Router, *identity.MemoryStore, *memorySessionStore) {
	t.Helper()
	store := identity.NewMemoryStore()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	sessionStore := newMemorySessionStore()
	sessions := session.NewManager(sessionStore, time.Hour, "", false)

	engine := NewEngine(store, logger, metrics)
	policies := NewPolicyProvider(testPolicy())
	handlers := NewHandlers(engine, store, policies, sessions, "/app/", logger, metrics)

	router := mux.NewRouter()
	handlers.RegisterRoutes(router)
	return router, store, sessionStore
}

func loginRequest(target string, headers map[string]string) *http.Request {
	req := httptest.NewRequest("GET", target, nil)
	for name, value := range headers {
		req.Header.Set(name, value)
	}
	return req
}

func aliceHeaders() map[string]string {
	return map[string]string{
		DefaultIDPHeader: testIdP,
		"Mail":           testUsername,
		"Givenname":      "Alice",
		"Sn":             "Adams",
	}
}

func TestLogin_MissingIdP(t *testing.T) {
	router, store, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, loginRequest("/auth/shib/login", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid response from IdP")
	assert.Equal(t, 0, store.UserCount())
}

func TestLogin_UnauthorizedIdP(t *testing.T) {
	router, store, _ := newTestRouter(t)

	headers := aliceHeaders()
	headers[DefaultIDPHeader] = "https://rogue.example.org/idp"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, loginRequest("/auth/shib/login", headers))

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "unauthorized IdP")
	assert.Equal(t, 0, store.UserCount())
}

func TestLogin_MissingRequiredAttribute(t *testing.T) {
	router, store, _ := newTestRouter(t)

	headers := aliceHeaders()
	delete(headers, "Mail")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, loginRequest("/auth/shib/login", headers))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, store.UserCount())
}

func TestLogin_Success(t *testing.T) {
	router, store, sessionStore := newTestRouter(t)

	headers := aliceHeaders()
	headers["Ou"] = "foo;bar"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, loginRequest("/auth/shib/login", headers))

	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/app/", w.Header().Get("Location"))

	// Session cookie issued and backed by a stored session.
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, session.DefaultCookieName, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
	require.Len(t, sessionStore.sessions, 1)

	user, err := store.FindUserByUsername(context.Background(), testUsername)
	require.NoError(t, err)
	require.NotNil(t, user)
}

func TestLogin_RedirectsToNext(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, loginRequest("/auth/shib/login?next=/dashboard", aliceHeaders()))

	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/dashboard", w.Header().Get("Location"))
}

func TestLogin_RejectsNonLocalNext(t *testing.T) {
	tests := []struct {
		name string
		next string
	}{
		{"absolute URL", "https://evil.example.org/"},
		{"protocol relative", "//evil.example.org/"},
		{"backslash", "/\\evil.example.org"},
		{"relative path", "dashboard"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, _, _ := newTestRouter(t)

			w := httptest.NewRecorder()
			router.ServeHTTP(w, loginRequest("/auth/shib/login?next="+tt.next, aliceHeaders()))

			require.Equal(t, http.StatusFound, w.Code)
			assert.Equal(t, "/app/", w.Header().Get("Location"))
		})
	}
}

func TestLogout_DestroysSession(t *testing.T) {
	router, _, sessionStore := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, loginRequest("/auth/shib/login", aliceHeaders()))
	require.Equal(t, http.StatusFound, w.Code)
	cookie := w.Result().Cookies()[0]

	req := httptest.NewRequest("GET", "/auth/shib/logout", nil)
	req.AddCookie(cookie)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Empty(t, sessionStore.sessions)
}

func TestWhoami(t *testing.T) {
	router, _, _ := newTestRouter(t)

	// Anonymous request is rejected.
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/auth/shib/whoami", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Log in, then ask again with the cookie.
	w = httptest.NewRecorder()
	headers := aliceHeaders()
	headers["Ou"] = "foo"
	router.ServeHTTP(w, loginRequest("/auth/shib/login", headers))
	require.Equal(t, http.StatusFound, w.Code)
	cookie := w.Result().Cookies()[0]

	req := httptest.NewRequest("GET", "/auth/shib/whoami", nil)
	req.AddCookie(cookie)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), testUsername)
	assert.Contains(t, w.Body.String(), "foo")
}
