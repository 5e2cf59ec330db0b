package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ashureev/tutor-core/internal/store"
)

func TestMiddlewareMintsIdentityAndCreatesUser(t *testing.T) {
	repo := store.NewMemory()
	var gotUser, gotSession string
	h := Middleware(repo, true)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
		gotSession = SessionIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/me?session_id=s-1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.True(t, isValidAnonID(gotUser))
	require.Equal(t, "s-1", gotSession)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, AnonCookieName, cookies[0].Name)
	require.Equal(t, gotUser, cookies[0].Value)
	require.False(t, cookies[0].Secure)

	user, err := repo.GetUser(context.Background(), gotUser)
	require.NoError(t, err)
	require.NotNil(t, user)
	require.Equal(t, deriveUsername(gotUser), user.Username)
}

func TestMiddlewareReusesValidCookie(t *testing.T) {
	repo := store.NewMemory()
	id, err := generateAnonID()
	require.NoError(t, err)

	var gotUser string
	h := Middleware(repo, false)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
	}))
	for range 2 {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: id})
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, id, gotUser)
		require.True(t, rec.Result().Cookies()[0].Secure)
	}
}

func TestMiddlewareReplacesForgedCookie(t *testing.T) {
	var gotUser string
	h := Middleware(store.NewMemory(), true)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: "admin"})
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.NotEqual(t, "admin", gotUser)
	require.True(t, isValidAnonID(gotUser))
}

func TestSanitizeSessionID(t *testing.T) {
	require.Equal(t, "tab-1", SanitizeSessionID(" tab-1 "))
	require.Empty(t, SanitizeSessionID(""))
	require.Empty(t, SanitizeSessionID("../../etc/passwd"))
}

func TestSessionHeaderWinsOverQuery(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?session_id=from-query", nil)
	req.Header.Set(SessionHeaderName, "from-header")
	require.Equal(t, "from-header", sessionIDFromRequest(req))
}
