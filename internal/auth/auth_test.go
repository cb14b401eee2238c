package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPassword(t *testing.T) {
	hash, err := HashPassword("secret")
	require.NoError(t, err)
	require.NotEqual(t, "secret", hash)

	ok, err := ComparePassword("secret", hash)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = ComparePassword("wrong", hash)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = ComparePassword("secret", "not a hash")
	require.Error(t, err)
}

func TestTokens(t *testing.T) {
	tokens := NewTokens("test-secret", time.Hour)

	token, err := tokens.Issue(42, "a@example.com")
	require.NoError(t, err)

	claims, err := tokens.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "a@example.com", claims.Email)
	id, err := claims.UserID()
	require.NoError(t, err)
	require.Equal(t, int64(42), id)
}

func TestTokens_WrongSecret(t *testing.T) {
	token, err := NewTokens("one", time.Hour).Issue(1, "a@example.com")
	require.NoError(t, err)

	_, err = NewTokens("two", time.Hour).Verify(token)
	require.Error(t, err)
}

func TestTokens_Expired(t *testing.T) {
	tokens := NewTokens("test-secret", time.Minute)
	tokens.now = func() time.Time { return time.Now().Add(-time.Hour) }

	token, err := tokens.Issue(1, "a@example.com")
	require.NoError(t, err)

	tokens.now = time.Now
	_, err = tokens.Verify(token)
	require.Error(t, err)
}

func TestTokenFromRequest(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	require.Equal(t, "", TokenFromRequest(req))

	req.Header.Set("Authorization", "Bearer abc")
	require.Equal(t, "abc", TokenFromRequest(req))

	req.AddCookie(&http.Cookie{Name: CookieName, Value: "from-cookie"})
	require.Equal(t, "from-cookie", TokenFromRequest(req))
}

func TestSetCookie(t *testing.T) {
	rr := httptest.NewRecorder()
	SetCookie(rr, "abc", time.Hour, true)

	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, CookieName, cookies[0].Name)
	require.Equal(t, "abc", cookies[0].Value)
	require.True(t, cookies[0].HttpOnly)
	require.Equal(t, 3600, cookies[0].MaxAge)
}
