package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogin(t *testing.T) {
	i := NewIssuer("open sesame", "presence", "secret", time.Hour)

	_, err := i.Login("open")
	assert.ErrorIs(t, err, ErrBadPassphrase)

	s, err := i.Login("open sesame")
	require.NoError(t, err)
	assert.NotEmpty(t, s.Token)

	claims, err := i.Parse(s.Token)
	require.NoError(t, err)
	assert.Equal(t, "staff", claims.Subject)

	_, err = NewIssuer("", "presence", "secret", time.Hour).Login("")
	assert.ErrorIs(t, err, ErrNoPassphrase)
}

func TestParseRejects(t *testing.T) {
	i := NewIssuer("p", "presence", "secret", time.Minute)
	s, err := i.Issue("staff")
	require.NoError(t, err)

	_, err = NewIssuer("p", "presence", "other-key", time.Minute).Parse(s.Token)
	assert.Error(t, err, "wrong key")

	_, err = NewIssuer("p", "someone-else", "secret", time.Minute).Parse(s.Token)
	assert.Error(t, err, "wrong issuer")

	later := NewIssuer("p", "presence", "secret", time.Minute)
	later.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = later.Parse(s.Token)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestSessionAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	i := NewIssuer("p", "presence", "secret", time.Hour)
	r := gin.New()
	r.GET("/private", SessionAuth(i), func(c *gin.Context) { c.Status(http.StatusOK) })

	s, err := i.Issue("staff")
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "missing", header: "", want: http.StatusUnauthorized},
		{name: "garbage", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "basic scheme", header: "Basic " + s.Token, want: http.StatusUnauthorized},
		{name: "lower-case scheme", header: "bearer " + s.Token, want: http.StatusOK},
		{name: "valid", header: "Bearer " + s.Token, want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/private", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestSessionAuthExpired(t *testing.T) {
	gin.SetMode(gin.TestMode)
	i := NewIssuer("p", "presence", "secret", time.Minute)
	s, err := i.Issue("staff")
	require.NoError(t, err)
	i.now = func() time.Time { return time.Now().Add(time.Hour) }

	r := gin.New()
	r.GET("/private", SessionAuth(i), func(c *gin.Context) { c.Status(http.StatusOK) })
	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("Authorization", "Bearer "+s.Token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "session expired")
	assert.NotEmpty(t, w.Header().Get("WWW-Authenticate"))
}
