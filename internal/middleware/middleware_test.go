package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/docchat/internal/pkg/errcode"
	"github.com/xxxsen/docchat/internal/pkg/jwt"
)

var testSecret = []byte("secret")

func authEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), JWTAuth(testSecret))
	r.GET("/me", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(ContextUserIDKey))
	})
	return r
}

func errorCode(t *testing.T, body []byte) int {
	var out struct {
		Code int `json:"code"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	return out.Code
}

func TestJWTAuthAcceptsSubjectClaim(t *testing.T) {
	token, err := jwt.GenerateToken("user-1", "a@b.c", testSecret, time.Hour)
	require.NoError(t, err)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	authEngine().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "user-1", w.Body.String())
	require.NotEmpty(t, w.Header().Get("X-Request-Id"))
}

func TestJWTAuthAcceptsUserIDClaim(t *testing.T) {
	claims := jwt.Claims{
		UserID: "user-2",
		RegisteredClaims: jwtlib.RegisteredClaims{
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "bearer "+token)
	authEngine().ServeHTTP(w, req)
	require.Equal(t, "user-2", w.Body.String())
}

func TestJWTAuthRejects(t *testing.T) {
	expired, err := jwt.GenerateToken("user-1", "", testSecret, -time.Minute)
	require.NoError(t, err)
	other, err := jwt.GenerateToken("user-1", "", []byte("other"), time.Hour)
	require.NoError(t, err)

	for name, header := range map[string]string{
		"missing":    "",
		"scheme":     "Basic abc",
		"expired":    "Bearer " + expired,
		"bad_secret": "Bearer " + other,
	} {
		t.Run(name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			authEngine().ServeHTTP(w, req)
			require.Equal(t, errcode.ErrUnauthorized, errorCode(t, w.Body.Bytes()))
		})
	}
}

func TestCORSAllowlist(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS([]string{"https://app.example.com/"}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "https://app.example.com")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestIDKeepsInbound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(ContextRequestIDKey)) })
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-Id", "abc")
	r.ServeHTTP(w, req)
	require.Equal(t, "abc", w.Body.String())
}
