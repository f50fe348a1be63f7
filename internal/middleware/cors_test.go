package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestParseAllowedOrigins(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{name: "empty string", input: "", want: []string{"*"}},
		{name: "only separators", input: " , ,", want: []string{"*"}},
		{name: "wildcard", input: "*", want: []string{"*"}},
		{name: "single origin", input: "http://localhost:3000", want: []string{"http://localhost:3000"}},
		{
			name:  "multiple origins with spaces",
			input: "http://localhost:3000 , https://portal.sabercon.edu.br",
			want:  []string{"http://localhost:3000", "https://portal.sabercon.edu.br"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseAllowedOrigins(tt.input))
		})
	}
}

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)

	newRouter := func(origins ...string) *gin.Engine {
		r := gin.New()
		r.Use(CORS(origins))
		r.GET("/auth/me", func(c *gin.Context) { c.Status(http.StatusOK) })
		return r
	}
	do := func(r *gin.Engine, method, origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, "/auth/me", nil)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	t.Run("listed origin gets credentials", func(t *testing.T) {
		w := do(newRouter("https://portal.sabercon.edu.br"), http.MethodGet, "https://portal.sabercon.edu.br")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "https://portal.sabercon.edu.br", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	})

	t.Run("wildcard never gets credentials", func(t *testing.T) {
		w := do(newRouter("*"), http.MethodGet, "https://elsewhere.example")
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
	})

	t.Run("unlisted origin", func(t *testing.T) {
		w := do(newRouter("https://portal.sabercon.edu.br"), http.MethodGet, "https://elsewhere.example")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight", func(t *testing.T) {
		w := do(newRouter("https://portal.sabercon.edu.br"), http.MethodOptions, "https://portal.sabercon.edu.br")
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Authorization")
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "X-Auth-Token")
	})
}
