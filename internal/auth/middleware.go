package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Middleware authenticates requests. A nil verifier lets everything through.
type Middleware struct {
	verifier *Verifier
}

func NewMiddleware(v *Verifier) *Middleware { return &Middleware{verifier: v} }

func (m *Middleware) Enabled() bool { return m.verifier != nil }

// GinAuth returns a Gin middleware function for authentication
func (m *Middleware) GinAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.Enabled() {
			c.Next()
			return
		}
		if err := m.verifier.Verify(BearerToken(c.GetHeader("Authorization"))); err != nil {
			c.Header("WWW-Authenticate", `Bearer realm="logdrain"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "authentication_failed",
				"message": err.Error(),
			})
			return
		}
		c.Next()
	}
}

// HTTPAuth wraps a plain handler such as the metrics endpoint.
func (m *Middleware) HTTPAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		if err := m.verifier.Verify(BearerToken(r.Header.Get("Authorization"))); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("WWW-Authenticate", `Bearer realm="logdrain"`)
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"authentication_failed","message":"Authentication required"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
