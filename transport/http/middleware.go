package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/layer-3/zkauth/adapters/store"
	"github.com/layer-3/zkauth/service"
)

const (
	walletKey       = "wallet"
	requestIDHeader = "X-Request-ID"
)

// RequireWallet resolves the wallet of the current session and stores it in
// the request context
func RequireWallet(wallets *service.WalletResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		w, err := wallets.Current(c.Request.Context())
		if err != nil {
			status, msg := errorStatus(err)
			c.AbortWithStatusJSON(status, gin.H{"error": msg})
			return
		}

		c.Set(walletKey, w)
		c.Next()
	}
}

// SessionScope binds the request to the browser's session cookies. Every
// session read and write below it is scoped to that browser.
func SessionScope(cookies *store.CookieStore, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		r, err := cookies.Bind(c.Writer, c.Request)
		if err != nil {
			log.Error("http.session.bind_failed", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
			return
		}
		c.Request = r
		c.Next()
	}
}

// RequireJSON rejects state-changing requests that are not JSON. Browsers
// cannot send such a request cross-site without a CORS preflight, which
// this API never grants.
func RequireJSON() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
			if c.ContentType() != gin.MIMEJSON {
				c.AbortWithStatusJSON(http.StatusUnsupportedMediaType, gin.H{"error": "Content-Type must be application/json"})
				return
			}
		}
		c.Next()
	}
}

func currentWallet(c *gin.Context) service.Wallet {
	return c.MustGet(walletKey).(service.Wallet)
}

// RequestLogger tags each request with an id and logs one line per request
func RequestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)
		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= 500 {
			level = slog.LevelError
		}
		log.Log(c.Request.Context(), level, "http.request",
			"request_id", id,
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
