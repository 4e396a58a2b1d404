package http

import (
	"log/slog"
	"net/http"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gin-gonic/gin"
	"github.com/layer-3/zkauth/adapters/store"
	"github.com/layer-3/zkauth/ports"
	"github.com/layer-3/zkauth/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps are the services the HTTP API is built on
type Deps struct {
	Login    *service.LoginService
	Sessions *service.SessionStore
	Monitor  *service.Monitor
	Wallets  *service.WalletResolver
	Chain    ports.Chain
	// Events delivers session lifecycle events to websocket clients
	Events message.Subscriber
	// Cookies binds each request to its browser session
	Cookies        *store.CookieStore
	Gatherer       prometheus.Gatherer
	GasBudget      uint64
	OriginPatterns []string
	Log            *slog.Logger
}

// SetupRouter sets up the Gin router
func SetupRouter(d Deps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(d.Log), RequireJSON())

	handlers := NewHandlers(d)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if d.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	scope := SessionScope(d.Cookies, d.Log)

	auth := router.Group("/auth", scope)
	{
		auth.POST("/zklogin/begin", handlers.BeginLogin)
		auth.POST("/zklogin/complete", handlers.CompleteLogin)
		auth.POST("/wallet/challenge", handlers.WalletChallenge)
		auth.POST("/wallet/connect", handlers.ConnectWallet)
		auth.POST("/logout", handlers.Logout)
	}

	session := router.Group("/session", scope)
	{
		session.GET("", handlers.Session)
		session.POST("/activity", handlers.Activity)
		session.GET("/events", handlers.Events)
	}

	wallet := router.Group("/wallet", scope)
	wallet.Use(RequireWallet(d.Wallets))
	{
		wallet.GET("", handlers.Wallet)
		wallet.GET("/can-sign", handlers.CanSign)
		wallet.GET("/balance", handlers.Balance)
		wallet.GET("/objects", handlers.Objects)
		wallet.GET("/history", handlers.History)
		wallet.POST("/transfer-sui", handlers.TransferSui)
		wallet.POST("/transfer-objects", handlers.TransferObjects)
		wallet.POST("/move-call", handlers.MoveCall)
		wallet.POST("/sign", handlers.Sign)
		wallet.POST("/estimate-gas", handlers.EstimateGas)
	}

	return router
}
