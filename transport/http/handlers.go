package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gin-gonic/gin"
	"github.com/layer-3/zkauth/adapters/sui"
	"github.com/layer-3/zkauth/core"
	"github.com/layer-3/zkauth/ports"
	"github.com/layer-3/zkauth/service"
	"github.com/layer-3/zkauth/zklogin"
	"github.com/shopspring/decimal"
)

const defaultHistoryLimit = 20

// Handlers contains the HTTP handlers of the agent API
type Handlers struct {
	login          *service.LoginService
	sessions       *service.SessionStore
	monitor        *service.Monitor
	chain          ports.Chain
	events         message.Subscriber
	gasBudget      uint64
	originPatterns []string
	log            *slog.Logger
}

// NewHandlers creates the API handlers
func NewHandlers(d Deps) *Handlers {
	return &Handlers{
		login:          d.Login,
		sessions:       d.Sessions,
		monitor:        d.Monitor,
		chain:          d.Chain,
		events:         d.Events,
		gasBudget:      d.GasBudget,
		originPatterns: d.OriginPatterns,
		log:            d.Log,
	}
}

// errorStatus maps service errors to a status code and client message
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrSessionNotFound), errors.Is(err, core.ErrSessionExpired), errors.Is(err, core.ErrNoSessionScope):
		return http.StatusUnauthorized, "Not logged in"
	case errors.Is(err, core.ErrEphemeralKeyExpired), errors.Is(err, core.ErrJWTExpired), errors.Is(err, core.ErrInvalidSignature):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, core.ErrMalformedJWT),
		errors.Is(err, core.ErrInvalidNonce),
		errors.Is(err, core.ErrChallengeExpired),
		errors.Is(err, core.ErrInvalidAddress),
		errors.Is(err, core.ErrAddressMismatch),
		errors.Is(err, core.ErrUnknownActivity):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, core.ErrNoSigner):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, core.ErrInsufficientBalance), errors.Is(err, core.ErrDryRunFailed):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, core.ErrProverDeprecated):
		return http.StatusServiceUnavailable, err.Error()
	case errors.Is(err, core.ErrProofGeneration), errors.Is(err, core.ErrIncompleteProof):
		return http.StatusBadGateway, err.Error()
	default:
		return http.StatusInternalServerError, "Internal error"
	}
}

func (h *Handlers) fail(c *gin.Context, err error) {
	status, msg := errorStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("http.handler.failed", "path", c.FullPath(), "error", err)
	}

	body := gin.H{"error": msg}
	var step *core.StepError
	if errors.As(err, &step) {
		body["step"] = step.Step
	}
	c.JSON(status, body)
}

// BeginLogin starts a zkLogin flow
func (h *Handlers) BeginLogin(c *gin.Context) {
	challenge, err := h.login.BeginLogin(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, challenge)
}

// CompleteLogin exchanges an identity token for a session
func (h *Handlers) CompleteLogin(c *gin.Context) {
	var req struct {
		JWT string `json:"jwt" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	ident, err := h.login.CompleteLogin(c.Request.Context(), req.JWT)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ident)
}

// WalletChallenge issues the message a wallet must sign to connect
func (h *Handlers) WalletChallenge(c *gin.Context) {
	var req struct {
		Address string `json:"address" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	challenge, err := h.login.BeginWalletConnect(c.Request.Context(), req.Address)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, challenge)
}

// ConnectWallet signs in with a conventional wallet that signed its challenge
func (h *Handlers) ConnectWallet(c *gin.Context) {
	var req struct {
		Address     string `json:"address" binding:"required"`
		Nonce       string `json:"nonce" binding:"required"`
		Signature   string `json:"signature" binding:"required"`
		DisplayName string `json:"displayName"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	ident, err := h.login.ConnectWallet(c.Request.Context(), service.WalletProof{
		Address:     req.Address,
		Nonce:       req.Nonce,
		Signature:   req.Signature,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ident)
}

// Logout tears down the session. It succeeds when there is no session.
func (h *Handlers) Logout(c *gin.Context) {
	if err := h.login.Logout(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// Session reports the session state without changing it
func (h *Handlers) Session(c *gin.Context) {
	c.JSON(http.StatusOK, h.sessions.Info(c.Request.Context()))
}

// Activity records a user interaction
func (h *Handlers) Activity(c *gin.Context) {
	var req struct {
		Signal string `json:"signal" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	signal := service.ActivitySignal(req.Signal)
	if signal == service.SignalVisible || signal == service.SignalFocus {
		h.monitor.OnVisible(c.Request.Context())
		c.Status(http.StatusNoContent)
		return
	}
	if err := h.monitor.Observe(c.Request.Context(), signal); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Wallet describes the wallet of the current session
func (h *Handlers) Wallet(c *gin.Context) {
	w := currentWallet(c)
	c.JSON(http.StatusOK, gin.H{
		"address":   w.Address(),
		"publicKey": w.PublicKey(),
		"kind":      w.Kind(),
	})
}

// CanSign runs the signing pre-flight check
func (h *Handlers) CanSign(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"canSign": currentWallet(c).CanSign(c.Request.Context())})
}

func (h *Handlers) Balance(c *gin.Context) {
	b, err := currentWallet(c).Balance(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h *Handlers) Objects(c *gin.Context) {
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
		return
	}

	page, err := currentWallet(c).OwnedObjects(c.Request.Context(), core.ObjectQuery{
		StructType: c.Query("type"),
		Cursor:     c.Query("cursor"),
		Limit:      limit,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handlers) History(c *gin.Context) {
	limit, err := queryInt(c, "limit", defaultHistoryLimit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
		return
	}

	txs, err := currentWallet(c).TransactionHistory(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": txs})
}

// txRequest describes one transaction. Exactly one of Amount, ObjectIDs or
// MoveCall selects its kind.
type txRequest struct {
	Recipient string       `json:"recipient"`
	Amount    string       `json:"amount"`
	ObjectIDs []string     `json:"objectIds"`
	MoveCall  *moveCallReq `json:"moveCall"`
}

type moveCallReq struct {
	Package       string   `json:"package" binding:"required"`
	Module        string   `json:"module" binding:"required"`
	Function      string   `json:"function" binding:"required"`
	TypeArguments []string `json:"typeArguments"`
	Arguments     []any    `json:"arguments"`
}

func (r *moveCallReq) toPort() ports.MoveCallRequest {
	return ports.MoveCallRequest{
		Package:       r.Package,
		Module:        r.Module,
		Function:      r.Function,
		TypeArguments: r.TypeArguments,
		Arguments:     r.Arguments,
	}
}

func (h *Handlers) builder(req txRequest) (service.TxBuilder, error) {
	if req.MoveCall != nil {
		return service.MoveCall(h.chain, req.MoveCall.toPort(), h.gasBudget), nil
	}

	recipient, err := zklogin.NormalizeAddress(req.Recipient)
	if err != nil {
		return nil, err
	}
	switch {
	case len(req.ObjectIDs) > 0:
		return service.TransferObjects(h.chain, req.ObjectIDs, recipient, h.gasBudget), nil
	case req.Amount != "":
		amount, err := parseSUI(req.Amount)
		if err != nil {
			return nil, err
		}
		return service.PaySui(h.chain, recipient, amount, h.gasBudget), nil
	default:
		return nil, errors.New("transaction kind required")
	}
}

// TransferSui sends an amount of SUI, given in whole coins
func (h *Handlers) TransferSui(c *gin.Context) {
	var req struct {
		Recipient string `json:"recipient" binding:"required"`
		Amount    string `json:"amount" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	amount, err := parseSUI(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := currentWallet(c).TransferSui(c.Request.Context(), req.Recipient, amount)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handlers) TransferObjects(c *gin.Context) {
	var req struct {
		Recipient string   `json:"recipient" binding:"required"`
		ObjectIDs []string `json:"objectIds" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	res, err := currentWallet(c).TransferObjects(c.Request.Context(), req.ObjectIDs, req.Recipient)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// MoveCall signs and executes a Move call
func (h *Handlers) MoveCall(c *gin.Context) {
	var req moveCallReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	res, err := currentWallet(c).SignAndExecuteTransaction(c.Request.Context(), service.MoveCall(h.chain, req.toPort(), h.gasBudget))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Sign signs a transaction without executing it
func (h *Handlers) Sign(c *gin.Context) {
	var req txRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	build, err := h.builder(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	signed, err := currentWallet(c).SignTransaction(c.Request.Context(), build)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, signed)
}

// EstimateGas reports the computation cost of a transaction
func (h *Handlers) EstimateGas(c *gin.Context) {
	var req txRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	build, err := h.builder(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cost, err := currentWallet(c).EstimateGas(c.Request.Context(), build)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"computationCost": strconv.FormatUint(cost, 10)})
}

func parseSUI(s string) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, errors.New("invalid amount")
	}
	return sui.SUIToMist(d)
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	v := c.Query(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("invalid integer")
	}
	return n, nil
}
