package http

import (
	"context"
	"github.com/gin-gonic/gin"
	"moff.io/moff-defi/internal/balance"
	"moff.io/moff-defi/internal/chains"
	"moff.io/moff-defi/internal/eip1193"
	"moff.io/moff-defi/internal/session"
	"moff.io/moff-defi/internal/walletconnect"
	"moff.io/moff-defi/pkg/errors"
	"moff.io/moff-defi/pkg/log"
	"moff.io/moff-defi/pkg/units"
	"net/http"
)

// 业务码
const (
	codeOK           = 0
	codeBadRequest   = 4000
	codeUserRejected = 4001
	codeBadSignature = 4003
	codeNoProvider   = 4004
	codeNotConnected = 4009
	codeRateLimited  = 4029
	codeInternal     = 5000
	codeUnavailable  = 5003
	codeTimeout      = 5004
)

type sessionView struct {
	State     string `json:"state"`
	Address   string `json:"address,omitempty"`
	ChainID   int64  `json:"chain_id,omitempty"`
	ChainName string `json:"chain_name,omitempty"`
	Balance   string `json:"balance"`
}

type transferRequest struct {
	Recipient string `json:"recipient" binding:"required"`
	Amount    string `json:"amount" binding:"required"`
}

type signInRequest struct {
	Message string `json:"message" binding:"required"`
}

type signInView struct {
	Address   string `json:"address"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

type transferView struct {
	Hash        string `json:"hash"`
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	Amount      string `json:"amount"`
	Confirmed   bool   `json:"confirmed"`
	BlockNumber uint64 `json:"block_number,omitempty"`
}

func ok(ctx *gin.Context, data interface{}) {
	ctx.JSON(http.StatusOK, gin.H{"code": codeOK, "msg": "ok", "data": data})
}

func abort(ctx *gin.Context, status, code int, msg string) {
	ctx.AbortWithStatusJSON(status, gin.H{"code": code, "msg": msg})
}

func fail(ctx *gin.Context, err error) {
	switch {
	case eip1193.IsUserRejected(err):
		abort(ctx, http.StatusForbidden, codeUserRejected, err.Error())
	case errors.Is(err, walletconnect.ErrBadSignature):
		abort(ctx, http.StatusUnauthorized, codeBadSignature, err.Error())
	case errors.Is(err, eip1193.ErrNoProvider):
		abort(ctx, http.StatusNotFound, codeNoProvider, err.Error())
	case errors.Is(err, balance.ErrNotConnected):
		abort(ctx, http.StatusConflict, codeNotConnected, err.Error())
	case errors.Is(err, balance.ErrInvalidRecipient), errors.Is(err, balance.ErrNegativeAmount),
		errors.Is(err, units.ErrInvalidAmount), errors.Is(err, units.ErrTooManyDecimals):
		abort(ctx, http.StatusBadRequest, codeBadRequest, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		abort(ctx, http.StatusGatewayTimeout, codeTimeout, err.Error())
	default:
		log.ErrorCtxf(ctx.Request.Context(), "%v %v: %v", ctx.Request.Method, ctx.FullPath(), err)
		abort(ctx, http.StatusInternalServerError, codeInternal, err.Error())
	}
}

func (s *Server) view(sess session.Session) sessionView {
	v := sessionView{
		State:   string(sess.State),
		Address: sess.Address,
		ChainID: sess.ChainID,
		Balance: s.tracker.Balance(),
	}
	if sess.ChainID != 0 {
		v.ChainName = chains.Name(sess.ChainID)
	}
	return v
}

func (s *Server) getSession(ctx *gin.Context) {
	ok(ctx, s.view(s.manager.Session()))
}

func (s *Server) connect(ctx *gin.Context) {
	sess, err := s.manager.Connect(ctx.Request.Context())
	if err != nil {
		fail(ctx, err)
		return
	}
	ok(ctx, s.view(sess))
}

func (s *Server) disconnect(ctx *gin.Context) {
	if err := s.manager.Disconnect(ctx.Request.Context()); err != nil {
		fail(ctx, err)
		return
	}
	ok(ctx, s.view(s.manager.Session()))
}

// signIn proves the session address holds its key by having the wallet sign message.
func (s *Server) signIn(ctx *gin.Context) {
	var req signInRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		abort(ctx, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	sess := s.manager.Session()
	if !sess.Connected() {
		fail(ctx, balance.ErrNotConnected)
		return
	}
	sig, err := walletconnect.SignIn(ctx.Request.Context(), sess.Provider, sess.Address, req.Message)
	if err != nil {
		fail(ctx, err)
		return
	}
	log.InfoCtxf(ctx.Request.Context(), "session - %v signed in", sess.Address)
	ok(ctx, signInView{Address: sess.Address, Message: req.Message, Signature: sig})
}

func (s *Server) getBalance(ctx *gin.Context) {
	address := s.tracker.Address()
	if address == "" {
		fail(ctx, balance.ErrNotConnected)
		return
	}
	bal := s.tracker.Balance()
	if ctx.Query("refresh") == "true" {
		var err error
		if bal, err = s.tracker.Refresh(ctx.Request.Context()); err != nil {
			fail(ctx, err)
			return
		}
	}
	ok(ctx, gin.H{"address": address, "balance": bal})
}

func (s *Server) transfer(ctx *gin.Context) {
	var req transferRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		abort(ctx, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	t, err := s.tracker.SendFunds(ctx.Request.Context(), req.Recipient, req.Amount)
	if err != nil {
		fail(ctx, err)
		return
	}
	v := transferView{
		Hash:      t.Hash.Hex(),
		From:      t.From,
		To:        t.To,
		Value:     t.Value.String(),
		Amount:    units.FormatEther(t.Value),
		Confirmed: t.Confirmed,
	}
	if t.BlockNumber != nil {
		v.BlockNumber = t.BlockNumber.Uint64()
	}
	if !t.Confirmed {
		log.WarnCtxf(ctx.Request.Context(), "transfer %v submitted without receipt", v.Hash)
	}
	ok(ctx, v)
}
