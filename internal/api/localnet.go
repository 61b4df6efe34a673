package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/victornm/triviapot/internal/auth"
	"github.com/victornm/triviapot/internal/errors"
	"github.com/victornm/triviapot/internal/settlement"
	"github.com/victornm/triviapot/internal/vault"
)

// Localnet routes stand in for a wallet: they sign instructions for any wallet without its key.
type (
	TokenRequest struct {
		PlayerID string `json:"player_id"`
		Wallet   string `json:"wallet"`
	}

	TokenResponse struct {
		Token string `json:"token"`
	}

	AirdropRequest struct {
		Wallet string `json:"wallet"`
		Amount uint64 `json:"amount"`
	}

	BalanceResponse struct {
		Wallet  string `json:"wallet"`
		Balance uint64 `json:"balance"`
	}

	EnterRoundRequest struct {
		Wallet  string `json:"wallet"`
		RoundID uint64 `json:"round_id,omitempty"`
	}

	EnterRoundResponse struct {
		RoundID   uint64 `json:"round_id"`
		Signature string `json:"signature"`
	}

	ClaimPrizeRequest struct {
		Wallet  string `json:"wallet"`
		RoundID uint64 `json:"round_id"`
	}

	ClaimPrizeResponse struct {
		Amount uint64 `json:"amount"`
	}

	SettleRoundResponse struct {
		Round    Round    `json:"round"`
		Payouts  []Payout `json:"payouts,omitempty"`
		Refunded []string `json:"refunded,omitempty"`
	}
)

func (a *API) registerLocalnetRoutes(g *gin.RouterGroup) {
	g.POST("/token", a.handleToken)
	g.POST("/airdrop", a.handleAirdrop)
	g.POST("/enter", a.handleEnterRound)
	g.POST("/claim", a.handleClaimPrize)
	g.POST("/rounds/:id/settle", a.handleSettleRound)
}

func (a *API) handleToken(c *gin.Context) {
	var req TokenRequest
	if !bindJSON(c, &req) {
		return
	}

	token, err := a.auth.Issue(auth.Player{ID: req.PlayerID, Wallet: req.Wallet})
	respond(c, "issue token", &TokenResponse{Token: token}, err)
}

func (a *API) handleAirdrop(c *gin.Context) {
	var req AirdropRequest
	if !bindJSON(c, &req) || !requireWallet(c, req.Wallet) {
		return
	}

	ctx := c.Request.Context()
	if err := a.localnet.Airdrop(ctx, vault.Address(req.Wallet), req.Amount); err != nil {
		writeError(c, toError(ctx, "airdrop", err))
		return
	}

	b, err := a.localnet.Balance(ctx, vault.Address(req.Wallet))
	respond(c, "airdrop", &BalanceResponse{Wallet: req.Wallet, Balance: b}, err)
}

// handleEnterRound pays the entry fee of the current round, or of the given round, from the wallet.
// The returned signature is the payment proof of a ranked session.
func (a *API) handleEnterRound(c *gin.Context) {
	var req EnterRoundRequest
	if !bindJSON(c, &req) || !requireWallet(c, req.Wallet) {
		return
	}

	ctx := c.Request.Context()
	if req.RoundID == 0 {
		r, err := a.rs.Current(ctx)
		if err != nil {
			writeError(c, toError(ctx, "enter round", err))
			return
		}
		req.RoundID = r.RoundID
	}

	sig, err := a.localnet.EnterRound(ctx, vault.Address(req.Wallet), req.RoundID)
	respond(c, "enter round", &EnterRoundResponse{RoundID: req.RoundID, Signature: sig}, err)
}

func (a *API) handleClaimPrize(c *gin.Context) {
	var req ClaimPrizeRequest
	if !bindJSON(c, &req) || !requireWallet(c, req.Wallet) {
		return
	}

	resp, err := a.sts.ClaimPrize(c.Request.Context(), settlement.ClaimPrizeRequest{RoundID: req.RoundID, Wallet: req.Wallet})
	if err != nil {
		writeError(c, toError(c.Request.Context(), "claim prize", err))
		return
	}

	c.JSON(http.StatusOK, &ClaimPrizeResponse{Amount: resp.Amount})
}

func (a *API) handleSettleRound(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		writeError(c, invalidArgument(err))
		return
	}

	resp, err := a.sts.SettleRound(c.Request.Context(), settlement.SettleRoundRequest{RoundID: id})
	if err != nil {
		writeError(c, toError(c.Request.Context(), "settle round", err))
		return
	}

	c.JSON(http.StatusOK, &SettleRoundResponse{
		Round:    toRound(resp.Round),
		Payouts:  toPayouts(resp.Payouts),
		Refunded: resp.Refunded,
	})
}

func requireWallet(c *gin.Context, wallet string) bool {
	if wallet == "" {
		writeError(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("wallet is required")))
		return false
	}

	return true
}
