package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vaultline/vaultline/internal/ledger"
	"github.com/vaultline/vaultline/internal/settlement"
	"github.com/vaultline/vaultline/internal/vault"
)

// AccountHandler exposes balance and history lookups. Both are
// balance-sensitive reads, so each triggers a settlement sweep first —
// an observer must never see a balance that excludes a Fast transaction
// whose threshold has already passed.
type AccountHandler struct {
	engine *settlement.Engine
	store  vault.Store
	logger *zap.Logger
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(engine *settlement.Engine, store vault.Store, logger *zap.Logger) *AccountHandler {
	return &AccountHandler{engine: engine, store: store, logger: logger}
}

// Register mounts the account routes on the given router group.
func (h *AccountHandler) Register(rg *gin.RouterGroup) {
	a := rg.Group("/accounts")
	{
		a.GET("/:id/balance", h.Balance)
		a.GET("/:id/history", h.History)
	}
}

func (h *AccountHandler) sweep(c *gin.Context) {
	if _, err := h.engine.Sweep(c.Request.Context()); err != nil {
		h.logger.Error("pre-read sweep failed", zap.Error(err))
	}
}

// Balance handles GET /accounts/:id/balance.
func (h *AccountHandler) Balance(c *gin.Context) {
	h.sweep(c)

	id := c.Param("id")
	var account vault.Account
	found := false
	err := h.store.View(c.Request.Context(), func(s *vault.State) error {
		if a, ok := s.Account(id); ok {
			account = *a
			found = true
		}
		return nil
	})
	if err != nil {
		h.logger.Error("balance read failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read account"})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":      account.ID,
		"name":    account.Name,
		"balance": account.Balance,
	})
}

// History handles GET /accounts/:id/history — the account's settled
// transactions, newest first.
func (h *AccountHandler) History(c *gin.Context) {
	h.sweep(c)

	id := c.Param("id")
	var history []ledger.Record
	err := h.store.View(c.Request.Context(), func(s *vault.State) error {
		for i := len(s.Ledger) - 1; i >= 0; i-- {
			r := s.Ledger[i]
			if r.Sender == id || r.Receiver == id {
				history = append(history, r)
			}
		}
		return nil
	})
	if err != nil {
		h.logger.Error("history read failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read history"})
		return
	}

	if history == nil {
		history = []ledger.Record{}
	}
	c.JSON(http.StatusOK, history)
}
