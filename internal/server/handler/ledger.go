package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vaultline/vaultline/internal/ledger"
	"github.com/vaultline/vaultline/internal/vault"
)

// LedgerHandler exposes read-only HTTP endpoints for the settlement ledger:
// listing, single-record fetch, Merkle root, and full chain verification.
type LedgerHandler struct {
	store  vault.Store
	logger *zap.Logger
}

// NewLedgerHandler creates a LedgerHandler.
func NewLedgerHandler(store vault.Store, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{store: store, logger: logger}
}

// Register mounts the ledger routes on the given router group.
func (h *LedgerHandler) Register(rg *gin.RouterGroup) {
	l := rg.Group("/ledger")
	{
		l.GET("", h.Overview)
		l.GET("/root", h.Root)
		l.GET("/verify", h.Verify)
		l.GET("/records/:idx", h.GetRecord)
	}
}

func (h *LedgerHandler) snapshot(c *gin.Context) ([]ledger.Record, bool) {
	var records []ledger.Record
	err := h.store.View(c.Request.Context(), func(s *vault.State) error {
		records = append(records, s.Ledger...)
		return nil
	})
	if err != nil {
		h.logger.Error("ledger read failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read ledger"})
		return nil, false
	}
	return records, true
}

// Overview handles GET /ledger. It returns all records (newest first) plus the
// chain length and the current Merkle root.
func (h *LedgerHandler) Overview(c *gin.Context) {
	records, ok := h.snapshot(c)
	if !ok {
		return
	}

	reversed := make([]ledger.Record, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		reversed = append(reversed, records[i])
	}

	c.JSON(http.StatusOK, gin.H{
		"records":     reversed,
		"length":      len(records),
		"merkle_root": ledger.MerkleRoot(records),
	})
}

// Root handles GET /ledger/root, returning only the Merkle root. The literal
// "Empty Tree" is returned when nothing has settled yet.
func (h *LedgerHandler) Root(c *gin.Context) {
	records, ok := h.snapshot(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"merkle_root": ledger.MerkleRoot(records)})
}

// Verify handles GET /ledger/verify. It recomputes every chain link and
// reports integrity, naming the first broken record when there is one.
// Breaks are reported, never repaired.
func (h *LedgerHandler) Verify(c *gin.Context) {
	records, ok := h.snapshot(c)
	if !ok {
		return
	}

	if err := ledger.Verify(records); err != nil {
		var verifyErr *ledger.VerifyError
		resp := gin.H{"valid": false, "error": err.Error()}
		if errors.As(err, &verifyErr) {
			resp["broken_at"] = verifyErr.Index
		}
		h.logger.Warn("ledger chain verification failed", zap.Error(err))
		c.JSON(http.StatusOK, resp)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"valid":       true,
		"length":      len(records),
		"merkle_root": ledger.MerkleRoot(records),
	})
}

// GetRecord handles GET /ledger/records/:idx, returning a single ledger
// record by position.
func (h *LedgerHandler) GetRecord(c *gin.Context) {
	idx, err := strconv.Atoi(c.Param("idx"))
	if err != nil || idx < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "idx must be a non-negative integer"})
		return
	}

	records, ok := h.snapshot(c)
	if !ok {
		return
	}
	if idx >= len(records) {
		c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
		return
	}
	c.JSON(http.StatusOK, records[idx])
}
