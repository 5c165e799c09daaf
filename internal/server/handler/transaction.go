package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vaultline/vaultline/internal/ledger"
	"github.com/vaultline/vaultline/internal/settlement"
	"github.com/vaultline/vaultline/internal/vault"
)

// TransactionHandler exposes the submission queue and the settlement
// decisions over HTTP.
type TransactionHandler struct {
	engine *settlement.Engine
	store  vault.Store
	logger *zap.Logger
}

// NewTransactionHandler creates a TransactionHandler.
func NewTransactionHandler(engine *settlement.Engine, store vault.Store, logger *zap.Logger) *TransactionHandler {
	return &TransactionHandler{engine: engine, store: store, logger: logger}
}

// Register mounts the transaction routes on the given router group.
func (h *TransactionHandler) Register(rg *gin.RouterGroup) {
	t := rg.Group("/transactions")
	{
		t.POST("", h.Submit)
		t.GET("", h.Queue)
		t.POST("/:id/approve", h.Approve)
		t.POST("/:id/reject", h.Reject)
	}
}

type submitRequest struct {
	Sender   string          `json:"sender" binding:"required"`
	Receiver string          `json:"receiver" binding:"required"`
	Amount   decimal.Decimal `json:"amount"`
	Mode     ledger.Mode     `json:"mode"`
}

// Submit handles POST /transactions. It queues a new pending transaction,
// sealing the amount when Standard mode is requested.
func (h *TransactionHandler) Submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tx, err := h.engine.Submit(c.Request.Context(), settlement.SubmitRequest{
		Sender:   req.Sender,
		Receiver: req.Receiver,
		Amount:   req.Amount,
		Mode:     req.Mode,
	})
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tx)
}

// Queue handles GET /transactions, listing the pending queue. Runs a sweep
// first so already-eligible Fast items never show up as pending.
func (h *TransactionHandler) Queue(c *gin.Context) {
	ctx := c.Request.Context()
	if _, err := h.engine.Sweep(ctx); err != nil {
		h.logger.Error("pre-read sweep failed", zap.Error(err))
	}

	var queue []vault.PendingTransaction
	err := h.store.View(ctx, func(s *vault.State) error {
		queue = append(queue, s.Queue...)
		return nil
	})
	if err != nil {
		h.logger.Error("queue read failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read queue"})
		return
	}

	SetQueueDepth(len(queue))
	if queue == nil {
		queue = []vault.PendingTransaction{}
	}
	c.JSON(http.StatusOK, queue)
}

type approveRequest struct {
	ApproverID string `json:"approver_id" binding:"required"`

	// FinalAmount is optional; omitted means settle at the original amount.
	FinalAmount *decimal.Decimal `json:"final_amount"`
}

// Approve handles POST /transactions/:id/approve.
func (h *TransactionHandler) Approve(c *gin.Context) {
	var req approveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := h.engine.Approve(c.Request.Context(), settlement.ApproveRequest{
		ID:          c.Param("id"),
		ApproverID:  req.ApproverID,
		FinalAmount: req.FinalAmount,
	})
	if err != nil {
		h.renderError(c, err)
		return
	}

	RecordManualSettlement()
	c.JSON(http.StatusOK, rec)
}

// Reject handles POST /transactions/:id/reject.
func (h *TransactionHandler) Reject(c *gin.Context) {
	if err := h.engine.Reject(c.Request.Context(), c.Param("id")); err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rejected": true})
}

// renderError maps the settlement error taxonomy onto HTTP responses.
// Every failure is a terminal outcome with a human-readable reason; nothing
// here is retried server-side.
func (h *TransactionHandler) renderError(c *gin.Context, err error) {
	var (
		integrityErr *settlement.IntegrityError
		fundsErr     *settlement.InsufficientFundsError
		accountErr   *settlement.AccountError
	)
	switch {
	case errors.As(err, &integrityErr):
		RecordIntegrityFailure()
		c.JSON(http.StatusConflict, gin.H{
			"error":          integrityErr.Error(),
			"security_alert": true,
		})
	case errors.As(err, &fundsErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": fundsErr.Error()})
	case errors.As(err, &accountErr):
		c.JSON(http.StatusNotFound, gin.H{"error": accountErr.Error()})
	case errors.Is(err, settlement.ErrNotQueued):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, settlement.ErrInvalidAmount),
		errors.Is(err, settlement.ErrSelfTransfer),
		errors.Is(err, settlement.ErrInvalidMode):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.Error("settlement request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
