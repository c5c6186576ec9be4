package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"loci/application/services/ledger"
	"loci/domain/core/entities"
	pkgerrors "loci/pkg/errors"
)

// LedgerHandler serves the shard ledger. Debits and summaries act on the
// caller's own account.
type LedgerHandler struct {
	responder
	ledger *ledger.Service
}

// NewLedgerHandler creates a new ledger handler
func NewLedgerHandler(ledgerService *ledger.Service, errHandler *pkgerrors.ErrorHandler, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{
		responder: newResponder(errHandler, logger),
		ledger:    ledgerService,
	}
}

// DebitRequest debits either a fixed amount or the priced cost of a model
// call described by usage.
type DebitRequest struct {
	Amount float64                 `json:"amount"`
	Reason string                  `json:"reason" validate:"max=500"`
	Usage  *entities.UsageMetadata `json:"usage"`
}

// Debit handles POST /shards/debit
func (h *LedgerHandler) Debit(w http.ResponseWriter, r *http.Request) {
	p := principalOf(r.Context())
	if err := p.RequireUser(); err != nil {
		h.respondError(w, r, err)
		return
	}
	var req DebitRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	if req.Usage != nil && req.Amount == 0 {
		result, err := h.ledger.ChargeUsage(r.Context(), p.UserID, *req.Usage)
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		h.respondJSON(w, http.StatusOK, result)
		return
	}

	result, err := h.ledger.DebitShards(r.Context(), p.UserID, req.Amount, ledger.DebitOptions{
		Reason: req.Reason,
		Usage:  req.Usage,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, result)
}

// CreditRequest adds purchased shards to the named user.
type CreditRequest struct {
	UserID string  `json:"userId" validate:"required"`
	Amount float64 `json:"amount"`
	Reason string  `json:"reason" validate:"max=500"`
}

// Credit handles POST /admin/shards/credit. The router restricts it to
// administrators; purchases are recorded on the buyer's account.
func (h *LedgerHandler) Credit(w http.ResponseWriter, r *http.Request) {
	var req CreditRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.logger.Info("Crediting shards",
		zap.String("admin", principalOf(r.Context()).UserID),
		zap.String("userID", req.UserID),
		zap.Float64("amount", req.Amount),
	)
	result, err := h.ledger.CreditShards(r.Context(), req.UserID, req.Amount, req.Reason)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, result)
}

// Summary handles GET /shards/summary
func (h *LedgerHandler) Summary(w http.ResponseWriter, r *http.Request) {
	p := principalOf(r.Context())
	if err := p.RequireUser(); err != nil {
		h.respondError(w, r, err)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.respondError(w, r, pkgerrors.NewValidationError("limit must be an integer"))
			return
		}
		limit = n
	}
	summary, err := h.ledger.ShardSummary(r.Context(), p.UserID, limit)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, summary)
}
