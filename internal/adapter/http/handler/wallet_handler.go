package handler

import (
	"net/http"

	"wallet-ledger/internal/adapter/http/dto"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/apperror"
	"wallet-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// WalletHandler exposes read-only wallet queries on the ops server.
type WalletHandler struct {
	ledger ports.LedgerService
}

// NewWalletHandler creates a new WalletHandler.
func NewWalletHandler(ledger ports.LedgerService) *WalletHandler {
	return &WalletHandler{ledger: ledger}
}

// GetDocumentNumber handles GET /api/v1/wallets/:id/document.
// It goes through the same cache-aside path as the identity lookup event.
func (h *WalletHandler) GetDocumentNumber(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		response.Error(c, apperror.New(apperror.CodeDecode, "Wallet id is required", http.StatusBadRequest))
		return
	}

	doc, err := h.ledger.LookupDocumentNumber(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.DocumentResponse{
		WalletID:       id,
		DocumentNumber: doc,
	})
}
