package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/smallbiznis/studiodesk/pkg/money"
)

// Stripe events with expanded lists can run well past 64 KiB; the
// documented maximum payload is under 1 MiB.
const maxWebhookBody = 1 << 20

func (s *Server) HandleWebhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	signature := c.GetHeader("Stripe-Signature")
	if err := s.webhookSvc.HandleEvent(c.Request.Context(), payload, signature); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

type refundRequest struct {
	Amount string `json:"amount"`
}

func (s *Server) CreateRefund(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	// An empty body is a full refund.
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	// Empty amount refunds the whole entry.
	var amount int64
	if req.Amount != "" {
		amount, err = money.ParseMajor(req.Amount)
		if err != nil {
			AbortWithError(c, err)
			return
		}
	}

	entry, err := s.refundSvc.Refund(c.Request.Context(), id, amount)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, entry)
}

type runBillingRequest struct {
	Amount      string `json:"amount"`
	Description string `json:"description"`
}

func (s *Server) RunBilling(c *gin.Context) {
	// An empty body falls back to the configured billing defaults.
	var req runBillingRequest
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var amount int64
	if req.Amount != "" {
		var err error
		amount, err = money.ParseMajor(req.Amount)
		if err != nil {
			AbortWithError(c, err)
			return
		}
	}

	report, err := s.recurringSvc.BillAll(c.Request.Context(), amount, req.Description)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, report)
}
