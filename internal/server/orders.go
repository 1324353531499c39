package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	ledgerdomain "github.com/smallbiznis/studiodesk/internal/ledger/domain"
	orderdomain "github.com/smallbiznis/studiodesk/internal/order/domain"
	paymentdomain "github.com/smallbiznis/studiodesk/internal/payment/domain"
	"github.com/smallbiznis/studiodesk/pkg/money"
)

type quoteItemRequest struct {
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	UnitAmount  string `json:"unit_amount"`
}

type createOrderRequest struct {
	CustomerID  string             `json:"customer_id"`
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Items       []quoteItemRequest `json:"items"`
	Total       string             `json:"total"`
	Deposit     string             `json:"deposit"`
}

func (s *Server) CreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	customerID, err := snowflake.ParseString(req.CustomerID)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	total, err := money.ParseMajor(req.Total)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	deposit, err := money.ParseMajor(req.Deposit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	items := make([]orderdomain.QuoteItem, 0, len(req.Items))
	for _, item := range req.Items {
		unitAmount, err := money.ParseMajor(item.UnitAmount)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		items = append(items, orderdomain.QuoteItem{
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitAmount:  unitAmount,
		})
	}

	order, err := s.orderSvc.CreateFromQuote(c.Request.Context(), orderdomain.AcceptedQuote{
		CustomerID:  customerID,
		Title:       req.Title,
		Description: req.Description,
		Items:       items,
		Total:       total,
		Deposit:     deposit,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, order)
}

func (s *Server) GetOrder(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	order, err := s.orderSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) GetAmountOwed(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	category, err := ledgerdomain.ParseCategory(c.Query("category"))
	if err != nil || (category != ledgerdomain.CategoryDeposit && category != ledgerdomain.CategoryBalance) {
		AbortWithError(c, orderdomain.ErrInvalidCategory)
		return
	}

	owed, err := s.orderSvc.AmountOwed(c.Request.Context(), id, category)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order_id":    id.String(),
		"category":    category,
		"amount_owed": owed,
		"formatted":   money.FormatMinor(owed),
	})
}

type createCheckoutRequest struct {
	Flow     string `json:"flow"`
	Category string `json:"category"`
}

func (s *Server) CreateCheckout(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req createCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	flow, err := paymentdomain.ParseFlow(req.Flow)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var category ledgerdomain.Category
	if flow != paymentdomain.FlowMandateSetup {
		category, err = ledgerdomain.ParseCategory(req.Category)
		if err != nil {
			AbortWithError(c, err)
			return
		}
	}

	session, err := s.checkoutSvc.CreateCheckout(c.Request.Context(), id, flow, category)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"session_id": session.ID,
		"url":        session.URL,
	})
}

func (s *Server) DeleteOrder(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.orderSvc.Delete(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.auditSvc.AuditLog(c.Request.Context(), "order.deleted", "order", id.String(), nil); err != nil {
		s.log.Warn("write audit log", zap.Error(err))
	}

	c.Status(http.StatusNoContent)
}

func pathID(c *gin.Context) (snowflake.ID, error) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		return 0, ErrInvalidRequest
	}
	return id, nil
}
