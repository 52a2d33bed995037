package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/repairpay/internal/actorcontext"
	orderdomain "github.com/smallbiznis/repairpay/internal/order/domain"
)

type createOrderRequest struct {
	TechnicianID    string `json:"technician_id"`
	PaymentMethod   string `json:"payment_method"`
	ReplacementCost int64  `json:"replacement_cost"`
	TotalPrice      int64  `json:"total_price"`
	CreatedAt       string `json:"created_at"`
	CustomerName    string `json:"customer_name"`
	Device          string `json:"device"`
	Description     string `json:"description"`
	HasReceipt      bool   `json:"has_receipt"`
}

type attachReceiptRequest struct {
	PaymentMethod *string `json:"payment_method"`
	ReceiptDate   string  `json:"receipt_date"`
}

type updateCostsRequest struct {
	ReplacementCost int64 `json:"replacement_cost"`
	TotalPrice      int64 `json:"total_price"`
}

type addNoteRequest struct {
	Body string `json:"body"`
}

type listOrdersQuery struct {
	Status string `form:"status"`
	Limit  int    `form:"limit"`
}

func (s *Server) CreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	technicianID, err := snowflake.ParseString(strings.TrimSpace(req.TechnicianID))
	if err != nil || technicianID <= 0 {
		AbortWithError(c, newValidationError("technician_id", "invalid_technician_id", "invalid technician_id"))
		return
	}
	createdAt, err := parseOptionalTime("created_at", req.CreatedAt, anchorNoon)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	order, err := s.orderSvc.CreateOrder(c.Request.Context(), orderdomain.CreateOrderRequest{
		TechnicianID:    technicianID,
		PaymentMethod:   req.PaymentMethod,
		ReplacementCost: req.ReplacementCost,
		TotalPrice:      req.TotalPrice,
		CreatedAt:       createdAt,
		CustomerName:    req.CustomerName,
		Device:          req.Device,
		Description:     req.Description,
		HasReceipt:      req.HasReceipt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": order})
}

func (s *Server) GetOrder(c *gin.Context) {
	order, ok := s.loadOwnOrder(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": order})
}

func (s *Server) AttachReceipt(c *gin.Context) {
	orderID, err := parseSnowflakeParam(c, "orderId")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req attachReceiptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	receiptDate, err := parseOptionalTime("receipt_date", req.ReceiptDate, anchorNoon)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	order, err := s.orderSvc.AttachOrUpdateReceipt(c.Request.Context(), orderdomain.AttachReceiptRequest{
		OrderID:       orderID,
		PaymentMethod: req.PaymentMethod,
		ReceiptDate:   receiptDate,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": order})
}

func (s *Server) RemoveReceipt(c *gin.Context) {
	s.transitionOrder(c, s.orderSvc.RemoveReceipt)
}

func (s *Server) MarkOrderReturned(c *gin.Context) {
	s.transitionOrder(c, s.orderSvc.MarkReturned)
}

func (s *Server) MarkOrderCancelled(c *gin.Context) {
	s.transitionOrder(c, s.orderSvc.MarkCancelled)
}

func (s *Server) transitionOrder(c *gin.Context, fn func(ctx context.Context, id snowflake.ID) (orderdomain.Order, error)) {
	orderID, err := parseSnowflakeParam(c, "orderId")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	order, err := fn(c.Request.Context(), orderID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": order})
}

func (s *Server) UpdateOrderCosts(c *gin.Context) {
	orderID, err := parseSnowflakeParam(c, "orderId")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req updateCostsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	order, err := s.orderSvc.UpdateCosts(c.Request.Context(), orderdomain.UpdateCostsRequest{
		OrderID:         orderID,
		ReplacementCost: req.ReplacementCost,
		TotalPrice:      req.TotalPrice,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": order})
}

func (s *Server) DeleteOrder(c *gin.Context) {
	orderID, err := parseSnowflakeParam(c, "orderId")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.orderSvc.DeleteOrder(c.Request.Context(), orderID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) ListOrders(c *gin.Context) {
	var query listOrdersQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	orders, err := s.orderSvc.ListByTechnician(c.Request.Context(), orderdomain.ListOrdersRequest{
		TechnicianID: technicianIDFromContext(c),
		Status:       strings.TrimSpace(query.Status),
		Limit:        query.Limit,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": orders})
}

func (s *Server) ListPendingOrders(c *gin.Context) {
	orders, err := s.orderSvc.PendingOrders(c.Request.Context(), technicianIDFromContext(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": orders})
}

func (s *Server) AddOrderNote(c *gin.Context) {
	order, ok := s.loadOwnOrder(c)
	if !ok {
		return
	}

	var req addNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	note, err := s.orderSvc.AddNote(c.Request.Context(), order.ID, req.Body)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": note})
}

func (s *Server) ListOrderNotes(c *gin.Context) {
	order, ok := s.loadOwnOrder(c)
	if !ok {
		return
	}

	notes, err := s.orderSvc.ListNotes(c.Request.Context(), order.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": notes})
}

// loadOwnOrder fetches :orderId and hides other technicians' orders from technician callers.
func (s *Server) loadOwnOrder(c *gin.Context) (orderdomain.Order, bool) {
	orderID, err := parseSnowflakeParam(c, "orderId")
	if err != nil {
		AbortWithError(c, err)
		return orderdomain.Order{}, false
	}

	order, err := s.orderSvc.GetByID(c.Request.Context(), orderID)
	if err != nil {
		AbortWithError(c, err)
		return orderdomain.Order{}, false
	}
	if !ownsTechnicianRecord(c, order.TechnicianID) {
		AbortWithError(c, orderdomain.ErrNotFound)
		return orderdomain.Order{}, false
	}
	return order, true
}

func ownsTechnicianRecord(c *gin.Context, technicianID snowflake.ID) bool {
	actor := actorcontext.ActorFromContext(c.Request.Context())
	return actor.Role != actorcontext.RoleTechnician || actor.ID == technicianID.String()
}
