package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	ordersapp "github.com/Apurer/go-commerce-orders/internal/domains/orders/application"
	ordersdomain "github.com/Apurer/go-commerce-orders/internal/domains/orders/domain"
	ordersports "github.com/Apurer/go-commerce-orders/internal/domains/orders/ports"
	outboxports "github.com/Apurer/go-commerce-orders/internal/domains/outbox/ports"
	sharederrors "github.com/Apurer/go-commerce-orders/internal/shared/errors"
)

// Handlers exposes the order API over gin.
type Handlers struct {
	orders          ordersports.Service
	outbox          outboxports.Repository
	responder       *sharederrors.ChainedResponder
	deadLetterLimit int
}

// NewHandlers wires HTTP handlers over the order coordinator and the outbox.
func NewHandlers(orders ordersports.Service, outbox outboxports.Repository, cfg Config) *Handlers {
	return &Handlers{
		orders:          orders,
		outbox:          outbox,
		responder:       sharederrors.NewChainedResponder(cfg.ProblemBaseURI, mapOrderError),
		deadLetterLimit: cfg.DeadLetterLimit,
	}
}

// Register mounts the v1 routes.
func (h *Handlers) Register(router gin.IRouter) {
	v1 := router.Group("/v1")
	v1.POST("/orders", h.placeOrder)
	v1.GET("/orders/:id", h.getOrder)
	v1.GET("/dead-letters", h.listDeadLetters)
}

type cartLineRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	VendorID  string `json:"vendor_id" binding:"required"`
	Quantity  int32  `json:"quantity" binding:"required"`
	UnitPrice int64  `json:"unit_price" binding:"required"`
}

type placeOrderRequest struct {
	CustomerID string            `json:"customer_id" binding:"required"`
	Lines      []cartLineRequest `json:"lines" binding:"required"`
}

type orderResponse struct {
	ID          string `json:"id"`
	CustomerID  string `json:"customer_id"`
	Status      string `json:"status"`
	TotalAmount int64  `json:"total_amount"`
	CreatedAt   string `json:"created_at"`
}

func (h *Handlers) placeOrder(c *gin.Context) {
	var req placeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.responder.BadRequest(c, err.Error())
		return
	}
	customerID, err := uuid.Parse(req.CustomerID)
	if err != nil {
		h.responder.ValidationFailed(c, map[string]string{"customer_id": "must be a UUID"})
		return
	}
	lines := make([]ordersdomain.CartLine, 0, len(req.Lines))
	for i, line := range req.Lines {
		productID, err := uuid.Parse(line.ProductID)
		if err != nil {
			h.responder.ValidationFailed(c, map[string]string{"lines[" + strconv.Itoa(i) + "].product_id": "must be a UUID"})
			return
		}
		vendorID, err := uuid.Parse(line.VendorID)
		if err != nil {
			h.responder.ValidationFailed(c, map[string]string{"lines[" + strconv.Itoa(i) + "].vendor_id": "must be a UUID"})
			return
		}
		lines = append(lines, ordersdomain.CartLine{
			ProductID: productID,
			VendorID:  vendorID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		})
	}

	order, err := h.orders.PlaceOrder(c.Request.Context(), customerID, lines)
	if err != nil {
		h.responder.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toOrderResponse(order))
}

func (h *Handlers) getOrder(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.responder.ValidationFailed(c, map[string]string{"id": "must be a UUID"})
		return
	}
	order, err := h.orders.GetOrder(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ordersports.ErrNotFound) {
			h.responder.NotFound(c, "order", id.String())
			return
		}
		h.responder.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(order))
}

type deadLetterResponse struct {
	EventID   string `json:"event_id"`
	Kind      string `json:"kind"`
	OrderID   string `json:"order_id"`
	VendorID  string `json:"vendor_id,omitempty"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error,omitempty"`
	CreatedAt string `json:"created_at"`
}

// listDeadLetters surfaces terminally failed events for operator inspection.
func (h *Handlers) listDeadLetters(c *gin.Context) {
	limit := h.deadLetterLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.responder.ValidationFailed(c, map[string]string{"limit": "must be a positive integer"})
			return
		}
		if parsed < limit {
			limit = parsed
		}
	}
	events, err := h.outbox.ListDead(c.Request.Context(), limit)
	if err != nil {
		h.responder.RespondError(c, err)
		return
	}
	out := make([]deadLetterResponse, 0, len(events))
	for _, event := range events {
		item := deadLetterResponse{
			EventID:   event.ID.String(),
			Kind:      string(event.Kind),
			OrderID:   event.OrderID.String(),
			Attempts:  event.Attempts,
			LastError: event.LastError,
			CreatedAt: event.CreatedAt.UTC().Format(timeLayout),
		}
		if event.VendorID != uuid.Nil {
			item.VendorID = event.VendorID.String()
		}
		out = append(out, item)
	}
	c.JSON(http.StatusOK, gin.H{"dead_letters": out})
}

const timeLayout = "2006-01-02T15:04:05.999999999Z07:00"

func toOrderResponse(order *ordersdomain.Order) orderResponse {
	return orderResponse{
		ID:          order.ID.String(),
		CustomerID:  order.CustomerID.String(),
		Status:      string(order.Status),
		TotalAmount: order.TotalAmount,
		CreatedAt:   order.CreatedAt.UTC().Format(timeLayout),
	}
}

// mapOrderError translates coordinator errors into problem responses.
func mapOrderError(err error) (sharederrors.ProblemDetail, bool) {
	switch {
	case errors.Is(err, ordersports.ErrOutOfStock):
		return sharederrors.ErrOutOfStock.WithDetail(err.Error()), true
	case errors.Is(err, ordersports.ErrTransactionConflict):
		return sharederrors.ErrBusy.WithDetail("order commit kept conflicting, retry shortly"), true
	case errors.Is(err, ordersapp.ErrInvalidInput):
		return sharederrors.ErrValidation.WithDetail(err.Error()), true
	case errors.Is(err, ordersports.ErrNotFound):
		return sharederrors.ErrNotFound.WithDetail(err.Error()), true
	}
	return sharederrors.ProblemDetail{}, false
}
