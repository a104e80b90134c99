package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"storefront/internal/cart"
	"storefront/internal/models"
	"storefront/internal/service"
	"storefront/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	cartService    *cart.Service
	orderService   *service.OrderService
	paymentService *service.PaymentService
}

// NewHandler creates a new HTTP handler
func NewHandler(cartService *cart.Service, orderService *service.OrderService, paymentService *service.PaymentService) *Handler {
	return &Handler{
		cartService:    cartService,
		orderService:   orderService,
		paymentService: paymentService,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/users/:userId/cart", h.getCart)
		v1.POST("/users/:userId/cart/items", h.addCartItem)
		v1.PUT("/users/:userId/cart/items/:productId", h.updateCartItem)
		v1.DELETE("/users/:userId/cart/items/:productId", h.removeCartItem)
		v1.DELETE("/users/:userId/cart", h.clearCart)

		v1.POST("/orders", h.placeOrder)
		v1.GET("/orders/:id", h.getOrder)
		v1.GET("/orders/number/:number", h.getOrderByNumber)
		v1.GET("/users/:userId/orders", h.listOrders)
		v1.PUT("/orders/:id/status", h.updateOrderStatus)
		v1.POST("/orders/:id/cancel", h.cancelOrder)

		v1.POST("/payments/create-intent", h.createPaymentIntent)
		v1.POST("/payments/webhook", h.paymentWebhook)
	}
}

func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func pathInt64(c *gin.Context, name string) (int64, bool) {
	v, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return v, true
}

// writeError maps the error taxonomy onto HTTP status codes. Business-rule
// violations are client errors; internal inconsistencies are server errors.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrEmptyCart), errors.Is(err, models.ErrCartItemNotFound):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case models.IsInsufficientStock(err):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrInternalInconsistency):
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (h *Handler) getCart(c *gin.Context) {
	userID, ok := pathInt64(c, "userId")
	if !ok {
		return
	}

	userCart, err := h.cartService.Get(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, userCart)
}

type addCartItemRequest struct {
	ProductID int64 `json:"product_id" binding:"required"`
	Quantity  int   `json:"quantity" binding:"required,min=1"`
}

func (h *Handler) addCartItem(c *gin.Context) {
	userID, ok := pathInt64(c, "userId")
	if !ok {
		return
	}

	var req addCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	userCart, err := h.cartService.AddItem(c.Request.Context(), userID, req.ProductID, req.Quantity)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, userCart)
}

type updateCartItemRequest struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) updateCartItem(c *gin.Context) {
	userID, ok := pathInt64(c, "userId")
	if !ok {
		return
	}
	productID, ok := pathInt64(c, "productId")
	if !ok {
		return
	}

	var req updateCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	userCart, err := h.cartService.UpdateItemQuantity(c.Request.Context(), userID, productID, req.Quantity)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, userCart)
}

func (h *Handler) removeCartItem(c *gin.Context) {
	userID, ok := pathInt64(c, "userId")
	if !ok {
		return
	}
	productID, ok := pathInt64(c, "productId")
	if !ok {
		return
	}

	userCart, err := h.cartService.RemoveItem(c.Request.Context(), userID, productID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, userCart)
}

func (h *Handler) clearCart(c *gin.Context) {
	userID, ok := pathInt64(c, "userId")
	if !ok {
		return
	}

	if err := h.cartService.Clear(c.Request.Context(), userID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type placeOrderRequest struct {
	UserID          int64                  `json:"user_id" binding:"required"`
	ShippingAddress models.ShippingAddress `json:"shipping_address" binding:"required"`
}

func (h *Handler) placeOrder(c *gin.Context) {
	var req placeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	order, err := h.orderService.PlaceOrder(c.Request.Context(), req.UserID, req.ShippingAddress)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := pathInt64(c, "id")
	if !ok {
		return
	}

	order, err := h.orderService.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) getOrderByNumber(c *gin.Context) {
	order, err := h.orderService.GetOrderByNumber(c.Request.Context(), c.Param("number"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) listOrders(c *gin.Context) {
	userID, ok := pathInt64(c, "userId")
	if !ok {
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "0"))

	orders, err := h.orderService.ListOrders(c.Request.Context(), userID, page)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders, "page": page})
}

type updateStatusRequest struct {
	Status models.OrderStatus `json:"status" binding:"required"`
}

func (h *Handler) updateOrderStatus(c *gin.Context) {
	orderID, ok := pathInt64(c, "id")
	if !ok {
		return
	}

	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	order, err := h.orderService.UpdateStatus(c.Request.Context(), orderID, req.Status)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) cancelOrder(c *gin.Context) {
	orderID, ok := pathInt64(c, "id")
	if !ok {
		return
	}

	var req cancelOrderRequest
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "customer_request"
	}

	order, err := h.orderService.Cancel(c.Request.Context(), orderID, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

type createIntentRequest struct {
	OrderID int64 `json:"order_id" binding:"required"`
}

func (h *Handler) createPaymentIntent(c *gin.Context) {
	var req createIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	intent, err := h.paymentService.RequestPayment(c.Request.Context(), req.OrderID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"payment_intent_id": intent.ID,
		"client_secret":     intent.ClientSecret,
		"amount":            intent.Amount,
	})
}

type webhookRequest struct {
	PaymentIntentID string `json:"payment_intent_id" binding:"required"`
	Succeeded       bool   `json:"succeeded"`
}

func (h *Handler) paymentWebhook(c *gin.Context) {
	var req webhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	order, err := h.paymentService.HandlePaymentResult(c.Request.Context(), req.PaymentIntentID, req.Succeeded)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order_id":       order.ID,
		"status":         order.Status,
		"payment_status": order.PaymentStatus,
	})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
