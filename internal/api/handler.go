package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"ticketing-service/internal/gateway"
	"ticketing-service/internal/service"
	"ticketing-service/internal/store"
	"ticketing-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Reconciler applies a gateway payment outcome to a purchase.
type Reconciler interface {
	Reconcile(ctx context.Context, trackingID, referenceNumber string) error
}

// Handler contains HTTP handlers
type Handler struct {
	purchaseService *service.PurchaseService
	reconciler      Reconciler
	logger          *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(purchaseService *service.PurchaseService, reconciler Reconciler) *Handler {
	return &Handler{
		purchaseService: purchaseService,
		reconciler:      reconciler,
		logger:          util.NamedLogger("api"),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/purchases", h.createPurchase)
		v1.GET("/purchases", h.listPurchases)
		v1.GET("/purchases/:reference", h.getPurchase)
		v1.GET("/purchases/:reference/status", h.getPurchaseStatus)

		// The gateway registers one IPN URL and may call it with either
		// transport shape.
		v1.GET("/payments/ipn", h.handleNotification)
		v1.POST("/payments/ipn", h.handleNotification)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// createPurchase handles purchase creation
func (h *Handler) createPurchase(c *gin.Context) {
	var req service.CreatePurchaseRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	resp, err := h.purchaseService.CreatePurchase(c.Request.Context(), &req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, gateway.ErrRejected) || errors.Is(err, gateway.ErrUnreachable) || errors.Is(err, gateway.ErrAuth) {
			status = http.StatusBadGateway
		}
		c.JSON(status, gin.H{
			"error":   "Failed to create purchase",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// listPurchases handles purchase history lookup by buyer email
func (h *Handler) listPurchases(c *gin.Context) {
	email := c.Query("email")
	if email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email query parameter is required"})
		return
	}

	purchases, err := h.purchaseService.GetPurchasesByEmail(c.Request.Context(), email)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Lookup failed", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"purchases": purchases})
}

// getPurchase handles get purchase by reference number
func (h *Handler) getPurchase(c *gin.Context) {
	purchase, err := h.purchaseService.GetPurchase(c.Request.Context(), c.Param("reference"))
	if err != nil {
		h.renderLookupError(c, err)
		return
	}

	c.JSON(http.StatusOK, purchase)
}

// getPurchaseStatus handles the confirmation page poll
func (h *Handler) getPurchaseStatus(c *gin.Context) {
	reference := c.Param("reference")

	status, err := h.purchaseService.GetStatus(c.Request.Context(), reference)
	if err != nil {
		h.renderLookupError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reference_number": reference,
		"payment_status":   status,
	})
}

func (h *Handler) renderLookupError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Purchase not found"})
	case errors.Is(err, store.ErrAmbiguousReference):
		c.JSON(http.StatusConflict, gin.H{"error": "Ambiguous reference number"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Lookup failed", "details": err.Error()})
	}
}

// notificationPayload carries the three logical IPN fields, from either
// the query string or the JSON body.
type notificationPayload struct {
	OrderTrackingID   string `form:"OrderTrackingId" json:"OrderTrackingId"`
	MerchantReference string `form:"OrderMerchantReference" json:"OrderMerchantReference"`
	NotificationType  string `form:"OrderNotificationType" json:"OrderNotificationType"`
}

// notificationAck echoes the notification back with an internal status
// code. The HTTP status is always 200.
type notificationAck struct {
	OrderNotificationType  string `json:"orderNotificationType"`
	OrderTrackingID        string `json:"orderTrackingId"`
	OrderMerchantReference string `json:"orderMerchantReference"`
	Status                 int    `json:"status"`
}

// handleNotification is the gateway notification ingress. It always
// acknowledges with HTTP 200 no matter what happens internally: a non-200
// response would make the gateway retry and turn a local bug into a
// notification storm.
func (h *Handler) handleNotification(c *gin.Context) {
	util.NotificationsReceivedTotal.WithLabelValues(c.Request.Method).Inc()

	var payload notificationPayload
	var err error
	if c.Request.Method == http.MethodGet {
		err = c.ShouldBindQuery(&payload)
	} else {
		err = c.ShouldBindJSON(&payload)
	}

	ack := notificationAck{
		OrderNotificationType:  payload.NotificationType,
		OrderTrackingID:        payload.OrderTrackingID,
		OrderMerchantReference: payload.MerchantReference,
		Status:                 http.StatusOK,
	}

	if err != nil || payload.OrderTrackingID == "" || payload.MerchantReference == "" {
		h.logger.Warn("Malformed payment notification",
			zap.String("method", c.Request.Method),
			zap.Error(err))
		ack.Status = http.StatusInternalServerError
		c.JSON(http.StatusOK, ack)
		return
	}

	if err := h.reconciler.Reconcile(c.Request.Context(), payload.OrderTrackingID, payload.MerchantReference); err != nil {
		h.logger.Error("Notification reconcile failed",
			zap.String("tracking_id", payload.OrderTrackingID),
			zap.String("reference", payload.MerchantReference),
			zap.Error(err))
		ack.Status = http.StatusInternalServerError
	}

	c.JSON(http.StatusOK, ack)
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
