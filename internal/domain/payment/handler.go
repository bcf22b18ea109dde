package payment

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"carpool/internal/middleware"
	"carpool/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	service     *Service
	frontendURL string
	loggerf     func(format string, args ...interface{})
}

func NewHandler(service *Service, frontendURL string, loggerf func(format string, args ...interface{})) *Handler {
	if loggerf == nil {
		loggerf = func(string, ...interface{}) {}
	}
	return &Handler{service: service, frontendURL: frontendURL, loggerf: loggerf}
}

func (h *Handler) RegisterProtectedRoutes(rg *gin.RouterGroup) {
	rg.POST("/payments/create", h.CreatePayment)
	rg.GET("/payments/my", h.ListMine)
	rg.GET("/payments/:id", h.GetPayment)
	rg.PATCH("/payments/:id/cancel", h.CancelPayment)

	admin := rg.Group("/admin", middleware.AdminOnly())
	admin.POST("/payments/expire", h.ExpireStale)
}

func (h *Handler) RegisterPublicRoutes(rg *gin.RouterGroup) {
	rg.GET("/payments/vnpay/return", h.ReturnCallback)
	rg.GET("/payments/vnpay/ipn", h.IPNCallback)
}

type createPaymentRequest struct {
	TripID int64 `json:"tripId"`
}

func (h *Handler) CreatePayment(c *gin.Context) {
	userID, _, ok := middleware.CurrentUser(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauth, "User not authenticated")
		return
	}
	var req createPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeValidation, "Invalid request body")
		return
	}

	checkout, err := h.service.CreateCheckout(c.Request.Context(), userID, req.TripID, c.ClientIP())
	if err != nil {
		h.loggerf("level=warn msg=payment checkout rejected user_id=%d trip_id=%d err=%v", userID, req.TripID, err)
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, checkout)
}

func (h *Handler) ListMine(c *gin.Context) {
	userID, _, ok := middleware.CurrentUser(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauth, "User not authenticated")
		return
	}
	list, err := h.service.ListMine(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"payments": list})
}

func (h *Handler) GetPayment(c *gin.Context) {
	userID, _, ok := middleware.CurrentUser(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauth, "User not authenticated")
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.Error(c, http.StatusBadRequest, response.CodeValidation, "Invalid payment ID")
		return
	}
	p, err := h.service.Get(c.Request.Context(), userID, id)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"payment": p})
}

func (h *Handler) CancelPayment(c *gin.Context) {
	userID, _, ok := middleware.CurrentUser(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauth, "User not authenticated")
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.Error(c, http.StatusBadRequest, response.CodeValidation, "Invalid payment ID")
		return
	}
	p, err := h.service.Cancel(c.Request.Context(), userID, id)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"payment": p})
}

// ExpireStale runs the stale checkout sweep on demand. The grace query
// parameter defaults to 24h.
func (h *Handler) ExpireStale(c *gin.Context) {
	grace := 24 * time.Hour
	if raw := c.Query("grace"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			response.Error(c, http.StatusBadRequest, response.CodeValidation, "Invalid grace duration")
			return
		}
		grace = d
	}
	n, err := h.service.ExpireStale(c.Request.Context(), grace)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"expired": n})
}

// ReturnCallback handles the customer's browser coming back from VNPay and
// always redirects to the frontend result page.
func (h *Handler) ReturnCallback(c *gin.Context) {
	q := c.Request.URL.Query()
	h.loggerf("level=info msg=vnpay return callback txn_ref=%s response_code=%s", q.Get("vnp_TxnRef"), q.Get("vnp_ResponseCode"))

	res, err := h.service.HandleCallback(c.Request.Context(), q)
	status := "error"
	var tripID int64
	code := q.Get("vnp_ResponseCode")
	switch {
	case err == nil:
		tripID = res.TripID
		if res.Status == StatusCompleted {
			status = "success"
		} else {
			status = "failed"
		}
	case errors.Is(err, ErrInvalidSignature), errors.Is(err, ErrAmountMismatch):
		status = "invalid"
	default:
		h.loggerf("level=error msg=vnpay return callback failed txn_ref=%s err=%v", q.Get("vnp_TxnRef"), err)
	}

	v := url.Values{}
	v.Set("status", status)
	if tripID > 0 {
		v.Set("tripId", strconv.FormatInt(tripID, 10))
	}
	if code != "" {
		v.Set("code", code)
	}
	c.Redirect(http.StatusFound, h.frontendURL+"/payment/result?"+v.Encode())
}

// IPNCallback answers VNPay's server-to-server notification in its own JSON format.
func (h *Handler) IPNCallback(c *gin.Context) {
	q := c.Request.URL.Query()
	h.loggerf("level=info msg=vnpay ipn callback txn_ref=%s response_code=%s", q.Get("vnp_TxnRef"), q.Get("vnp_ResponseCode"))

	res, err := h.service.HandleCallback(c.Request.Context(), q)
	switch {
	case err == nil && !res.Changed:
		c.JSON(http.StatusOK, gin.H{"RspCode": "02", "Message": "Order already confirmed"})
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"RspCode": "00", "Message": "Confirm Success"})
	case errors.Is(err, ErrInvalidSignature):
		c.JSON(http.StatusOK, gin.H{"RspCode": "97", "Message": "Invalid signature"})
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusOK, gin.H{"RspCode": "01", "Message": "Order not found"})
	case errors.Is(err, ErrAmountMismatch):
		c.JSON(http.StatusOK, gin.H{"RspCode": "04", "Message": "Invalid amount"})
	default:
		h.loggerf("level=error msg=vnpay ipn failed txn_ref=%s err=%v", q.Get("vnp_TxnRef"), err)
		c.JSON(http.StatusOK, gin.H{"RspCode": "99", "Message": "Unknown error"})
	}
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		response.Error(c, http.StatusBadRequest, response.CodeValidation, err.Error())
	case errors.Is(err, ErrForbidden):
		response.Error(c, http.StatusForbidden, response.CodeForbidden, "You are not allowed to perform this action")
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrTripNotFound):
		response.Error(c, http.StatusNotFound, response.CodeNotFound, err.Error())
	case errors.Is(err, ErrConflict), errors.Is(err, ErrInvalidState), errors.Is(err, ErrNoSeats), errors.Is(err, ErrPaymentExists):
		response.Error(c, http.StatusConflict, response.CodeConflict, err.Error())
	default:
		_ = c.Error(err)
		response.Error(c, http.StatusInternalServerError, response.CodeInternal, "Internal server error")
	}
}
