package trip

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"carpool/internal/domain/user"
	"carpool/internal/middleware"
	"carpool/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	trips := rg.Group("/trips")
	{
		trips.POST("", h.CreateTrip)
		trips.POST("/estimate-price", h.EstimatePrice)
		trips.GET("", h.ListTrips)
		trips.GET("/available", h.ListAvailable)
		trips.GET("/:id", h.GetTrip)
		trips.PUT("/:id", h.UpdateTrip)
		trips.DELETE("/:id", h.DeleteTrip)

		trips.POST("/:id/driver-request", middleware.RequireRole(string(user.RoleDriver), string(user.RoleBoth)), h.SubmitDriverRequest)
		trips.PATCH("/:id/driver-requests/:requestId", h.ResolveDriverRequest)

		trips.PATCH("/:id/status", h.UpdateStatus)
		trips.PATCH("/:id/cancel", h.CancelTrip)
		trips.PATCH("/:id/complete", h.CompleteTrip)
	}
}

func (h *Handler) CreateTrip(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var req CreateTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeValidation, "Invalid request body")
		return
	}

	res, err := h.service.Create(c.Request.Context(), actor, req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, res)
}

func (h *Handler) EstimatePrice(c *gin.Context) {
	var req EstimateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeValidation, "Invalid request body")
		return
	}

	est, err := h.service.Estimate(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, est)
}

func (h *Handler) ListTrips(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	trips, total, err := h.service.List(c.Request.Context(), actor, ListQuery{
		Role:   c.Query("role"),
		Status: Status(c.Query("status")),
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"trips": trips,
		"total": total,
		"page":  page,
		"limit": limit,
	})
}

func (h *Handler) ListAvailable(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil {
		response.Error(c, http.StatusBadRequest, response.CodeValidation, "lat and lng are required")
		return
	}
	radius, _ := strconv.ParseFloat(c.DefaultQuery("radiusKm", "5"), 64)

	trips, err := h.service.ListAvailable(c.Request.Context(), actor, lat, lng, radius)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"trips": trips})
}

func (h *Handler) GetTrip(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	d, err := h.service.Get(c.Request.Context(), actor, id)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, d)
}

func (h *Handler) UpdateTrip(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req UpdateTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeValidation, "Invalid request body")
		return
	}

	t, err := h.service.Update(c.Request.Context(), actor, id, req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"trip": t})
}

func (h *Handler) DeleteTrip(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.service.Delete(c.Request.Context(), actor, id); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

func (h *Handler) SubmitDriverRequest(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req SubmitBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeValidation, "Invalid request body")
		return
	}

	bid, err := h.service.SubmitBid(c.Request.Context(), actor, id, req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"driverRequest": bid})
}

func (h *Handler) ResolveDriverRequest(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	requestID, ok := pathID(c, "requestId")
	if !ok {
		return
	}
	var req ResolveBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeValidation, "Invalid request body")
		return
	}

	t, err := h.service.ResolveBid(c.Request.Context(), actor, id, requestID, req.Action)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"trip": t})
}

func (h *Handler) UpdateStatus(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Status == "" {
		response.Error(c, http.StatusBadRequest, response.CodeValidation, "status is required")
		return
	}

	t, err := h.service.UpdateStatus(c.Request.Context(), actor, id, req.Status)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"trip": t})
}

func (h *Handler) CancelTrip(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	// The body is optional; a cancel without a reason sends none.
	var req CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.Error(c, http.StatusBadRequest, response.CodeValidation, "Invalid request body")
		return
	}

	t, err := h.service.Cancel(c.Request.Context(), actor, id, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"trip": t})
}

func (h *Handler) CompleteTrip(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	t, err := h.service.Complete(c.Request.Context(), actor, id)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"trip": t})
}

func actorFrom(c *gin.Context) (Actor, bool) {
	userID, role, ok := middleware.CurrentUser(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauth, "User not authenticated")
		return Actor{}, false
	}
	return Actor{UserID: userID, Role: user.Role(role)}, true
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		response.Error(c, http.StatusBadRequest, response.CodeValidation, "Invalid "+name)
		return 0, false
	}
	return id, true
}

func writeError(c *gin.Context, err error) {
	var fe *FieldError
	switch {
	case errors.As(err, &fe):
		response.ErrorWithDetails(c, http.StatusBadRequest, response.CodeValidation, "Invalid request", fe.Fields)
	case errors.Is(err, ErrValidation), errors.Is(err, ErrPriceExceedsMax), errors.Is(err, ErrVehicleRequired):
		response.Error(c, http.StatusBadRequest, response.CodeValidation, err.Error())
	case errors.Is(err, ErrForbidden):
		response.Error(c, http.StatusForbidden, response.CodeForbidden, "You are not allowed to perform this action")
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrBidNotFound):
		response.Error(c, http.StatusNotFound, response.CodeNotFound, err.Error())
	case errors.Is(err, ErrConflict), errors.Is(err, ErrInvalidState), errors.Is(err, ErrDuplicateBid), errors.Is(err, ErrNoSeats):
		response.Error(c, http.StatusConflict, response.CodeConflict, err.Error())
	default:
		_ = c.Error(err)
		response.Error(c, http.StatusInternalServerError, response.CodeInternal, "Internal server error")
	}
}
