package trip

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"carpool/internal/domain/user"
	"carpool/internal/middleware"
	"carpool/internal/pkg/jwt"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Code    string `json:"code"`
		Message string            `json:"message"`
		Details map[string]string `json:"details"`
	} `json:"error"`
}

func setupRouter(t *testing.T) (*gin.Engine, *fixture, *jwt.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := newFixture(t)
	jwtSvc := jwt.New("handler-secret", time.Hour)

	r := gin.New()
	api := r.Group("/api/v1", middleware.JWTAuth(jwtSvc))
	NewHandler(f.svc).RegisterRoutes(api)
	return r, f, jwtSvc
}

func doJSON(t *testing.T, r *gin.Engine, method, path, token string, body interface{}) (*httptest.ResponseRecorder, apiEnvelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env apiEnvelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w, env
}

func tokenFor(t *testing.T, j *jwt.Service, a Actor) string {
	t.Helper()
	tok, err := j.GenerateToken(a.UserID, string(a.Role))
	require.NoError(t, err)
	return tok
}

func TestHandler_CreateAndBidFlow(t *testing.T) {
	r, f, j := setupRouter(t)
	rider := f.newUser(t, user.RolePassenger)
	driver := f.newUser(t, user.RoleDriver)

	w, env := doJSON(t, r, http.MethodPost, "/api/v1/trips", tokenFor(t, j, rider), scenarioRequest(100000))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created CreateResult
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, int64(69000), created.Pricing.Price)

	path := fmt.Sprintf("/api/v1/trips/%d/driver-request", created.Trip.ID)
	w, env = doJSON(t, r, http.MethodPost, path, tokenFor(t, j, driver), SubmitBidRequest{ProposedPrice: 150000})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)

	w, env = doJSON(t, r, http.MethodPost, path, tokenFor(t, j, driver), SubmitBidRequest{ProposedPrice: 90000})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var bidResp struct {
		DriverRequest Bid `json:"driverRequest"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &bidResp))

	w, _ = doJSON(t, r, http.MethodPost, path, tokenFor(t, j, driver), SubmitBidRequest{ProposedPrice: 80000})
	assert.Equal(t, http.StatusConflict, w.Code)

	resolvePath := fmt.Sprintf("/api/v1/trips/%d/driver-requests/%d", created.Trip.ID, bidResp.DriverRequest.ID)
	w, env = doJSON(t, r, http.MethodPatch, resolvePath, tokenFor(t, j, driver), ResolveBidRequest{Action: "accept"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "FORBIDDEN", env.Error.Code)

	w, _ = doJSON(t, r, http.MethodPatch, resolvePath, tokenFor(t, j, rider), ResolveBidRequest{Action: "accept"})
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = doJSON(t, r, http.MethodPatch, resolvePath, tokenFor(t, j, rider), ResolveBidRequest{Action: "accept"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHandler_EstimatePrice(t *testing.T) {
	r, f, j := setupRouter(t)
	rider := f.newUser(t, user.RolePassenger)
	dep := time.Date(2026, 3, 2, 8, 0, 0, 0, ict)

	w, env := doJSON(t, r, http.MethodPost, "/api/v1/trips/estimate-price", tokenFor(t, j, rider), EstimateRequest{
		StartLocation: Location{Lat: 10.7631, Lng: 106.6814},
		EndLocation:   Location{Lat: 10.7951, Lng: 106.7218},
		VehicleType:   "car",
		DepartureTime: &dep,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"price":69000`)
	assert.Contains(t, string(env.Data), `"distanceKm":5.7`)
}

func TestHandler_Errors(t *testing.T) {
	r, f, j := setupRouter(t)
	rider := f.newUser(t, user.RolePassenger)

	w, _ := doJSON(t, r, http.MethodGet, "/api/v1/trips", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, env := doJSON(t, r, http.MethodGet, "/api/v1/trips/424242", tokenFor(t, j, rider), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)

	w, _ = doJSON(t, r, http.MethodGet, "/api/v1/trips/abc", tokenFor(t, j, rider), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = doJSON(t, r, http.MethodGet, "/api/v1/trips/available?lat=x", tokenFor(t, j, rider), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = doJSON(t, r, http.MethodPatch, "/api/v1/trips/1/status", tokenFor(t, j, rider), map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_DriverRequestRequiresDriverRole(t *testing.T) {
	r, f, j := setupRouter(t)
	rider := f.newUser(t, user.RolePassenger)
	other := f.newUser(t, user.RolePassenger)
	tr := f.createTrip(t, rider, 100000)

	path := fmt.Sprintf("/api/v1/trips/%d/driver-request", tr.ID)
	w, env := doJSON(t, r, http.MethodPost, path, tokenFor(t, j, other), SubmitBidRequest{ProposedPrice: 90000})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "FORBIDDEN", env.Error.Code)

	bids, err := f.svc.repo.ListBids(context.Background(), tr.ID)
	require.NoError(t, err)
	assert.Empty(t, bids)
}

func TestHandler_CancelReason(t *testing.T) {
	r, f, j := setupRouter(t)
	rider := f.newUser(t, user.RolePassenger)
	tr := f.createTrip(t, rider, 100000)
	path := fmt.Sprintf("/api/v1/trips/%d/cancel", tr.ID)
	tok := tokenFor(t, j, rider)

	w, env := doJSON(t, r, http.MethodPatch, path, tok, CancelRequest{Reason: strings.Repeat("x", 501)})
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
	assert.Equal(t, "max", env.Error.Details["CancelRequest.Reason"])

	req := httptest.NewRequest(http.MethodPatch, path, strings.NewReader(`{"reason":`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	got, err := f.svc.Get(context.Background(), rider, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPendingDriver, got.Trip.Status)

	w, _ = doJSON(t, r, http.MethodPatch, path, tok, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestHandler_ValidationDetails(t *testing.T) {
	r, f, j := setupRouter(t)
	rider := f.newUser(t, user.RolePassenger)

	req := scenarioRequest(100000)
	req.AvailableSeats = 9
	w, env := doJSON(t, r, http.MethodPost, "/api/v1/trips", tokenFor(t, j, rider), req)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "lte", env.Error.Details["CreateTripRequest.AvailableSeats"])
}
