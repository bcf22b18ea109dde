package payment

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"testing"
	"time"

	"carpool/internal/config"
	"carpool/internal/database"
	"carpool/internal/domain/notification"
	"carpool/internal/domain/pricing"
	"carpool/internal/domain/trip"
	"carpool/internal/domain/user"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, recipientID int64, kind notification.Kind, relatedID int64) error {
	args := m.Called(ctx, recipientID, kind, relatedID)
	return args.Error(0)
}

type fixture struct {
	db       *gorm.DB
	svc      *Service
	trips    *trip.Service
	users    *user.Repository
	gateway  *Gateway
	notifier *MockNotifier
	now      time.Time
	seq      int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Connect("file::memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db, &user.User{}, &user.Vehicle{}, &trip.Trip{}, &trip.Bid{}, &trip.Passenger{}, &Payment{}))

	notifier := new(MockNotifier)
	notifier.On("Notify", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	users := user.NewRepository(db)
	engine := pricing.NewEngine(time.FixedZone("ICT", 7*60*60))
	trips := trip.NewService(trip.NewRepository(db), users, engine, notifier, nil, nil)

	gateway := NewGateway(config.VNPayConfig{
		TmnCode:    "TESTTMN",
		HashSecret: "test-hash-secret",
		PayURL:     "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
		ReturnURL:  "http://localhost:8080/api/v1/payments/vnpay/return",
	})
	f := &fixture{db: db, trips: trips, users: users, gateway: gateway, notifier: notifier, now: time.Now()}
	f.svc = NewService(NewRepository(db), trips, notifier, gateway, 15*time.Minute, nil)
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) newUser(t *testing.T, role user.Role) trip.Actor {
	t.Helper()
	f.seq++
	u := &user.User{Name: fmt.Sprintf("u%d", f.seq), Email: fmt.Sprintf("u%d@example.com", f.seq), PasswordHash: "x", Role: role}
	require.NoError(t, f.users.Create(context.Background(), u))
	if role.CanDrive() {
		require.NoError(t, f.users.UpsertVehicle(context.Background(), &user.Vehicle{
			DriverID: u.ID, Type: pricing.VehicleCar, Brand: "Kia", Model: "Morning",
			LicensePlate: fmt.Sprintf("30F-%05d", u.ID), Seats: 4, Color: "red", Year: 2021,
		}))
	}
	return trip.Actor{UserID: u.ID, Role: role}
}

// confirmedTrip creates a trip with seats seats and an accepted 90000 bid.
func (f *fixture) confirmedTrip(t *testing.T, seats int) (*trip.Trip, trip.Actor, trip.Actor) {
	t.Helper()
	ctx := context.Background()
	rider := f.newUser(t, user.RolePassenger)
	driver := f.newUser(t, user.RoleDriver)

	res, err := f.trips.Create(ctx, rider, trip.CreateTripRequest{
		StartLocation:  trip.Location{Lat: 10.7631, Lng: 106.6814},
		EndLocation:    trip.Location{Lat: 10.7951, Lng: 106.7218},
		DepartureTime:  time.Now().Add(48 * time.Hour),
		AvailableSeats: seats,
		MaxPrice:       100000,
	})
	require.NoError(t, err)
	bid, err := f.trips.SubmitBid(ctx, driver, res.Trip.ID, trip.SubmitBidRequest{ProposedPrice: 90000})
	require.NoError(t, err)
	tr, err := f.trips.ResolveBid(ctx, rider, res.Trip.ID, bid.ID, trip.ActionAccept)
	require.NoError(t, err)
	return tr, rider, driver
}

func (f *fixture) callback(ref string, amount int64, code string) url.Values {
	q := url.Values{}
	q.Set("vnp_TmnCode", "TESTTMN")
	q.Set("vnp_TxnRef", ref)
	q.Set("vnp_Amount", strconv.FormatInt(amount*100, 10))
	q.Set("vnp_ResponseCode", code)
	q.Set("vnp_TransactionStatus", code)
	q.Set("vnp_TransactionNo", "14000001")
	q.Set("vnp_BankCode", "NCB")
	q.Set("vnp_CardType", "ATM")
	q.Set("vnp_OrderInfo", "Thanh toan chuyen di")
	q.Set("vnp_PayDate", "20260301120500")
	q.Set("vnp_SecureHash", f.gateway.Sign(q))
	return q
}

func TestGateway_CheckoutURLIsVerifiable(t *testing.T) {
	f := newFixture(t)
	p := &Payment{Amount: 90000, TxnRef: "abc123", OrderInfo: "Thanh toan chuyen di 1", ExpiresAt: time.Date(2026, 3, 1, 5, 15, 0, 0, time.UTC)}

	raw := f.gateway.CheckoutURL(p, "127.0.0.1", time.Date(2026, 3, 1, 5, 0, 0, 0, time.UTC))
	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()

	assert.Equal(t, "9000000", q.Get("vnp_Amount"))
	assert.Equal(t, "20260301120000", q.Get("vnp_CreateDate"))
	assert.Equal(t, "20260301121500", q.Get("vnp_ExpireDate"))
	assert.True(t, f.gateway.Verify(q))

	q.Set("vnp_Amount", "1")
	assert.False(t, f.gateway.Verify(q))
}

func TestCreateCheckout_Rules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr, rider, driver := f.confirmedTrip(t, 2)

	_, err := f.svc.CreateCheckout(ctx, driver.UserID, tr.ID, "127.0.0.1")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.CreateCheckout(ctx, rider.UserID, 98765, "127.0.0.1")
	assert.ErrorIs(t, err, ErrTripNotFound)

	co, err := f.svc.CreateCheckout(ctx, rider.UserID, tr.ID, "127.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, int64(90000), co.Amount)
	assert.Len(t, co.TxnRef, 32)
	assert.Contains(t, co.PaymentURL, "vnp_SecureHash=")
	assert.Equal(t, f.now.Add(15*time.Minute), co.ExpiresAt)

	_, err = f.svc.CreateCheckout(ctx, rider.UserID, tr.ID, "127.0.0.1")
	assert.ErrorIs(t, err, ErrPaymentExists)

	f.now = f.now.Add(16 * time.Minute)
	_, err = f.svc.CreateCheckout(ctx, rider.UserID, tr.ID, "127.0.0.1")
	assert.NoError(t, err)
}

func TestCreateCheckout_RequiresConfirmedTrip(t *testing.T) {
	f := newFixture(t)
	rider := f.newUser(t, user.RolePassenger)
	res, err := f.trips.Create(context.Background(), rider, trip.CreateTripRequest{
		StartLocation: trip.Location{Lat: 10.7631, Lng: 106.6814},
		EndLocation:   trip.Location{Lat: 10.7951, Lng: 106.7218},
		DepartureTime: time.Now().Add(24 * time.Hour),
	})
	require.NoError(t, err)

	_, err = f.svc.CreateCheckout(context.Background(), rider.UserID, res.Trip.ID, "127.0.0.1")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestHandleCallback_SuccessIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr, rider, driver := f.confirmedTrip(t, 1)
	co, err := f.svc.CreateCheckout(ctx, rider.UserID, tr.ID, "127.0.0.1")
	require.NoError(t, err)

	q := f.callback(co.TxnRef, co.Amount, "00")
	first, err := f.svc.HandleCallback(ctx, q)
	require.NoError(t, err)
	assert.True(t, first.Changed)
	assert.Equal(t, StatusCompleted, first.Status)

	paidTrip, err := f.trips.FindTrip(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, trip.StatusPaid, paidTrip.Status)

	second, err := f.svc.HandleCallback(ctx, q)
	require.NoError(t, err)
	assert.False(t, second.Changed)
	assert.Equal(t, StatusCompleted, second.Status)

	again, err := f.trips.FindTrip(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, paidTrip.StatusVersion, again.StatusVersion)

	count, err := f.trips.CountAccepted(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	p, err := f.svc.Get(ctx, rider.UserID, co.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, "14000001", p.GatewayTransactionNo)
	assert.Equal(t, "NCB", p.BankCode)
	assert.NotNil(t, p.CompletedAt)

	f.notifier.AssertCalled(t, "Notify", mock.Anything, rider.UserID, notification.KindPaymentCompleted, tr.ID)
	f.notifier.AssertCalled(t, "Notify", mock.Anything, driver.UserID, notification.KindTripUpdated, tr.ID)
}

func TestHandleCallback_IntegrityFailuresDoNotMutate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr, rider, _ := f.confirmedTrip(t, 1)
	co, err := f.svc.CreateCheckout(ctx, rider.UserID, tr.ID, "127.0.0.1")
	require.NoError(t, err)

	unknown := f.callback("doesnotexist", co.Amount, "00")
	_, err = f.svc.HandleCallback(ctx, unknown)
	assert.ErrorIs(t, err, ErrNotFound)

	forged := f.callback(co.TxnRef, co.Amount, "00")
	forged.Set("vnp_SecureHash", "deadbeef")
	_, err = f.svc.HandleCallback(ctx, forged)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	tampered := f.callback(co.TxnRef, co.Amount, "00")
	tampered.Set("vnp_ResponseCode", "24")
	_, err = f.svc.HandleCallback(ctx, tampered)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	wrongAmount := f.callback(co.TxnRef, co.Amount-1000, "00")
	_, err = f.svc.HandleCallback(ctx, wrongAmount)
	assert.ErrorIs(t, err, ErrAmountMismatch)

	p, err := f.svc.Get(ctx, rider.UserID, co.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, p.Status)
	current, err := f.trips.FindTrip(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, trip.StatusConfirmed, current.Status)
}

func TestHandleCallback_FailureCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr, rider, _ := f.confirmedTrip(t, 1)
	co, err := f.svc.CreateCheckout(ctx, rider.UserID, tr.ID, "127.0.0.1")
	require.NoError(t, err)

	res, err := f.svc.HandleCallback(ctx, f.callback(co.TxnRef, co.Amount, "24"))
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, StatusFailed, res.Status)

	p, err := f.svc.Get(ctx, rider.UserID, co.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, "customer cancelled the transaction", p.FailureReason)

	current, err := f.trips.FindTrip(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, trip.StatusConfirmed, current.Status)

	// a late success for a failed payment changes nothing
	late, err := f.svc.HandleCallback(ctx, f.callback(co.TxnRef, co.Amount, "00"))
	require.NoError(t, err)
	assert.False(t, late.Changed)
	assert.Equal(t, StatusFailed, late.Status)
}

func TestHandleCallback_NoSeatsMarksFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr, rider, _ := f.confirmedTrip(t, 2)
	first := f.newUser(t, user.RolePassenger)
	second := f.newUser(t, user.RolePassenger)

	firstCo, err := f.svc.CreateCheckout(ctx, first.UserID, tr.ID, "127.0.0.1")
	require.NoError(t, err)
	secondCo, err := f.svc.CreateCheckout(ctx, second.UserID, tr.ID, "127.0.0.1")
	require.NoError(t, err)

	res, err := f.svc.HandleCallback(ctx, f.callback(firstCo.TxnRef, firstCo.Amount, "00"))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)

	// the last seat is held for the requester
	res, err = f.svc.HandleCallback(ctx, f.callback(secondCo.TxnRef, secondCo.Amount, "00"))
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)

	p, err := f.svc.Get(ctx, second.UserID, secondCo.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, "no seats available", p.FailureReason)

	riderCo, err := f.svc.CreateCheckout(ctx, rider.UserID, tr.ID, "127.0.0.1")
	require.NoError(t, err)
	res, err = f.svc.HandleCallback(ctx, f.callback(riderCo.TxnRef, riderCo.Amount, "00"))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)

	current, err := f.trips.FindTrip(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, trip.StatusPaid, current.Status)

	count, err := f.trips.CountAccepted(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestCreateCheckout_ReservesRequesterSeat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr, rider, _ := f.confirmedTrip(t, 1)
	stranger := f.newUser(t, user.RolePassenger)

	_, err := f.svc.CreateCheckout(ctx, stranger.UserID, tr.ID, "127.0.0.1")
	assert.ErrorIs(t, err, ErrNoSeats)

	co, err := f.svc.CreateCheckout(ctx, rider.UserID, tr.ID, "127.0.0.1")
	require.NoError(t, err)
	res, err := f.svc.HandleCallback(ctx, f.callback(co.TxnRef, co.Amount, "00"))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)

	current, err := f.trips.FindTrip(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, trip.StatusPaid, current.Status)
}

func TestHandleCallback_SecondPaymentAfterExpiryIsNotCharged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr, rider, _ := f.confirmedTrip(t, 1)

	stale, err := f.svc.CreateCheckout(ctx, rider.UserID, tr.ID, "127.0.0.1")
	require.NoError(t, err)
	f.now = f.now.Add(20 * time.Minute)
	fresh, err := f.svc.CreateCheckout(ctx, rider.UserID, tr.ID, "127.0.0.1")
	require.NoError(t, err)

	res, err := f.svc.HandleCallback(ctx, f.callback(fresh.TxnRef, fresh.Amount, "00"))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)

	res, err = f.svc.HandleCallback(ctx, f.callback(stale.TxnRef, stale.Amount, "00"))
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)

	p, err := f.svc.Get(ctx, rider.UserID, stale.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, "duplicate payment", p.FailureReason)

	list, err := f.svc.ListMine(ctx, rider.UserID)
	require.NoError(t, err)
	completed := 0
	for _, p := range list {
		if p.Status == StatusCompleted {
			completed++
		}
	}
	assert.Equal(t, 1, completed)

	var entry trip.Passenger
	require.NoError(t, f.db.Where("trip_id = ? AND user_id = ?", tr.ID, rider.UserID).First(&entry).Error)
	require.NotNil(t, entry.PaymentID)
	assert.Equal(t, fresh.PaymentID, *entry.PaymentID)
}

func TestHandleCallback_ExpiredPendingStillHonoured(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr, rider, _ := f.confirmedTrip(t, 1)
	co, err := f.svc.CreateCheckout(ctx, rider.UserID, tr.ID, "127.0.0.1")
	require.NoError(t, err)

	f.now = f.now.Add(time.Hour)
	res, err := f.svc.HandleCallback(ctx, f.callback(co.TxnRef, co.Amount, "00"))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
}

func TestCancel_Rules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr, rider, driver := f.confirmedTrip(t, 1)
	co, err := f.svc.CreateCheckout(ctx, rider.UserID, tr.ID, "127.0.0.1")
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, driver.UserID, co.PaymentID)
	assert.ErrorIs(t, err, ErrForbidden)

	p, err := f.svc.Cancel(ctx, rider.UserID, co.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, p.Status)

	_, err = f.svc.Cancel(ctx, rider.UserID, co.PaymentID)
	assert.ErrorIs(t, err, ErrConflict)

	// callback after cancel does not resurrect the payment
	res, err := f.svc.HandleCallback(ctx, f.callback(co.TxnRef, co.Amount, "00"))
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, StatusCancelled, res.Status)

	_, err = f.svc.Cancel(ctx, rider.UserID, 424242)
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := f.svc.ListMine(ctx, rider.UserID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestExpireStale_RespectsGrace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr, rider, _ := f.confirmedTrip(t, 1)
	co, err := f.svc.CreateCheckout(ctx, rider.UserID, tr.ID, "127.0.0.1")
	require.NoError(t, err)

	f.now = f.now.Add(30 * time.Minute)
	n, err := f.svc.ExpireStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	f.now = f.now.Add(2 * time.Hour)
	n, err = f.svc.ExpireStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	p, err := f.svc.Get(ctx, rider.UserID, co.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, p.Status)
	assert.Equal(t, "checkout expired", p.FailureReason)
}
