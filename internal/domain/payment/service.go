package payment

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"carpool/internal/database"
	"carpool/internal/domain/notification"
	"carpool/internal/domain/trip"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	defaultTTL      = 15 * time.Minute
	reasonNoSeats   = "no seats available"
	reasonTripState = "trip is no longer awaiting payment"
	reasonExpired   = "checkout expired"
	reasonDuplicate = "duplicate payment"
)

var errAlreadyResolved = errors.New("payment already resolved")

type Checkout struct {
	PaymentID  int64     `json:"paymentId"`
	PaymentURL string    `json:"paymentUrl"`
	TxnRef     string    `json:"txnRef"`
	Amount     int64     `json:"amount"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// CallbackResult is the outcome of reconciling one gateway callback.
type CallbackResult struct {
	PaymentID    int64
	TripID       int64
	Status       Status
	Changed      bool
	ResponseCode string
}

type Service struct {
	repo     *Repository
	trips    TripGateway
	notifier Notifier
	gateway  *Gateway
	ttl      time.Duration
	loggerf  func(format string, args ...interface{})
	now      func() time.Time
}

func NewService(repo *Repository, trips TripGateway, notifier Notifier, gateway *Gateway, ttl time.Duration, loggerf func(format string, args ...interface{})) *Service {
	if loggerf == nil {
		loggerf = func(string, ...interface{}) {}
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Service{
		repo:     repo,
		trips:    trips,
		notifier: notifier,
		gateway:  gateway,
		ttl:      ttl,
		loggerf:  loggerf,
		now:      time.Now,
	}
}

// CreateCheckout opens a pending payment for the caller's seat on a confirmed trip
// and returns the gateway redirect URL.
func (s *Service) CreateCheckout(ctx context.Context, userID, tripID int64, clientIP string) (*Checkout, error) {
	if tripID <= 0 {
		return nil, fmt.Errorf("%w: tripId is required", ErrValidation)
	}
	t, err := s.trips.FindTrip(ctx, tripID)
	if err != nil {
		if errors.Is(err, trip.ErrNotFound) {
			return nil, ErrTripNotFound
		}
		return nil, err
	}
	if t.Status != trip.StatusConfirmed {
		return nil, fmt.Errorf("%w: trip is %s", ErrInvalidState, t.Status)
	}
	if t.IsDriver(userID) {
		return nil, fmt.Errorf("%w: driver cannot pay for own trip", ErrForbidden)
	}
	if t.Price <= 0 {
		return nil, fmt.Errorf("%w: trip has no agreed price", ErrInvalidState)
	}

	now := s.now()
	open, err := s.repo.ListOpen(ctx, userID, tripID)
	if err != nil {
		return nil, err
	}
	for _, p := range open {
		if p.Status == StatusCompleted || !p.Expired(now) {
			return nil, ErrPaymentExists
		}
	}

	free, err := s.trips.SeatsLeft(ctx, tripID, userID)
	if err != nil {
		return nil, err
	}
	if free <= 0 {
		return nil, ErrNoSeats
	}

	p := &Payment{
		TripID:    tripID,
		UserID:    userID,
		Amount:    t.Price,
		Currency:  t.Currency,
		TxnRef:    strings.ReplaceAll(uuid.NewString(), "-", ""),
		Status:    StatusPending,
		OrderInfo: fmt.Sprintf("Thanh toan chuyen di %d", tripID),
		ExpiresAt: now.Add(s.ttl),
	}
	p.PaymentURL = s.gateway.CheckoutURL(p, clientIP, now)
	if err := s.repo.Create(ctx, p); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: duplicate transaction reference", ErrConflict)
		}
		return nil, err
	}

	s.loggerf("level=info msg=payment checkout created payment_id=%d trip_id=%d user_id=%d amount=%d txn_ref=%s", p.ID, tripID, userID, p.Amount, p.TxnRef)
	return &Checkout{
		PaymentID:  p.ID,
		PaymentURL: p.PaymentURL,
		TxnRef:     p.TxnRef,
		Amount:     p.Amount,
		ExpiresAt:  p.ExpiresAt,
	}, nil
}

// HandleCallback reconciles a return or IPN callback. Integrity failures never mutate
// state; a callback for an already resolved payment returns its outcome unchanged.
func (s *Service) HandleCallback(ctx context.Context, q url.Values) (*CallbackResult, error) {
	ref := q.Get("vnp_TxnRef")
	if !s.gateway.Verify(q) {
		s.loggerf("level=warn msg=vnpay callback signature invalid txn_ref=%s", ref)
		return nil, ErrInvalidSignature
	}

	p, err := s.repo.FindByTxnRef(ctx, ref)
	if err != nil {
		return nil, err
	}

	paid, err := strconv.ParseInt(q.Get("vnp_Amount"), 10, 64)
	if err != nil || paid%100 != 0 || paid/100 != p.Amount {
		s.loggerf("level=warn msg=vnpay callback amount mismatch payment_id=%d callback_amount=%s expected=%d", p.ID, q.Get("vnp_Amount"), p.Amount*100)
		return nil, ErrAmountMismatch
	}

	if p.Terminal() {
		s.loggerf("level=info msg=idempotent callback payment already resolved payment_id=%d status=%s", p.ID, p.Status)
		return resultOf(p, false), nil
	}

	meta := gatewayMeta{
		TransactionNo: q.Get("vnp_TransactionNo"),
		BankCode:      q.Get("vnp_BankCode"),
		CardType:      q.Get("vnp_CardType"),
		ResponseCode:  q.Get("vnp_ResponseCode"),
		PayDate:       q.Get("vnp_PayDate"),
		Raw:           q.Encode(),
	}

	if succeeded(q) {
		return s.complete(ctx, p, meta)
	}
	return s.fail(ctx, p, meta, failureReason(meta.ResponseCode))
}

func (s *Service) complete(ctx context.Context, p *Payment, meta gatewayMeta) (*CallbackResult, error) {
	var t *trip.Trip
	err := s.repo.Transaction(ctx, func(tx *Repository, db *gorm.DB) error {
		ok, err := tx.MarkCompleted(ctx, p.ID, meta, s.now())
		if err != nil {
			return err
		}
		if !ok {
			return errAlreadyResolved
		}
		t, err = s.trips.ApplyPaymentTx(ctx, db, p.TripID, p.UserID, p.ID)
		return err
	})

	switch {
	case err == nil:
	case errors.Is(err, errAlreadyResolved):
		return s.current(ctx, p.ID)
	case errors.Is(err, trip.ErrNoSeats):
		return s.fail(ctx, p, meta, reasonNoSeats)
	case errors.Is(err, trip.ErrAlreadyPaid):
		s.loggerf("level=warn msg=duplicate payment for settled seat payment_id=%d trip_id=%d user_id=%d", p.ID, p.TripID, p.UserID)
		return s.fail(ctx, p, meta, reasonDuplicate)
	case errors.Is(err, trip.ErrInvalidState), errors.Is(err, trip.ErrConflict), errors.Is(err, trip.ErrNotFound):
		return s.fail(ctx, p, meta, reasonTripState)
	default:
		return nil, err
	}

	s.loggerf("level=info msg=payment completed payment_id=%d trip_id=%d user_id=%d trip_status=%s", p.ID, p.TripID, p.UserID, t.Status)
	s.notify(ctx, p.UserID, notification.KindPaymentCompleted, p.TripID)
	if t.DriverID != nil {
		s.notify(ctx, *t.DriverID, notification.KindTripUpdated, p.TripID)
	}

	p.Status = StatusCompleted
	p.ResponseCode = meta.ResponseCode
	return resultOf(p, true), nil
}

func (s *Service) fail(ctx context.Context, p *Payment, meta gatewayMeta, reason string) (*CallbackResult, error) {
	ok, err := s.repo.MarkFailed(ctx, p.ID, meta, reason)
	if err != nil {
		return nil, err
	}
	if !ok {
		return s.current(ctx, p.ID)
	}

	s.loggerf("level=info msg=payment failed payment_id=%d trip_id=%d response_code=%s reason=%q", p.ID, p.TripID, meta.ResponseCode, reason)
	s.notify(ctx, p.UserID, notification.KindPaymentFailed, p.TripID)

	p.Status = StatusFailed
	p.ResponseCode = meta.ResponseCode
	return resultOf(p, true), nil
}

func (s *Service) current(ctx context.Context, id int64) (*CallbackResult, error) {
	p, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return resultOf(p, false), nil
}

// Cancel abandons the caller's own pending payment.
func (s *Service) Cancel(ctx context.Context, userID, id int64) (*Payment, error) {
	p, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.UserID != userID {
		return nil, ErrForbidden
	}
	if p.Status != StatusPending {
		return nil, fmt.Errorf("%w: payment is %s", ErrConflict, p.Status)
	}
	ok, err := s.repo.MarkCancelled(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}
	s.loggerf("level=info msg=payment cancelled payment_id=%d user_id=%d", id, userID)
	return s.repo.FindByID(ctx, id)
}

// ExpireStale cancels pending payments that expired more than grace ago. Callbacks
// arriving inside the grace window are still honoured.
func (s *Service) ExpireStale(ctx context.Context, grace time.Duration) (int64, error) {
	n, err := s.repo.ExpireStale(ctx, s.now().Add(-grace))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.loggerf("level=info msg=expired stale payments count=%d grace=%s", n, grace)
	}
	return n, nil
}

func (s *Service) Get(ctx context.Context, userID, id int64) (*Payment, error) {
	p, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.UserID != userID {
		return nil, ErrForbidden
	}
	return p, nil
}

func (s *Service) ListMine(ctx context.Context, userID int64) ([]Payment, error) {
	return s.repo.ListByUser(ctx, userID)
}

func (s *Service) notify(ctx context.Context, recipientID int64, kind notification.Kind, tripID int64) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, recipientID, kind, tripID); err != nil {
		s.loggerf("level=warn msg=notification failed recipient_id=%d kind=%s trip_id=%d err=%v", recipientID, kind, tripID, err)
	}
}

func succeeded(q url.Values) bool {
	if q.Get("vnp_ResponseCode") != vnpCodeSuccess {
		return false
	}
	if ts := q.Get("vnp_TransactionStatus"); ts != "" && ts != vnpCodeSuccess {
		return false
	}
	return true
}

func resultOf(p *Payment, changed bool) *CallbackResult {
	return &CallbackResult{
		PaymentID:    p.ID,
		TripID:       p.TripID,
		Status:       p.Status,
		Changed:      changed,
		ResponseCode: p.ResponseCode,
	}
}
