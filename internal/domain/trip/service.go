package trip

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"carpool/internal/domain/notification"
	"carpool/internal/domain/pricing"
	"carpool/internal/domain/user"
	"carpool/internal/pkg/validator"
)

const (
	defaultCurrency     = "VND"
	defaultPageLimit    = 20
	maxPageLimit        = 100
	defaultRadiusKm     = 5.0
	maxRadiusKm         = 50.0
	availableScanLimit  = 500
	availableResultSize = 50
)

type Service struct {
	repo     *Repository
	users    UserDirectory
	pricing  *pricing.Engine
	notifier Notifier
	geo      GeoIndex
	loggerf  func(format string, args ...interface{})
	now      func() time.Time
}

func NewService(repo *Repository, users UserDirectory, engine *pricing.Engine, notifier Notifier, geoIndex GeoIndex, loggerf func(format string, args ...interface{})) *Service {
	if loggerf == nil {
		loggerf = func(string, ...interface{}) {}
	}
	return &Service{
		repo:     repo,
		users:    users,
		pricing:  engine,
		notifier: notifier,
		geo:      geoIndex,
		loggerf:  loggerf,
		now:      time.Now,
	}
}

func (s *Service) Create(ctx context.Context, actor Actor, req CreateTripRequest) (*CreateResult, error) {
	u, err := s.users.FindUserByID(ctx, actor.UserID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, ErrForbidden
		}
		return nil, err
	}
	if !u.Role.CanRide() {
		return nil, fmt.Errorf("%w: role %s cannot request trips", ErrForbidden, u.Role)
	}

	if err := validate(req); err != nil {
		return nil, err
	}
	if err := checkRoute(req.StartLocation, req.EndLocation); err != nil {
		return nil, err
	}
	if req.DepartureTime.IsZero() {
		return nil, fmt.Errorf("%w: departureTime is required", ErrValidation)
	}
	if !req.DepartureTime.After(s.now()) {
		return nil, fmt.Errorf("%w: departureTime must be in the future", ErrValidation)
	}
	vt, err := parseVehicleType(req.PreferredVehicleType)
	if err != nil {
		return nil, err
	}

	seats := req.AvailableSeats
	if seats == 0 {
		seats = 1
	}

	est := s.pricing.Estimate(req.StartLocation.Point(), req.EndLocation.Point(), pricing.Vehicle{Type: vt}, req.DepartureTime)
	maxPrice := req.MaxPrice
	if maxPrice == 0 {
		maxPrice = pricing.DefaultMaxPrice(est.Price)
	}
	if maxPrice <= 0 {
		return nil, fmt.Errorf("%w: route is too short to price", ErrValidation)
	}

	t := &Trip{
		RequestedBy:          actor.UserID,
		StartLocation:        req.StartLocation,
		EndLocation:          req.EndLocation,
		Stops:                req.Stops,
		DepartureTime:        req.DepartureTime,
		AvailableSeats:       seats,
		PreferredVehicleType: vt,
		EstimatedPrice:       est.Price,
		MaxPrice:             maxPrice,
		Currency:             defaultCurrency,
		Status:               StatusPendingDriver,
		Recurring:            req.Recurring,
		Notes:                strings.TrimSpace(req.Notes),
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, err
	}

	s.indexOpen(ctx, t)
	s.loggerf("level=info msg=trip created trip_id=%d requested_by=%d estimated_price=%d max_price=%d", t.ID, t.RequestedBy, t.EstimatedPrice, t.MaxPrice)
	return &CreateResult{Trip: t, Pricing: est}, nil
}

func (s *Service) Estimate(ctx context.Context, req EstimateRequest) (pricing.Estimate, error) {
	if err := validate(req); err != nil {
		return pricing.Estimate{}, err
	}
	if err := checkRoute(req.StartLocation, req.EndLocation); err != nil {
		return pricing.Estimate{}, err
	}
	vt, err := parseVehicleType(req.VehicleType)
	if err != nil {
		return pricing.Estimate{}, err
	}
	dep := s.now()
	if req.DepartureTime != nil && !req.DepartureTime.IsZero() {
		dep = *req.DepartureTime
	}
	return s.pricing.Estimate(req.StartLocation.Point(), req.EndLocation.Point(), pricing.Vehicle{Type: vt, Year: req.VehicleYear}, dep), nil
}

func (s *Service) List(ctx context.Context, actor Actor, q ListQuery) ([]Trip, int64, error) {
	if q.Status != "" && !q.Status.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrValidation, q.Status)
	}
	role := strings.ToLower(strings.TrimSpace(q.Role))
	if role != "" && role != "driver" && role != "passenger" {
		return nil, 0, fmt.Errorf("%w: role must be driver or passenger", ErrValidation)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	page := q.Page
	if page < 1 {
		page = 1
	}

	return s.repo.List(ctx, ListFilter{
		UserID:   actor.UserID,
		AsDriver: role == "driver",
		Status:   q.Status,
		Limit:    limit,
		Offset:   (page - 1) * limit,
	})
}

// ListAvailable returns open trips whose pickup lies within radiusKm of the point.
// The Redis index is used when configured; any index error falls back to a scan.
func (s *Service) ListAvailable(ctx context.Context, actor Actor, lat, lng, radiusKm float64) ([]AvailableTrip, error) {
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return nil, fmt.Errorf("%w: coordinates out of range", ErrValidation)
	}
	if radiusKm <= 0 {
		radiusKm = defaultRadiusKm
	}
	if radiusKm > maxRadiusKm {
		radiusKm = maxRadiusKm
	}
	origin := pricing.Point{Lat: lat, Lng: lng}

	if s.geo != nil && s.geo.Enabled() {
		out, err := s.availableFromIndex(ctx, actor, origin, radiusKm)
		if err == nil {
			return out, nil
		}
		s.loggerf("level=warn msg=geo index query failed, scanning db err=%v", err)
	}

	pending, err := s.repo.ListPending(ctx, availableScanLimit)
	if err != nil {
		return nil, err
	}
	out := make([]AvailableTrip, 0)
	for _, t := range pending {
		if t.RequestedBy == actor.UserID {
			continue
		}
		d := pricing.DistanceKm(origin, t.StartLocation.Point())
		if d <= radiusKm {
			out = append(out, AvailableTrip{Trip: t, DistanceKm: roundKm(d)})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	if len(out) > availableResultSize {
		out = out[:availableResultSize]
	}
	return out, nil
}

func (s *Service) availableFromIndex(ctx context.Context, actor Actor, origin pricing.Point, radiusKm float64) ([]AvailableTrip, error) {
	hits, err := s.geo.Nearby(ctx, origin.Lat, origin.Lng, radiusKm, availableResultSize)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.TripID)
	}
	trips, err := s.repo.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]Trip, len(trips))
	for _, t := range trips {
		byID[t.ID] = t
	}

	out := make([]AvailableTrip, 0, len(hits))
	for _, h := range hits {
		t, ok := byID[h.TripID]
		if !ok || t.Status != StatusPendingDriver {
			// stale entry
			_ = s.geo.Remove(ctx, h.TripID)
			continue
		}
		if t.RequestedBy == actor.UserID {
			continue
		}
		out = append(out, AvailableTrip{Trip: t, DistanceKm: roundKm(h.DistanceKm)})
	}
	return out, nil
}

// Get returns the trip with its driver requests and roster. Callers outside the
// trip only see their own driver request and roster entry.
func (s *Service) Get(ctx context.Context, actor Actor, id int64) (*Detail, error) {
	t, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	bids, err := s.repo.ListBids(ctx, id)
	if err != nil {
		return nil, err
	}
	roster, err := s.repo.ListPassengers(ctx, id)
	if err != nil {
		return nil, err
	}

	insider := actor.Role.IsAdmin() || t.RequestedBy == actor.UserID || t.IsDriver(actor.UserID)
	if !insider {
		bids = filterBids(bids, actor.UserID)
		roster = filterRoster(roster, actor.UserID)
		if t.Status != StatusPendingDriver && len(roster) == 0 && len(bids) == 0 {
			return nil, ErrForbidden
		}
	}
	return &Detail{Trip: t, Bids: bids, Passengers: roster}, nil
}

func (s *Service) Update(ctx context.Context, actor Actor, id int64, req UpdateTripRequest) (*Trip, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	t, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	var (
		fields     map[string]interface{}
		recipients []int64
		kind       = notification.KindTripUpdated
	)
	switch t.Status {
	case StatusPendingDriver:
		if t.RequestedBy != actor.UserID {
			return nil, ErrForbidden
		}
		fields, err = s.requesterEdits(t, req)
		if err != nil {
			return nil, err
		}
		bids, err := s.repo.ListPendingBids(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, b := range bids {
			recipients = append(recipients, b.DriverID)
		}
	case StatusConfirmed, StatusPaid:
		if !t.IsDriver(actor.UserID) {
			return nil, ErrForbidden
		}
		fields, err = s.driverEdits(ctx, t, req)
		if err != nil {
			return nil, err
		}
		recipients, err = s.riders(ctx, t)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: trip is %s", ErrInvalidState, t.Status)
	}

	if len(fields) == 0 {
		return t, nil
	}
	ok, err := s.repo.UpdateConditional(ctx, id, t.Status, t.StatusVersion, fields)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}

	updated, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if updated.Status == StatusPendingDriver {
		s.indexOpen(ctx, updated)
	}
	s.notifyAll(ctx, recipients, actor.UserID, kind, id)
	return updated, nil
}

func (s *Service) requesterEdits(t *Trip, req UpdateTripRequest) (map[string]interface{}, error) {
	if req.EstimatedArrivalTime != nil {
		return nil, fmt.Errorf("%w: estimatedArrivalTime is set by the driver", ErrValidation)
	}
	fields := map[string]interface{}{}
	reprice := false

	if req.StartLocation != nil {
		t.StartLocation = *req.StartLocation
		fields["start_address"] = t.StartLocation.Address
		fields["start_lat"] = t.StartLocation.Lat
		fields["start_lng"] = t.StartLocation.Lng
		reprice = true
	}
	if req.EndLocation != nil {
		t.EndLocation = *req.EndLocation
		fields["end_address"] = t.EndLocation.Address
		fields["end_lat"] = t.EndLocation.Lat
		fields["end_lng"] = t.EndLocation.Lng
		reprice = true
	}
	if req.Stops != nil {
		stops, err := stopsColumn(req.Stops)
		if err != nil {
			return nil, err
		}
		fields["stops"] = stops
	}
	if req.DepartureTime != nil {
		if !req.DepartureTime.After(s.now()) {
			return nil, fmt.Errorf("%w: departureTime must be in the future", ErrValidation)
		}
		t.DepartureTime = *req.DepartureTime
		fields["departure_time"] = t.DepartureTime
		reprice = true
	}
	if req.PreferredVehicleType != nil {
		vt, err := parseVehicleType(*req.PreferredVehicleType)
		if err != nil {
			return nil, err
		}
		t.PreferredVehicleType = vt
		fields["preferred_vehicle_type"] = vt
		reprice = true
	}
	if req.AvailableSeats != nil {
		fields["available_seats"] = *req.AvailableSeats
	}
	if req.MaxPrice != nil {
		if *req.MaxPrice <= 0 {
			return nil, fmt.Errorf("%w: maxPrice must be positive", ErrValidation)
		}
		fields["max_price"] = *req.MaxPrice
	}
	if req.Notes != nil {
		fields["notes"] = strings.TrimSpace(*req.Notes)
	}

	if req.StartLocation != nil || req.EndLocation != nil {
		if err := checkRoute(t.StartLocation, t.EndLocation); err != nil {
			return nil, err
		}
	}
	if reprice {
		est := s.pricing.Estimate(t.StartLocation.Point(), t.EndLocation.Point(), pricing.Vehicle{Type: t.PreferredVehicleType}, t.DepartureTime)
		fields["estimated_price"] = est.Price
		if req.MaxPrice == nil && t.MaxPrice == pricing.DefaultMaxPrice(t.EstimatedPrice) {
			fields["max_price"] = pricing.DefaultMaxPrice(est.Price)
		}
	}
	return fields, nil
}

func (s *Service) driverEdits(ctx context.Context, t *Trip, req UpdateTripRequest) (map[string]interface{}, error) {
	if req.StartLocation != nil || req.EndLocation != nil || req.Stops != nil || req.DepartureTime != nil ||
		req.PreferredVehicleType != nil || req.MaxPrice != nil || req.Notes != nil {
		return nil, fmt.Errorf("%w: only estimatedArrivalTime and availableSeats can change after confirmation", ErrValidation)
	}
	fields := map[string]interface{}{}
	if req.EstimatedArrivalTime != nil {
		if !req.EstimatedArrivalTime.After(t.DepartureTime) {
			return nil, fmt.Errorf("%w: estimatedArrivalTime must be after departureTime", ErrValidation)
		}
		fields["estimated_arrival_time"] = *req.EstimatedArrivalTime
	}
	if req.AvailableSeats != nil {
		// seats held by accepted passengers plus the requester's reserved seat
		free, err := seatsLeft(ctx, s.repo, t, 0)
		if err != nil {
			return nil, err
		}
		held := int64(t.AvailableSeats) - free
		if int64(*req.AvailableSeats) < held {
			return nil, fmt.Errorf("%w: %d seats already taken", ErrValidation, held)
		}
		fields["available_seats"] = *req.AvailableSeats
	}
	return fields, nil
}

// Delete removes a trip that has not progressed past confirmation.
func (s *Service) Delete(ctx context.Context, actor Actor, id int64) error {
	t, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}

	var recipients []int64
	switch t.Status {
	case StatusPendingDriver:
		if t.RequestedBy != actor.UserID {
			return ErrForbidden
		}
		bids, err := s.repo.ListPendingBids(ctx, id)
		if err != nil {
			return err
		}
		for _, b := range bids {
			recipients = append(recipients, b.DriverID)
		}
	case StatusConfirmed:
		if !t.IsDriver(actor.UserID) {
			return ErrForbidden
		}
		accepted, err := s.repo.CountAccepted(ctx, id)
		if err != nil {
			return err
		}
		if accepted > 0 {
			return fmt.Errorf("%w: trip has accepted passengers", ErrConflict)
		}
		recipients = append(recipients, t.RequestedBy)
	default:
		return fmt.Errorf("%w: trip in status %s cannot be deleted", ErrConflict, t.Status)
	}

	err = s.repo.Transaction(ctx, func(tx *Repository) error {
		ok, err := tx.DeleteConditional(ctx, id, t.Status, t.StatusVersion)
		if err != nil {
			return err
		}
		if !ok {
			return ErrConflict
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.unindex(ctx, id)
	s.loggerf("level=info msg=trip deleted trip_id=%d actor_id=%d status=%s", id, actor.UserID, t.Status)
	s.notifyAll(ctx, recipients, actor.UserID, notification.KindTripCancelled, id)
	return nil
}

// UpdateStatus applies a driver-driven transition. Cancellation is routed to Cancel.
func (s *Service) UpdateStatus(ctx context.Context, actor Actor, id int64, target Status) (*Trip, error) {
	switch target {
	case StatusCancelled:
		return s.Cancel(ctx, actor, id, "")
	case StatusInProgress, StatusCompleted:
	default:
		return nil, fmt.Errorf("%w: status %q cannot be set directly", ErrValidation, target)
	}

	t, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !t.IsDriver(actor.UserID) {
		return nil, ErrForbidden
	}
	if !CanTransition(t.Status, target) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidState, t.Status, target)
	}

	now := s.now()
	fields := map[string]interface{}{"status": target}
	kind := notification.KindTripStarted
	if target == StatusInProgress {
		fields["actual_departure_time"] = now
	} else {
		fields["actual_arrival_time"] = now
		kind = notification.KindTripCompleted
	}

	ok, err := s.repo.UpdateConditional(ctx, id, t.Status, t.StatusVersion, fields)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}

	riders, err := s.riders(ctx, t)
	if err != nil {
		s.loggerf("level=error msg=failed to load roster trip_id=%d err=%v", id, err)
	}
	s.loggerf("level=info msg=trip status changed trip_id=%d from=%s to=%s", id, t.Status, target)
	s.notifyAll(ctx, riders, actor.UserID, kind, id)
	return s.repo.FindByID(ctx, id)
}

func (s *Service) Complete(ctx context.Context, actor Actor, id int64) (*Trip, error) {
	return s.UpdateStatus(ctx, actor, id, StatusCompleted)
}

// Cancel moves a non-terminal trip to cancelled. The requester cancels while no
// driver is assigned, the driver afterwards; admins always may.
func (s *Service) Cancel(ctx context.Context, actor Actor, id int64, reason string) (*Trip, error) {
	if err := validate(CancelRequest{Reason: reason}); err != nil {
		return nil, err
	}
	t, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status.Terminal() {
		return nil, fmt.Errorf("%w: trip is already %s", ErrInvalidState, t.Status)
	}

	allowed := actor.Role.IsAdmin()
	if !allowed {
		if t.Status == StatusPendingDriver {
			allowed = t.RequestedBy == actor.UserID
		} else {
			allowed = t.IsDriver(actor.UserID)
		}
	}
	if !allowed {
		return nil, ErrForbidden
	}
	if !CanTransition(t.Status, StatusCancelled) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidState, t.Status, StatusCancelled)
	}

	recipients := []int64{t.RequestedBy}
	if t.DriverID != nil {
		recipients = append(recipients, *t.DriverID)
	}

	now := s.now()
	err = s.repo.Transaction(ctx, func(tx *Repository) error {
		ok, err := tx.UpdateConditional(ctx, id, t.Status, t.StatusVersion, map[string]interface{}{
			"status":              StatusCancelled,
			"cancellation_reason": strings.TrimSpace(reason),
			"cancelled_by":        actor.UserID,
			"cancelled_at":        now,
		})
		if err != nil {
			return err
		}
		if !ok {
			return ErrConflict
		}

		bids, err := tx.ListPendingBids(ctx, id)
		if err != nil {
			return err
		}
		for _, b := range bids {
			recipients = append(recipients, b.DriverID)
		}
		if _, err := tx.DeclinePendingBids(ctx, id, now); err != nil {
			return err
		}

		roster, err := tx.ListPassengers(ctx, id)
		if err != nil {
			return err
		}
		for _, p := range roster {
			if p.Status == RosterAccepted {
				recipients = append(recipients, p.UserID)
			}
		}
		return tx.CancelRoster(ctx, id)
	})
	if err != nil {
		return nil, err
	}

	s.unindex(ctx, id)
	s.loggerf("level=info msg=trip cancelled trip_id=%d actor_id=%d from=%s", id, actor.UserID, t.Status)
	s.notifyAll(ctx, recipients, actor.UserID, notification.KindTripCancelled, id)
	return s.repo.FindByID(ctx, id)
}

// riders returns the requester plus every accepted passenger.
func (s *Service) riders(ctx context.Context, t *Trip) ([]int64, error) {
	out := []int64{t.RequestedBy}
	roster, err := s.repo.ListPassengers(ctx, t.ID)
	if err != nil {
		return out, err
	}
	for _, p := range roster {
		if p.Status == RosterAccepted {
			out = append(out, p.UserID)
		}
	}
	return out, nil
}

// notifyAll sends kind to each distinct recipient except the actor. Failures are logged.
func (s *Service) notifyAll(ctx context.Context, recipients []int64, actorID int64, kind notification.Kind, tripID int64) {
	if s.notifier == nil {
		return
	}
	seen := map[int64]bool{actorID: true}
	for _, id := range recipients {
		if seen[id] {
			continue
		}
		seen[id] = true
		if err := s.notifier.Notify(ctx, id, kind, tripID); err != nil {
			s.loggerf("level=warn msg=notification failed recipient_id=%d kind=%s trip_id=%d err=%v", id, kind, tripID, err)
		}
	}
}

func (s *Service) indexOpen(ctx context.Context, t *Trip) {
	if s.geo == nil {
		return
	}
	if err := s.geo.Add(ctx, t.ID, t.StartLocation.Lat, t.StartLocation.Lng); err != nil {
		s.loggerf("level=warn msg=geo index add failed trip_id=%d err=%v", t.ID, err)
	}
}

func (s *Service) unindex(ctx context.Context, id int64) {
	if s.geo == nil {
		return
	}
	if err := s.geo.Remove(ctx, id); err != nil {
		s.loggerf("level=warn msg=geo index remove failed trip_id=%d err=%v", id, err)
	}
}

func validate(v interface{}) error {
	if errs := validator.Validate(v); errs != nil {
		return &FieldError{Fields: errs}
	}
	return nil
}

// checkRoute rejects a missing pickup or dropoff and a zero-length route.
func checkRoute(start, end Location) error {
	switch {
	case start.IsZero():
		return fmt.Errorf("%w: startLocation is required", ErrValidation)
	case end.IsZero():
		return fmt.Errorf("%w: endLocation is required", ErrValidation)
	case start.SamePoint(end):
		return fmt.Errorf("%w: startLocation and endLocation must differ", ErrValidation)
	}
	return nil
}

func parseVehicleType(raw string) (pricing.VehicleType, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return pricing.VehicleCar, nil
	}
	vt := pricing.VehicleType(raw)
	if !vt.Valid() {
		return "", fmt.Errorf("%w: unknown vehicle type %q", ErrValidation, raw)
	}
	return vt, nil
}

func filterBids(bids []Bid, driverID int64) []Bid {
	out := make([]Bid, 0, 1)
	for _, b := range bids {
		if b.DriverID == driverID {
			out = append(out, b)
		}
	}
	return out
}

func filterRoster(roster []Passenger, userID int64) []Passenger {
	out := make([]Passenger, 0, 1)
	for _, p := range roster {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out
}

func roundKm(d float64) float64 {
	return float64(int64(d*10+0.5)) / 10
}
