package trip

import (
	"context"
	"errors"
	"testing"

	"carpool/internal/domain/user"
	"carpool/internal/geo"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockGeoIndex struct {
	mock.Mock
}

func (m *MockGeoIndex) Enabled() bool {
	return m.Called().Bool(0)
}

func (m *MockGeoIndex) Add(ctx context.Context, tripID int64, lat, lng float64) error {
	return m.Called(ctx, tripID, lat, lng).Error(0)
}

func (m *MockGeoIndex) Remove(ctx context.Context, tripID int64) error {
	return m.Called(ctx, tripID).Error(0)
}

func (m *MockGeoIndex) Nearby(ctx context.Context, lat, lng, radiusKm float64, limit int) ([]geo.Hit, error) {
	args := m.Called(ctx, lat, lng, radiusKm, limit)
	hits, _ := args.Get(0).([]geo.Hit)
	return hits, args.Error(1)
}

// withGeo returns a service over the fixture's database that uses idx.
func (f *fixture) withGeo(idx GeoIndex) *Service {
	svc := NewService(f.svc.repo, f.users, f.svc.pricing, f.notifier, idx, nil)
	svc.now = f.svc.now
	return svc
}

func TestGeo_CreateAndCancelMaintainIndex(t *testing.T) {
	f := newFixture(t)
	idx := new(MockGeoIndex)
	idx.On("Add", mock.Anything, mock.Anything, 10.7631, 106.6814).Return(nil).Once()
	idx.On("Remove", mock.Anything, mock.Anything).Return(nil).Once()
	svc := f.withGeo(idx)
	ctx := context.Background()
	rider := f.newUser(t, user.RolePassenger)

	res, err := svc.Create(ctx, rider, scenarioRequest(100000))
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, rider, res.Trip.ID, "plans changed")
	require.NoError(t, err)

	idx.AssertCalled(t, "Add", mock.Anything, res.Trip.ID, 10.7631, 106.6814)
	idx.AssertCalled(t, "Remove", mock.Anything, res.Trip.ID)
}

func TestGeo_AvailableUsesIndexAndDropsStaleEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rider := f.newUser(t, user.RolePassenger)
	driver := f.newUser(t, user.RoleDriver)
	live := f.createTrip(t, rider, 100000)
	gone := f.createTrip(t, rider, 100000)
	_, err := f.svc.Cancel(ctx, rider, gone.ID, "")
	require.NoError(t, err)
	const missing = int64(987654)

	idx := new(MockGeoIndex)
	idx.On("Enabled").Return(true)
	idx.On("Nearby", mock.Anything, 10.7631, 106.6814, 5.0, availableResultSize).Return([]geo.Hit{
		{TripID: live.ID, DistanceKm: 0.04},
		{TripID: gone.ID, DistanceKm: 0.04},
		{TripID: missing, DistanceKm: 1.5},
	}, nil)
	idx.On("Remove", mock.Anything, gone.ID).Return(nil).Once()
	idx.On("Remove", mock.Anything, missing).Return(nil).Once()

	out, err := f.withGeo(idx).ListAvailable(ctx, driver, 10.7631, 106.6814, 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, live.ID, out[0].Trip.ID)
	assert.Equal(t, 0.0, out[0].DistanceKm)
	idx.AssertExpectations(t)

	// the requester never sees their own trip, even from the index
	own := new(MockGeoIndex)
	own.On("Enabled").Return(true)
	own.On("Nearby", mock.Anything, 10.7631, 106.6814, 5.0, availableResultSize).Return([]geo.Hit{{TripID: live.ID}}, nil)
	out, err = f.withGeo(own).ListAvailable(ctx, rider, 10.7631, 106.6814, 0)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestGeo_AvailableFallsBackToScan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rider := f.newUser(t, user.RolePassenger)
	driver := f.newUser(t, user.RoleDriver)
	tr := f.createTrip(t, rider, 100000)

	broken := new(MockGeoIndex)
	broken.On("Enabled").Return(true)
	broken.On("Nearby", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("redis: connection refused"))

	out, err := f.withGeo(broken).ListAvailable(ctx, driver, 10.7631, 106.6814, 2)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, tr.ID, out[0].Trip.ID)
	broken.AssertNumberOfCalls(t, "Nearby", 1)

	off := new(MockGeoIndex)
	off.On("Enabled").Return(false)
	out, err = f.withGeo(off).ListAvailable(ctx, driver, 10.7631, 106.6814, 2)
	require.NoError(t, err)
	require.Len(t, out, 1)
	off.AssertNotCalled(t, "Nearby", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
