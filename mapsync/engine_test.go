package mapsync

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"aura-monitor/geo"
	"aura-monitor/safety"
)

// MockSurface для тестирования
type MockSurface struct {
	mock.Mock
}

func (m *MockSurface) Open(center geo.Point, zoom int) error {
	return m.Called(center, zoom).Error(0)
}
func (m *MockSurface) PlaceMarker(id MarkerID, at geo.Point) error {
	return m.Called(id, at).Error(0)
}
func (m *MockSurface) MoveMarker(id MarkerID, at geo.Point) error {
	return m.Called(id, at).Error(0)
}
func (m *MockSurface) DrawCircle(center geo.Point, radiusM float64, color string) error {
	return m.Called(center, radiusM, color).Error(0)
}
func (m *MockSurface) MoveCircle(center geo.Point) error {
	return m.Called(center).Error(0)
}
func (m *MockSurface) RecolorCircle(color string) error {
	return m.Called(color).Error(0)
}
func (m *MockSurface) Recenter(center geo.Point) error {
	return m.Called(center).Error(0)
}
func (m *MockSurface) Release() error {
	return m.Called().Error(0)
}

var (
	vehicle = geo.Point{Lat: 12.9716, Lon: 77.5946}
	ref     = geo.Point{Lat: 12.9720, Lon: 77.5950}
	moved   = geo.Point{Lat: 12.9800, Lon: 77.6000}
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	assert.Equal(t, geo.Point{Lat: 12.9716, Lon: 77.5946}, config.Fallback)
	assert.Equal(t, 500.0, config.RadiusM)
	assert.False(t, config.OpenOnStart)
}

func TestSyncWithoutCoordinatesDoesNothing(t *testing.T) {
	s := &MockSurface{}
	e := NewEngine(DefaultConfig(), s)

	require.NoError(t, e.Sync(nil, nil, safety.NoData))
	s.AssertExpectations(t)
	assert.Empty(t, s.Calls)
}

func TestSyncVehicleOnlyOpensAtVehicle(t *testing.T) {
	s := &MockSurface{}
	e := NewEngine(DefaultConfig(), s)

	s.On("Open", vehicle, 15).Return(nil).Once()
	s.On("PlaceMarker", VehicleMarker, vehicle).Return(nil).Once()

	require.NoError(t, e.Sync(&vehicle, nil, safety.WaitingReference))
	require.NoError(t, e.Sync(&vehicle, nil, safety.WaitingReference))
	s.AssertExpectations(t)
	assert.Len(t, s.Calls, 2)
}

func TestSyncIsIdempotent(t *testing.T) {
	s := &MockSurface{}
	e := NewEngine(DefaultConfig(), s)

	s.On("Open", ref, 15).Return(nil).Once()
	s.On("PlaceMarker", VehicleMarker, vehicle).Return(nil).Once()
	s.On("PlaceMarker", OperatorMarker, ref).Return(nil).Once()
	s.On("DrawCircle", ref, 500.0, SafeColor).Return(nil).Once()

	for i := 0; i < 5; i++ {
		require.NoError(t, e.Sync(&vehicle, &ref, safety.Safe))
	}
	s.AssertExpectations(t)
	assert.Len(t, s.Calls, 4)
}

func TestSyncMovesInPlaceAndRecentersOnReference(t *testing.T) {
	s := &MockSurface{}
	e := NewEngine(DefaultConfig(), s)

	s.On("Open", vehicle, 15).Return(nil).Once()
	s.On("PlaceMarker", VehicleMarker, vehicle).Return(nil).Once()
	require.NoError(t, e.Sync(&vehicle, nil, safety.WaitingReference))

	s.On("PlaceMarker", OperatorMarker, ref).Return(nil).Once()
	s.On("DrawCircle", ref, 500.0, SafeColor).Return(nil).Once()
	s.On("Recenter", ref).Return(nil).Once()
	require.NoError(t, e.Sync(&vehicle, &ref, safety.Safe))

	s.On("MoveMarker", VehicleMarker, moved).Return(nil).Once()
	require.NoError(t, e.Sync(&moved, &ref, safety.Safe))

	s.On("MoveMarker", OperatorMarker, moved).Return(nil).Once()
	s.On("MoveCircle", moved).Return(nil).Once()
	s.On("Recenter", moved).Return(nil).Once()
	require.NoError(t, e.Sync(&moved, &moved, safety.Safe))

	s.AssertExpectations(t)
	s.AssertNotCalled(t, "Recenter", vehicle)
}

func TestSyncRecolorsOnBreach(t *testing.T) {
	s := &MockSurface{}
	e := NewEngine(DefaultConfig(), s)

	s.On("Open", ref, 15).Return(nil)
	s.On("PlaceMarker", mock.Anything, mock.Anything).Return(nil)
	s.On("DrawCircle", ref, 500.0, BreachColor).Return(nil).Once()
	require.NoError(t, e.Sync(&vehicle, &ref, safety.GeofenceBreach))

	s.On("RecolorCircle", SafeColor).Return(nil).Once()
	require.NoError(t, e.Sync(&vehicle, &ref, safety.LowVoltage))
	require.NoError(t, e.Sync(&vehicle, &ref, safety.Safe))

	s.On("RecolorCircle", BreachColor).Return(nil).Once()
	require.NoError(t, e.Sync(&vehicle, &ref, safety.GeofenceBreach))

	s.AssertExpectations(t)
}

func TestSyncOpenFailureRetries(t *testing.T) {
	s := &MockSurface{}
	e := NewEngine(DefaultConfig(), s)

	s.On("Open", vehicle, 15).Return(errors.New("no display")).Once()
	assert.Error(t, e.Sync(&vehicle, nil, safety.WaitingReference))

	s.On("Open", vehicle, 15).Return(nil).Once()
	s.On("PlaceMarker", VehicleMarker, vehicle).Return(nil).Once()
	assert.NoError(t, e.Sync(&vehicle, nil, safety.WaitingReference))
	s.AssertExpectations(t)
}

func TestSyncFailedMoveIsRetried(t *testing.T) {
	s := &MockSurface{}
	e := NewEngine(DefaultConfig(), s)

	s.On("Open", vehicle, 15).Return(nil)
	s.On("PlaceMarker", VehicleMarker, vehicle).Return(nil)
	require.NoError(t, e.Sync(&vehicle, nil, safety.WaitingReference))

	s.On("MoveMarker", VehicleMarker, moved).Return(errors.New("busy")).Once()
	assert.Error(t, e.Sync(&moved, nil, safety.WaitingReference))

	s.On("MoveMarker", VehicleMarker, moved).Return(nil).Once()
	assert.NoError(t, e.Sync(&moved, nil, safety.WaitingReference))
	s.AssertExpectations(t)
}

func TestOpenUsesFallback(t *testing.T) {
	s := &MockSurface{}
	config := DefaultConfig()
	e := NewEngine(config, s)

	s.On("Open", config.Fallback, 15).Return(nil).Once()
	require.NoError(t, e.Open())
	require.NoError(t, e.Open())

	s.On("PlaceMarker", OperatorMarker, ref).Return(nil).Once()
	s.On("DrawCircle", ref, 500.0, SafeColor).Return(nil).Once()
	s.On("Recenter", ref).Return(nil).Once()
	require.NoError(t, e.Sync(nil, &ref, safety.NoData))
	s.AssertExpectations(t)
}

func TestRelease(t *testing.T) {
	s := &MockSurface{}
	e := NewEngine(DefaultConfig(), s)

	// Неоткрытую карту освобождать не нужно
	require.NoError(t, e.Release())
	s.AssertNotCalled(t, "Release")

	s.On("Open", mock.Anything, mock.Anything).Return(nil)
	s.On("Release").Return(nil).Once()
	require.NoError(t, e.Open())
	require.NoError(t, e.Release())
	require.NoError(t, e.Release())
	s.AssertExpectations(t)
}
