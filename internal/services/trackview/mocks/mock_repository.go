package mocks

import (
	"context"

	"github.com/BearBump/ShipTrack/internal/models"
	"github.com/stretchr/testify/mock"
)

// MockRepository — testify-мок trackview.Repository.
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) GetShipment(ctx context.Context, id string) (*models.Shipment, error) {
	args := m.Called(ctx, id)
	v, _ := args.Get(0).(*models.Shipment)
	return v, args.Error(1)
}

func (m *MockRepository) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	args := m.Called(ctx, id)
	v, _ := args.Get(0).(*models.Order)
	return v, args.Error(1)
}

func (m *MockRepository) GetWarehouse(ctx context.Context, id string) (*models.Warehouse, error) {
	args := m.Called(ctx, id)
	v, _ := args.Get(0).(*models.Warehouse)
	return v, args.Error(1)
}

func (m *MockRepository) GetCustomer(ctx context.Context, id string) (*models.Customer, error) {
	args := m.Called(ctx, id)
	v, _ := args.Get(0).(*models.Customer)
	return v, args.Error(1)
}

func (m *MockRepository) GetVehicle(ctx context.Context, id string) (*models.Vehicle, error) {
	args := m.Called(ctx, id)
	v, _ := args.Get(0).(*models.Vehicle)
	return v, args.Error(1)
}
