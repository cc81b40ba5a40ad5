package mocks

import (
	"context"
	"time"

	"github.com/BearBump/CourierTrack/internal/models"
	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) CreateOrder(ctx context.Context, in models.OrderCreateInput) (*models.Order, error) {
	args := m.Called(ctx, in)
	return orderArg(args, 0), args.Error(1)
}

func (m *MockRepository) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	args := m.Called(ctx, orderID)
	return orderArg(args, 0), args.Error(1)
}

func (m *MockRepository) AssignCourier(ctx context.Context, orderID int64, courierID string, at time.Time) (*models.Order, error) {
	args := m.Called(ctx, orderID, courierID, at)
	return orderArg(args, 0), args.Error(1)
}

func (m *MockRepository) UpdateStatus(ctx context.Context, orderID int64, from, to models.Status, at time.Time) (*models.Order, error) {
	args := m.Called(ctx, orderID, from, to, at)
	return orderArg(args, 0), args.Error(1)
}

type MockProducer struct {
	mock.Mock
}

func (m *MockProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	args := m.Called(ctx, topic, key, value)
	return args.Error(0)
}

func orderArg(args mock.Arguments, i int) *models.Order {
	if v := args.Get(i); v != nil {
		return v.(*models.Order)
	}
	return nil
}
