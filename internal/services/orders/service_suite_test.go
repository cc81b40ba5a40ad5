package orders

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/BearBump/CourierTrack/internal/broker/messages"
	"github.com/BearBump/CourierTrack/internal/models"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	ordersmocks "github.com/BearBump/CourierTrack/internal/services/orders/mocks"
)

type ServiceSuite struct {
	suite.Suite

	repo     *ordersmocks.MockRepository
	producer *ordersmocks.MockProducer
	svc      *Service
	now      time.Time
}

func (s *ServiceSuite) SetupTest() {
	s.repo = &ordersmocks.MockRepository{}
	s.producer = &ordersmocks.MockProducer{}
	s.svc = New(s.repo, s.producer, "tracking.updated")
	s.now = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	s.svc.now = func() time.Time { return s.now }
}

func courier(id string) *string { return &id }

func (s *ServiceSuite) TestAccept_PublishesStatusEvent() {
	s.repo.On("AssignCourier", mock.Anything, int64(5), "c1", s.now).
		Return(&models.Order{ID: 5, Status: models.StatusAssigned, CourierID: courier("c1"), StatusAt: s.now}, nil).
		Once()
	s.producer.On("Publish", mock.Anything, "tracking.updated", []byte("5"), mock.MatchedBy(func(v []byte) bool {
		var m messages.TrackingUpdated
		if json.Unmarshal(v, &m) != nil {
			return false
		}
		return m.OrderID == 5 && m.Kind == messages.KindStatus && *m.Status == models.StatusAssigned &&
			m.CourierID != nil && *m.CourierID == "c1" && m.ObservedAt.Equal(s.now)
	})).Return(nil).Once()

	o, err := s.svc.Accept(context.Background(), 5, "c1")
	s.Require().NoError(err)
	s.Require().Equal(models.StatusAssigned, o.Status)
	s.repo.AssertExpectations(s.T())
	s.producer.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestAccept_LostRaceIsDistinguishable() {
	s.repo.On("AssignCourier", mock.Anything, int64(5), "c2", s.now).
		Return(nil, models.ErrAlreadyAssigned).
		Once()

	_, err := s.svc.Accept(context.Background(), 5, "c2")
	s.Require().ErrorIs(err, models.ErrAlreadyAssigned)
	s.Require().False(errors.Is(err, models.ErrInvalidTransition))
	s.producer.AssertNotCalled(s.T(), "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestAccept_RequiresCourier() {
	_, err := s.svc.Accept(context.Background(), 5, "")
	s.Require().Error(err)
	s.repo.AssertNotCalled(s.T(), "AssignCourier", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestAdvance_SkipIsRejectedWithoutWrite() {
	s.repo.On("GetOrder", mock.Anything, int64(5)).
		Return(&models.Order{ID: 5, Status: models.StatusAssigned, CourierID: courier("c1")}, nil).
		Once()

	_, err := s.svc.Advance(context.Background(), 5, "c1", models.StatusNear)
	s.Require().ErrorIs(err, models.ErrInvalidTransition)
	s.repo.AssertNotCalled(s.T(), "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	s.producer.AssertNotCalled(s.T(), "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestAdvance_OtherCourierForbidden() {
	s.repo.On("GetOrder", mock.Anything, int64(5)).
		Return(&models.Order{ID: 5, Status: models.StatusAssigned, CourierID: courier("c1")}, nil).
		Once()

	_, err := s.svc.Advance(context.Background(), 5, "c2", models.StatusOnWay)
	s.Require().ErrorIs(err, models.ErrNotOrderCourier)
}

func (s *ServiceSuite) TestAdvance_ToAssignedGoesThroughAccept() {
	_, err := s.svc.Advance(context.Background(), 5, "c1", models.StatusAssigned)
	s.Require().ErrorIs(err, models.ErrInvalidTransition)
	s.repo.AssertNotCalled(s.T(), "GetOrder", mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestAdvance_PublishFailureDoesNotFailTransition() {
	s.repo.On("GetOrder", mock.Anything, int64(5)).
		Return(&models.Order{ID: 5, Status: models.StatusAssigned, CourierID: courier("c1")}, nil).
		Once()
	s.repo.On("UpdateStatus", mock.Anything, int64(5), models.StatusAssigned, models.StatusOnWay, s.now).
		Return(&models.Order{ID: 5, Status: models.StatusOnWay, CourierID: courier("c1"), StatusAt: s.now}, nil).
		Once()
	s.producer.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("kafka down")).
		Once()

	o, err := s.svc.Advance(context.Background(), 5, "c1", models.StatusOnWay)
	s.Require().NoError(err)
	s.Require().Equal(models.StatusOnWay, o.Status)
	s.repo.AssertExpectations(s.T())
	s.producer.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestAdvance_NotFound() {
	s.repo.On("GetOrder", mock.Anything, int64(9)).Return(nil, models.ErrOrderNotFound).Once()
	_, err := s.svc.Advance(context.Background(), 9, "c1", models.StatusOnWay)
	s.Require().ErrorIs(err, models.ErrOrderNotFound)
}

func (s *ServiceSuite) TestCancel_TerminalRejected() {
	s.repo.On("GetOrder", mock.Anything, int64(5)).
		Return(&models.Order{ID: 5, Status: models.StatusDelivered, CourierID: courier("c1")}, nil).
		Once()

	_, err := s.svc.Cancel(context.Background(), 5)
	s.Require().ErrorIs(err, models.ErrInvalidTransition)
}

func (s *ServiceSuite) TestCreate_Validates() {
	_, err := s.svc.Create(context.Background(), models.OrderCreateInput{Destination: models.Destination{Latitude: 91}})
	s.Require().Error(err)
	_, err = s.svc.Create(context.Background(), models.OrderCreateInput{TotalAmount: -1})
	s.Require().Error(err)
	s.repo.AssertNotCalled(s.T(), "CreateOrder", mock.Anything, mock.Anything)
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}
