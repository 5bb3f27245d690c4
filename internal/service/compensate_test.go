package service

import (
	"context"
	"errors"
	"testing"

	"commonroom/internal/config"
	"commonroom/internal/events"
	"commonroom/internal/models"
	"commonroom/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) ReadAll(ctx context.Context, table string) ([]store.Row, error) {
	args := m.Called(ctx, table)
	rows, _ := args.Get(0).([]store.Row)
	return rows, args.Error(1)
}

func (m *mockStore) Append(ctx context.Context, table string, row store.Row) error {
	return m.Called(ctx, table, row).Error(0)
}

func (m *mockStore) UpdateCell(ctx context.Context, table string, rowIndex, column int, value string) error {
	return m.Called(ctx, table, rowIndex, column, value).Error(0)
}

func (m *mockStore) FindRowByID(ctx context.Context, table, id string) (int, error) {
	args := m.Called(ctx, table, id)
	return args.Int(0), args.Error(1)
}

func (m *mockStore) DeleteRow(ctx context.Context, table string, rowIndex int) error {
	return m.Called(ctx, table, rowIndex).Error(0)
}

// Even when the compensating rejection cannot be written, the caller must get
// the conflict error, never a success.
func TestReconcileCompensationWriteFails(t *testing.T) {
	st := &mockStore{}
	svc := NewBookingService(st, nil, events.NewEventBus(),
		config.BookingConfig{ConfirmAttempts: 1, MaxAdvanceDays: 90}, testLogger())
	svc.reconcileDelay = 0
	svc.newID = func() string { return "ours0001" }

	winner := models.Booking{
		ID: "winner01", RequesterPhone: "0501111111", DisplayName: "First Mover",
		Date: futureDate(), Start: clock(t, "18:00"), End: clock(t, "20:00"),
		Status: models.StatusApproved, Apartment: "7",
	}
	ours := createReq(t, "0502222222", "19:00", "21:00", false)

	// Pre-check sees an empty table; the verification read finds the winner
	// ahead of our row.
	st.On("ReadAll", mock.Anything, TableBookings).Return([]store.Row(nil), nil).Once()
	st.On("Append", mock.Anything, TableBookings, mock.Anything).Return(nil).Once()
	st.On("ReadAll", mock.Anything, TableBookings).Return([]store.Row{
		store.Row(winner.Row()),
		{"ours0001", ours.RequesterPhone, ours.DisplayName, ours.Date.Format(models.DateFmt),
			ours.Start.String(), ours.End.String(), string(models.StatusPending), ours.Apartment, ""},
	}, nil).Once()
	st.On("FindRowByID", mock.Anything, TableBookings, "ours0001").Return(3, nil).Once()
	st.On("UpdateCell", mock.Anything, TableBookings, 3, models.BookingColStatus, string(models.StatusRejected)).
		Return(errors.New("quota exceeded")).Once()

	b, err := svc.CreateBooking(context.Background(), ours)
	assert.ErrorIs(t, err, ErrConflictAfterWrite)
	require.NotNil(t, b)
	assert.Equal(t, models.StatusPending, b.Status, "row keeps its written status when compensation fails")

	st.AssertExpectations(t)
}
