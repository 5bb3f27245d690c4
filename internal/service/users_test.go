package service

import (
	"context"
	"testing"

	"commonroom/internal/events"
	"commonroom/internal/models"
	"commonroom/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUserService() *UserService {
	return NewUserService(store.NewMemory(0), events.NewEventBus(), testLogger())
}

func TestRegisterUser(t *testing.T) {
	svc := newUserService()
	ctx := context.Background()

	err := svc.Register(ctx, models.User{
		Phone:     "050-123-4567",
		FullName:  "Dana Levi",
		Apartment: "13",
	})
	require.NoError(t, err)

	u, err := svc.ByPhone(ctx, "0501234567")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, u.Status)
	assert.Equal(t, models.RoleOwner, u.Role, "role defaults to owner")
}

func TestRegisterUserDuplicatePhone(t *testing.T) {
	svc := newUserService()
	ctx := context.Background()

	require.NoError(t, svc.Register(ctx, models.User{Phone: "050-123-4567", FullName: "Dana Levi"}))

	// Same number, different formatting.
	err := svc.Register(ctx, models.User{Phone: "0501234567", FullName: "D. Levi"})
	assert.ErrorIs(t, err, ErrPhoneExists)
}

func TestRegisterUserValidation(t *testing.T) {
	svc := newUserService()
	ctx := context.Background()

	assert.ErrorIs(t, svc.Register(ctx, models.User{FullName: "No Phone"}), ErrInvalidUser)
	assert.ErrorIs(t, svc.Register(ctx, models.User{Phone: "0501234567"}), ErrInvalidUser)
}

func TestApproveUser(t *testing.T) {
	svc := newUserService()
	ctx := context.Background()

	require.NoError(t, svc.Register(ctx, models.User{Phone: "050-123-4567", FullName: "Dana Levi"}))

	u, err := svc.Approve(ctx, "0501234567")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, u.Status)

	// Already active; a second approval is an illegal transition.
	_, err = svc.Approve(ctx, "0501234567")
	assert.ErrorIs(t, err, models.ErrIllegalTransition)
}

func TestRejectUser(t *testing.T) {
	svc := newUserService()
	ctx := context.Background()

	require.NoError(t, svc.Register(ctx, models.User{Phone: "0501234567", FullName: "Dana Levi"}))

	u, err := svc.Reject(ctx, "0501234567")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, u.Status)

	_, err = svc.Approve(ctx, "0501234567")
	assert.ErrorIs(t, err, models.ErrIllegalTransition)
}

func TestUserByPhoneNotFound(t *testing.T) {
	svc := newUserService()
	_, err := svc.ByPhone(context.Background(), "0500000000")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestPendingUsers(t *testing.T) {
	svc := newUserService()
	ctx := context.Background()

	require.NoError(t, svc.Register(ctx, models.User{Phone: "0501111111", FullName: "A"}))
	require.NoError(t, svc.Register(ctx, models.User{Phone: "0502222222", FullName: "B"}))
	_, err := svc.Approve(ctx, "0501111111")
	require.NoError(t, err)

	pending, err := svc.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "0502222222", pending[0].Phone)
}
