package service

import (
	"context"
	"fmt"

	"commonroom/internal/events"
	"commonroom/internal/models"
	"commonroom/internal/store"

	"github.com/rs/zerolog"
)

// UserService keeps the resident registry. Registrations land as pending and
// the committee activates them; only active users can be matched to bookings
// by the clients.
type UserService struct {
	store  store.Store
	bus    *events.EventBus
	logger *zerolog.Logger
}

func NewUserService(st store.Store, bus *events.EventBus, logger *zerolog.Logger) *UserService {
	return &UserService{store: st, bus: bus, logger: logger}
}

// Register appends a new pending user. Phones are compared in normalized form
// so "050-123 45 67" and "0501234567" count as the same registration.
func (s *UserService) Register(ctx context.Context, u models.User) error {
	if u.Phone == "" || u.FullName == "" {
		return ErrInvalidUser
	}
	if u.Role == "" {
		u.Role = models.RoleOwner
	}

	users, err := s.loadUsers(ctx)
	if err != nil {
		return err
	}
	norm := models.NormalizePhone(u.Phone)
	for i := range users {
		if models.NormalizePhone(users[i].Phone) == norm {
			return fmt.Errorf("%w: %s", ErrPhoneExists, u.Phone)
		}
	}

	u.Status = models.StatusPending
	if err := s.store.Append(ctx, TableUsers, u.Row()); err != nil {
		return fmt.Errorf("%w: append user: %v", ErrPersistence, err)
	}

	_ = s.bus.PublishJSON(events.EventUserRegistered, events.UserEventPayload{
		Phone:     u.Phone,
		FullName:  u.FullName,
		Apartment: u.Apartment,
		Status:    string(u.Status),
	})
	s.logger.Info().Str("apartment", u.Apartment).Msg("user registered")
	return nil
}

// Approve activates a pending user.
func (s *UserService) Approve(ctx context.Context, phone string) (*models.User, error) {
	return s.resolve(ctx, phone, models.StatusActive, events.EventUserApproved)
}

// Reject declines a pending registration.
func (s *UserService) Reject(ctx context.Context, phone string) (*models.User, error) {
	return s.resolve(ctx, phone, models.StatusRejected, "")
}

func (s *UserService) resolve(ctx context.Context, phone string, to models.Status, eventType string) (*models.User, error) {
	u, err := s.ByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	if err := models.EnsureUserTransition(u.Status, to); err != nil {
		return nil, err
	}

	// Lookups key on the phone exactly as stored, which may differ from the
	// normalized form the caller passed in.
	idx, err := s.store.FindRowByID(ctx, TableUsers, u.Phone)
	if err != nil {
		return nil, fmt.Errorf("%w: find user row: %v", ErrPersistence, err)
	}
	if err := s.store.UpdateCell(ctx, TableUsers, idx, models.UserColStatus, string(to)); err != nil {
		return nil, fmt.Errorf("%w: update user status: %v", ErrPersistence, err)
	}

	u.Status = to
	if eventType != "" {
		_ = s.bus.PublishJSON(eventType, events.UserEventPayload{
			Phone:     u.Phone,
			FullName:  u.FullName,
			Apartment: u.Apartment,
			Status:    string(u.Status),
		})
	}
	s.logger.Info().Str("apartment", u.Apartment).Str("status", string(to)).Msg("user reviewed")
	return u, nil
}

// ByPhone finds a user by normalized phone.
func (s *UserService) ByPhone(ctx context.Context, phone string) (*models.User, error) {
	users, err := s.loadUsers(ctx)
	if err != nil {
		return nil, err
	}
	norm := models.NormalizePhone(phone)
	for i := range users {
		if models.NormalizePhone(users[i].Phone) == norm {
			u := users[i]
			return &u, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUserNotFound, phone)
}

// Pending lists registrations awaiting committee review.
func (s *UserService) Pending(ctx context.Context) ([]models.User, error) {
	users, err := s.loadUsers(ctx)
	if err != nil {
		return nil, err
	}
	var out []models.User
	for _, u := range users {
		if u.Status == models.StatusPending {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *UserService) loadUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.store.ReadAll(ctx, TableUsers)
	if err != nil {
		return nil, fmt.Errorf("%w: read users: %v", ErrPersistence, err)
	}
	users := make([]models.User, 0, len(rows))
	for _, row := range rows {
		u, err := models.UserFromRow(row)
		if err != nil {
			s.logger.Warn().Err(err).Msg("skipping malformed user row")
			continue
		}
		users = append(users, u)
	}
	return users, nil
}
