package chat

import (
	"context"
	"errors"
	"slices"

	"github.com/stanislavb/roleOOC/internal/app/model"
	"github.com/stanislavb/roleOOC/internal/app/store"
	"github.com/stanislavb/roleOOC/internal/pkg/errs"
)

func (m *Manager) loadUser(ctx context.Context, userName string) (model.User, error) {
	user, err := m.store.GetUser(ctx, userName)
	if errors.Is(err, store.ErrNotFound) {
		return model.User{}, errs.NewError(errs.ErrNotFound, "User "+userName)
	}
	if err != nil {
		return model.User{}, errs.Wrap(errs.ErrStorage, err)
	}
	return user, nil
}

// UpdateUser changes the visibility or access level of a user. Nobody can raise a
// user above their own level or change a user ranked above them.
func (m *Manager) UpdateUser(ctx context.Context, admin model.User, req UpdateRequest) (model.User, error) {
	target, err := m.loadUser(ctx, req.Name)
	if err != nil {
		return model.User{}, err
	}
	if target.AccessLevel > admin.AccessLevel || req.Value > admin.AccessLevel {
		return model.User{}, errs.NewError(errs.ErrForbidden)
	}

	switch req.Field {
	case FieldVisibility:
		target.Visibility = req.Value
	case FieldAccessLevel:
		target.AccessLevel = req.Value
	}

	if err := m.store.UpdateUserAccess(ctx, target.UserName, target.AccessLevel, target.Visibility); err != nil {
		return model.User{}, errs.Wrap(errs.ErrStorage, err)
	}

	m.logger.Info().Str("admin", admin.UserName).Str("user_name", target.UserName).
		Str("field", req.Field).Int("value", req.Value).Msg("User updated")
	return target, nil
}

// SetBanned bans or unbans a user. A banned user that is online is told so, leaves
// every room except its device room and is unbound.
func (m *Manager) SetBanned(ctx context.Context, admin model.User, userName string, banned bool) error {
	target, err := m.loadUser(ctx, userName)
	if err != nil {
		return err
	}
	if banned && (target.UserName == admin.UserName || target.AccessLevel > admin.AccessLevel) {
		return errs.NewError(errs.ErrForbidden)
	}

	if err := m.store.SetUserBanned(ctx, target.UserName, banned); err != nil {
		return errs.Wrap(errs.ErrStorage, err)
	}
	m.logger.Info().Str("admin", admin.UserName).Str("user_name", target.UserName).Bool("banned", banned).Msg("Ban state changed")

	if !banned {
		return nil
	}

	connID, ok := m.registry.ActiveConnectionOf(target.UserName)
	if !ok {
		return nil
	}
	s, ok := m.hub.Session(connID)
	if !ok {
		return nil
	}

	if err := s.Send(Envelope{Event: EventBan, Data: map[string]string{"userName": target.UserName}}); err != nil {
		m.logger.Warn().Err(err).Str("conn_id", connID).Msg("Failed to notify banned user")
	}
	m.registry.Unbind(ctx, s)
	m.hub.LeaveAll(s, true)
	return nil
}

// Verify marks a user as verified.
func (m *Manager) Verify(ctx context.Context, userName string) error {
	target, err := m.loadUser(ctx, userName)
	if err != nil {
		return err
	}
	if err := m.store.SetUserVerified(ctx, target.UserName, true); err != nil {
		return errs.Wrap(errs.ErrStorage, err)
	}
	m.logger.Info().Str("user_name", target.UserName).Msg("User verified")
	return nil
}

// listUserNames returns the sorted names of the users keep selects.
func (m *Manager) listUserNames(ctx context.Context, keep func(model.User) bool) ([]string, error) {
	users, err := m.store.ListUsers(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.ErrStorage, err)
	}
	names := []string{}
	for _, u := range users {
		if keep(u) {
			names = append(names, u.UserName)
		}
	}
	slices.Sort(names)
	return names, nil
}

// BannedUsers returns the names of every banned user.
func (m *Manager) BannedUsers(ctx context.Context) ([]string, error) {
	return m.listUserNames(ctx, func(u model.User) bool { return u.Banned })
}

// UnverifiedUsers returns the names of every user waiting for verification.
func (m *Manager) UnverifiedUsers(ctx context.Context) ([]string, error) {
	return m.listUserNames(ctx, func(u model.User) bool { return !u.Verified })
}

// VerifyAll verifies every unverified user and returns their names.
func (m *Manager) VerifyAll(ctx context.Context) ([]string, error) {
	names, err := m.UnverifiedUsers(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		if err := m.store.SetUserVerified(ctx, name, true); err != nil {
			return nil, errs.Wrap(errs.ErrStorage, err)
		}
	}
	m.logger.Info().Int("users", len(names)).Msg("All users verified")
	return names, nil
}
