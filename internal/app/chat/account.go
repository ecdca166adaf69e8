package chat

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/stanislavb/roleOOC/internal/app/model"
	"github.com/stanislavb/roleOOC/internal/app/store"
	"github.com/stanislavb/roleOOC/internal/pkg/auth/jwt"
	"github.com/stanislavb/roleOOC/internal/pkg/errs"
	"github.com/stanislavb/roleOOC/internal/pkg/logx"
	"github.com/stanislavb/roleOOC/internal/pkg/randx"
)

// Accounts registers users and checks their credentials.
type Accounts struct {
	store      store.Gateway
	policy     *Policy
	userVerify bool
	jwtSecret  string
	now        func() time.Time
	logger     zerolog.Logger
}

// NewAccounts returns the account service.
func NewAccounts(gw store.Gateway, policy *Policy, userVerify bool, jwtSecret string) *Accounts {
	return &Accounts{
		store:      gw,
		policy:     policy,
		userVerify: userVerify,
		jwtSecret:  jwtSecret,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logx.Component("accounts"),
	}
}

// Register creates a user together with its whisper room. The user follows the public
// room and its whisper room. Users start verified unless verification is enforced.
func (a *Accounts) Register(ctx context.Context, userName, password string) (model.User, error) {
	if !randx.IsValidUserName(userName) || password == "" {
		return model.User{}, errs.NewError(errs.ErrInvalidInput)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return model.User{}, errs.Wrap(errs.ErrUnknown, err)
	}

	user, err := a.store.AddUser(ctx, model.User{
		UserName:     userName,
		PasswordHash: string(hash),
		AccessLevel:  DefaultAccessLevel,
		Visibility:   DefaultAccessLevel,
		Rooms:        []string{model.PublicRoom},
		Verified:     !a.userVerify,
		LastOnline:   a.now(),
	})
	if errors.Is(err, store.ErrConflict) {
		return model.User{}, errs.Wrap(errs.ErrUserExists, err)
	}
	if err != nil {
		return model.User{}, errs.Wrap(errs.ErrStorage, err)
	}

	whisper := user.WhisperRoom()
	if _, err := a.store.AddRoom(ctx, model.Room{
		RoomName:      whisper,
		OwnerUserName: user.UserName,
		AccessLevel:   PrivateAccessLevel,
		Visibility:    PrivateAccessLevel,
	}); err != nil && !errors.Is(err, store.ErrConflict) {
		return model.User{}, errs.Wrap(errs.ErrStorage, err)
	}
	if err := a.store.AddRoomToUser(ctx, user.UserName, whisper); err != nil {
		return model.User{}, errs.Wrap(errs.ErrStorage, err)
	}
	user.Rooms = append(user.Rooms, whisper)

	a.logger.Info().Str("user_name", user.UserName).Bool("verified", user.Verified).Msg("User registered")
	return user, nil
}

// Authenticate checks the credentials and returns the user. Every failure is reported
// as ErrAuthFailed.
func (a *Accounts) Authenticate(ctx context.Context, userName, password string) (model.User, error) {
	user, err := a.store.GetUser(ctx, userName)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			a.logger.Error().Err(err).Str("user_name", userName).Msg("Failed to load user for login")
		}
		return model.User{}, errs.Wrap(errs.ErrAuthFailed, err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return model.User{}, errs.NewError(errs.ErrAuthFailed)
	}
	if !a.policy.Eligible(user) {
		return model.User{}, errs.NewError(errs.ErrAuthFailed)
	}
	return user, nil
}

// IssueToken signs an identity token for user.
func (a *Accounts) IssueToken(user model.User) (string, error) {
	token, err := jwt.GenerateToken(&jwt.Payload{UserName: user.UserName, AccessLevel: user.AccessLevel}, a.jwtSecret, jwt.UserIdentityExpiration)
	if err != nil {
		return "", errs.Wrap(errs.ErrUnknown, err)
	}
	return token, nil
}

// VerifyToken reports whether token was issued for userName.
func (a *Accounts) VerifyToken(token, userName string) bool {
	return jwt.VerifyUser(token, a.jwtSecret, userName)
}

// LoginResult is returned by login and register.
type LoginResult struct {
	User  model.User `json:"user"`
	Token string     `json:"token"`
}

// Login authenticates and issues a token.
func (a *Accounts) Login(ctx context.Context, userName, password string) (LoginResult, error) {
	user, err := a.Authenticate(ctx, userName, password)
	if err != nil {
		return LoginResult{}, err
	}
	token, err := a.IssueToken(user)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{User: user, Token: token}, nil
}

// Exists reports whether userName is registered.
func (a *Accounts) Exists(ctx context.Context, userName string) (bool, error) {
	_, err := a.store.GetUser(ctx, userName)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, errs.Wrap(errs.ErrStorage, err)
	}
	return true, nil
}

// CheckPassword reports ErrAuthFailed unless password is the current password of userName.
func (a *Accounts) CheckPassword(ctx context.Context, userName, password string) error {
	_, err := a.Authenticate(ctx, userName, password)
	return err
}

// ChangePassword replaces the password of userName once oldPassword is confirmed.
func (a *Accounts) ChangePassword(ctx context.Context, userName, oldPassword, newPassword string) error {
	if newPassword == "" {
		return errs.NewError(errs.ErrInvalidInput)
	}
	if err := a.CheckPassword(ctx, userName, oldPassword); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return errs.Wrap(errs.ErrUnknown, err)
	}
	if err := a.store.UpdateUserPassword(ctx, userName, string(hash)); err != nil {
		return errs.Wrap(errs.ErrStorage, err)
	}

	a.logger.Info().Str("user_name", userName).Msg("Password changed")
	return nil
}
