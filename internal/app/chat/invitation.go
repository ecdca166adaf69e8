package chat

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/stanislavb/roleOOC/internal/app/model"
	"github.com/stanislavb/roleOOC/internal/app/store"
	"github.com/stanislavb/roleOOC/internal/pkg/errs"
	"github.com/stanislavb/roleOOC/internal/pkg/keylock"
	"github.com/stanislavb/roleOOC/internal/pkg/logx"
)

// Invitations issues and answers room and team invitations.
type Invitations struct {
	store     store.Gateway
	directory *Directory
	registry  *Registry
	hub       *Hub

	// userLocks serializes answers of one user so an invitation is consumed once.
	userLocks *keylock.KeyLock

	now    func() time.Time
	logger zerolog.Logger
}

// NewInvitations returns the invitation workflow.
func NewInvitations(gw store.Gateway, directory *Directory, registry *Registry, hub *Hub) *Invitations {
	return &Invitations{
		store:     gw,
		directory: directory,
		registry:  registry,
		hub:       hub,
		userLocks: keylock.New(),
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logx.Component("invitations"),
	}
}

func (iv *Invitations) loadUser(ctx context.Context, userName string) (model.User, error) {
	u, err := iv.store.GetUser(ctx, userName)
	if errors.Is(err, store.ErrNotFound) {
		return model.User{}, errs.NewError(errs.ErrNotFound, "User "+userName)
	}
	if err != nil {
		return model.User{}, errs.Wrap(errs.ErrStorage, err)
	}
	return u, nil
}

// invite stores the invitation and notifies the target if it is online. A pending
// identical invitation is reported as ErrAlreadyInvited and nothing is stored.
func (iv *Invitations) invite(ctx context.Context, sender model.User, target string, itemName string, typ model.InvitationType) (model.Invitation, error) {
	inv := model.Invitation{
		TargetUserName: target,
		ItemName:       itemName,
		InvitationType: typ,
		Sender:         sender.UserName,
		Time:           iv.now(),
	}

	err := iv.store.AddInvitation(ctx, inv)
	if errors.Is(err, store.ErrConflict) {
		return model.Invitation{}, errs.Wrap(errs.ErrAlreadyInvited, err, target)
	}
	if err != nil {
		return model.Invitation{}, errs.Wrap(errs.ErrStorage, err)
	}

	if connID, ok := iv.registry.ActiveConnectionOf(target); ok {
		if s, ok := iv.hub.Session(connID); ok {
			_ = s.Send(Envelope{Event: EventInvitation, Data: inv})
		}
	}

	iv.logger.Info().Str("sender", sender.UserName).Str("target", target).Str("item", itemName).Str("type", string(typ)).Msg("Invitation sent")
	return inv, nil
}

// InviteToRoom invites target to a room the sender follows.
func (iv *Invitations) InviteToRoom(ctx context.Context, sender model.User, target, roomName string) (model.Invitation, error) {
	roomName, err := ResolveRoomName(sender, roomName)
	if err != nil {
		return model.Invitation{}, err
	}
	if model.IsReservedRoom(roomName) {
		return model.Invitation{}, errs.NewError(errs.ErrInvalidOperation, "Reserved rooms cannot be shared.")
	}
	if !sender.HasRoom(roomName) {
		return model.Invitation{}, errs.NewError(errs.ErrNotFollowing, roomName)
	}
	if _, err := iv.store.GetRoom(ctx, roomName); errors.Is(err, store.ErrNotFound) {
		return model.Invitation{}, errs.NewError(errs.ErrNotFound, "Room "+roomName)
	} else if err != nil {
		return model.Invitation{}, errs.Wrap(errs.ErrStorage, err)
	}

	targetUser, err := iv.loadUser(ctx, target)
	if err != nil {
		return model.Invitation{}, err
	}
	if targetUser.HasRoom(roomName) {
		return model.Invitation{}, errs.NewError(errs.ErrInvalidOperation, targetUser.UserName+" already follows "+roomName+".")
	}

	return iv.invite(ctx, sender, targetUser.UserName, roomName, model.InvitationRoom)
}

// InviteToTeam invites target to the sender's team. Only the team owner and admins may invite.
func (iv *Invitations) InviteToTeam(ctx context.Context, sender model.User, target string) (model.Invitation, error) {
	if sender.Team == "" {
		return model.Invitation{}, errs.NewError(errs.ErrNotFound, "Team")
	}
	team, err := iv.store.GetTeam(ctx, sender.Team)
	if errors.Is(err, store.ErrNotFound) {
		return model.Invitation{}, errs.NewError(errs.ErrNotFound, "Team "+sender.Team)
	}
	if err != nil {
		return model.Invitation{}, errs.Wrap(errs.ErrStorage, err)
	}
	if !team.CanInvite(sender.UserName) {
		return model.Invitation{}, errs.NewError(errs.ErrForbidden)
	}

	targetUser, err := iv.loadUser(ctx, target)
	if err != nil {
		return model.Invitation{}, err
	}
	if targetUser.Team != "" {
		return model.Invitation{}, errs.NewError(errs.ErrInvalidOperation, targetUser.UserName+" is already a member of a team.")
	}

	return iv.invite(ctx, sender, targetUser.UserName, team.TeamName, model.InvitationTeam)
}

// List returns the caller's pending invitations.
func (iv *Invitations) List(ctx context.Context, user model.User) ([]model.Invitation, error) {
	invs, err := iv.store.ListInvitations(ctx, user.UserName)
	if err != nil {
		return nil, errs.Wrap(errs.ErrStorage, err)
	}
	if invs == nil {
		invs = []model.Invitation{}
	}
	return invs, nil
}

// Answer accepts or declines an invitation of user.
//
// Declining removes only that invitation. Accepting a room invitation follows the room
// without a password check. Accepting a team invitation sets the team, follows the team
// room and withdraws every other pending team invitation. Once in a team, accepting
// again fails with a conflict.
func (iv *Invitations) Answer(ctx context.Context, s *Session, user model.User, typ model.InvitationType, itemName string, accepted bool) error {
	unlock := iv.userLocks.Lock(user.UserName)
	defer unlock()

	// The caller's record may be stale once the lock is held.
	user, err := iv.loadUser(ctx, user.UserName)
	if err != nil {
		return err
	}

	if accepted && typ == model.InvitationTeam && user.Team != "" {
		return errs.NewError(errs.ErrAlreadyInTeam)
	}

	inv, err := iv.store.GetInvitation(ctx, user.UserName, itemName, typ)
	if errors.Is(err, store.ErrNotFound) {
		return errs.NewError(errs.ErrNotFound, "Invitation")
	}
	if err != nil {
		return errs.Wrap(errs.ErrStorage, err)
	}

	if !accepted {
		if err := iv.store.RemoveInvitation(ctx, user.UserName, inv.ItemName, inv.InvitationType); err != nil && !errors.Is(err, store.ErrNotFound) {
			return errs.Wrap(errs.ErrStorage, err)
		}
		return nil
	}

	switch typ {
	case model.InvitationRoom:
		_, followErr := iv.directory.FollowInvited(ctx, s, user, inv.ItemName)
		if followErr != nil && errs.CodeOf(followErr) != errs.ErrNotFound {
			return followErr
		}
		if err := iv.store.RemoveInvitation(ctx, user.UserName, inv.ItemName, inv.InvitationType); err != nil && !errors.Is(err, store.ErrNotFound) {
			return errs.Wrap(errs.ErrStorage, err)
		}
		return followErr

	case model.InvitationTeam:
		team, err := iv.store.GetTeam(ctx, inv.ItemName)
		if errors.Is(err, store.ErrNotFound) {
			_ = iv.store.RemoveInvitation(ctx, user.UserName, inv.ItemName, inv.InvitationType)
			return errs.NewError(errs.ErrNotFound, "Team "+inv.ItemName)
		}
		if err != nil {
			return errs.Wrap(errs.ErrStorage, err)
		}

		if err := iv.store.UpdateUserTeam(ctx, user.UserName, team.TeamName); err != nil {
			return errs.Wrap(errs.ErrStorage, err)
		}
		user.Team = team.TeamName
		if _, err := iv.directory.FollowInvited(ctx, s, user, model.TeamRoom(team.TeamName)); err != nil {
			return err
		}
		if err := iv.store.RemoveInvitationsByType(ctx, user.UserName, model.InvitationTeam); err != nil {
			return errs.Wrap(errs.ErrStorage, err)
		}

		iv.logger.Info().Str("user_name", user.UserName).Str("team", team.TeamName).Msg("Team invitation accepted")
		return nil
	}

	return errs.NewError(errs.ErrInvalidInput)
}
