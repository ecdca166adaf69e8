package chat

import (
	"context"
	"errors"

	"github.com/stanislavb/roleOOC/internal/app/model"
	"github.com/stanislavb/roleOOC/internal/app/store"
	"github.com/stanislavb/roleOOC/internal/pkg/errs"
)

// CreateTeam creates a team owned by user, creates its team room and makes user a member.
func (d *Directory) CreateTeam(ctx context.Context, s *Session, user model.User, teamName string) (model.Team, error) {
	if user.Team != "" {
		return model.Team{}, errs.NewError(errs.ErrAlreadyInTeam)
	}

	team, err := d.store.AddTeam(ctx, model.Team{TeamName: teamName, OwnerUserName: user.UserName, Admins: []string{}})
	if errors.Is(err, store.ErrConflict) {
		return model.Team{}, errs.Wrap(errs.ErrConflict, err, "Team "+teamName)
	}
	if err != nil {
		return model.Team{}, errs.Wrap(errs.ErrStorage, err)
	}

	_, err = d.store.AddRoom(ctx, model.Room{
		RoomName:      model.TeamRoom(team.TeamName),
		OwnerUserName: user.UserName,
		AccessLevel:   PrivateAccessLevel,
		Visibility:    PrivateAccessLevel,
	})
	if err != nil && !errors.Is(err, store.ErrConflict) {
		return model.Team{}, errs.Wrap(errs.ErrStorage, err)
	}

	if err := d.store.UpdateUserTeam(ctx, user.UserName, team.TeamName); err != nil {
		return model.Team{}, errs.Wrap(errs.ErrStorage, err)
	}
	user.Team = team.TeamName

	if _, err := d.follow(ctx, s, user, model.TeamRoom(team.TeamName), "", true); err != nil {
		return model.Team{}, err
	}

	d.logger.Info().Str("team", team.TeamName).Str("owner", user.UserName).Msg("Team created")
	return team, nil
}

// GetTeam returns a team by name.
func (d *Directory) GetTeam(ctx context.Context, teamName string) (model.Team, error) {
	team, err := d.store.GetTeam(ctx, teamName)
	if errors.Is(err, store.ErrNotFound) {
		return model.Team{}, errs.NewError(errs.ErrNotFound, "Team "+teamName)
	}
	if err != nil {
		return model.Team{}, errs.Wrap(errs.ErrStorage, err)
	}
	return team, nil
}
