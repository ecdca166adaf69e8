package db

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/stanislavb/roleOOC/internal/app/model"
	"github.com/stanislavb/roleOOC/internal/app/store"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries is the PostgreSQL Persistence Gateway.
type Queries struct {
	db DBTX
}

// New returns a gateway running its statements on db.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

var _ store.Gateway = (*Queries)(nil)

const userColumns = `user_name, password_hash, access_level, visibility, team, rooms, socket_id, online, verified, banned, last_online`

func scanUser(row pgx.Row) (model.User, error) {
	var u model.User
	err := row.Scan(&u.UserName, &u.PasswordHash, &u.AccessLevel, &u.Visibility, &u.Team,
		&u.Rooms, &u.SocketID, &u.Online, &u.Verified, &u.Banned, &u.LastOnline)
	return u, err
}

func (q *Queries) GetUser(ctx context.Context, userName string) (model.User, error) {
	row := q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE user_name = $1`, strings.ToLower(userName))
	u, err := scanUser(row)
	if err != nil {
		return model.User{}, mapErr("get user", err)
	}
	return u, nil
}

func (q *Queries) AddUser(ctx context.Context, user model.User) (model.User, error) {
	if user.Rooms == nil {
		user.Rooms = []string{}
	}
	if user.LastOnline.IsZero() {
		user.LastOnline = time.Now().UTC()
	}
	row := q.db.QueryRow(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+userColumns,
		strings.ToLower(user.UserName), user.PasswordHash, user.AccessLevel, user.Visibility, user.Team,
		user.Rooms, user.SocketID, user.Online, user.Verified, user.Banned, user.LastOnline)
	u, err := scanUser(row)
	if err != nil {
		return model.User{}, mapErr("add user", err)
	}
	return u, nil
}

func (q *Queries) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := q.db.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY user_name`)
	if err != nil {
		return nil, mapErr("list users", err)
	}
	users, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.User, error) {
		return scanUser(row)
	})
	if err != nil {
		return nil, mapErr("list users", err)
	}
	return users, nil
}

func (q *Queries) exec(ctx context.Context, op, sql string, args ...any) error {
	tag, err := q.db.Exec(ctx, sql, args...)
	return requireRow(tag, err, op)
}

func (q *Queries) UpdateUserSocket(ctx context.Context, userName, socketID string, online bool) error {
	return q.exec(ctx, "update user socket",
		`UPDATE users SET socket_id = $2, online = $3 WHERE user_name = $1`,
		strings.ToLower(userName), socketID, online)
}

func (q *Queries) SetUserLastOnline(ctx context.Context, userName string, t time.Time) error {
	return q.exec(ctx, "set last online",
		`UPDATE users SET last_online = $2 WHERE user_name = $1`, strings.ToLower(userName), t)
}

func (q *Queries) UpdateUserTeam(ctx context.Context, userName, teamName string) error {
	return q.exec(ctx, "update user team",
		`UPDATE users SET team = $2 WHERE user_name = $1`, strings.ToLower(userName), teamName)
}

func (q *Queries) UpdateUserAccess(ctx context.Context, userName string, accessLevel, visibility int) error {
	return q.exec(ctx, "update user access",
		`UPDATE users SET access_level = $2, visibility = $3 WHERE user_name = $1`,
		strings.ToLower(userName), accessLevel, visibility)
}

func (q *Queries) UpdateUserPassword(ctx context.Context, userName, passwordHash string) error {
	return q.exec(ctx, "update user password",
		`UPDATE users SET password_hash = $2 WHERE user_name = $1`, strings.ToLower(userName), passwordHash)
}

func (q *Queries) SetUserBanned(ctx context.Context, userName string, banned bool) error {
	return q.exec(ctx, "set user banned",
		`UPDATE users SET banned = $2 WHERE user_name = $1`, strings.ToLower(userName), banned)
}

func (q *Queries) SetUserVerified(ctx context.Context, userName string, verified bool) error {
	return q.exec(ctx, "set user verified",
		`UPDATE users SET verified = $2 WHERE user_name = $1`, strings.ToLower(userName), verified)
}

func (q *Queries) AddRoomToUser(ctx context.Context, userName, roomName string) error {
	return q.exec(ctx, "add room to user", `
		UPDATE users
		SET rooms = CASE WHEN $2::text = ANY(rooms) THEN rooms ELSE array_append(rooms, $2::text) END
		WHERE user_name = $1`,
		strings.ToLower(userName), roomName)
}

func (q *Queries) RemoveRoomFromUser(ctx context.Context, userName, roomName string) error {
	return q.exec(ctx, "remove room from user",
		`UPDATE users SET rooms = array_remove(rooms, $2::text) WHERE user_name = $1`,
		strings.ToLower(userName), roomName)
}

func (q *Queries) RemoveRoomFromAllUsers(ctx context.Context, roomName string) error {
	_, err := q.db.Exec(ctx,
		`UPDATE users SET rooms = array_remove(rooms, $1::text) WHERE $1::text = ANY(rooms)`, roomName)
	return mapErr("remove room from all users", err)
}

const roomColumns = `room_name, password_hash, owner, access_level, visibility, created_at`

func scanRoom(row pgx.Row) (model.Room, error) {
	var r model.Room
	err := row.Scan(&r.RoomName, &r.PasswordHash, &r.OwnerUserName, &r.AccessLevel, &r.Visibility, &r.CreatedAt)
	return r, err
}

func (q *Queries) GetRoom(ctx context.Context, roomName string) (model.Room, error) {
	r, err := scanRoom(q.db.QueryRow(ctx,
		`SELECT `+roomColumns+` FROM rooms WHERE room_name = $1`, strings.ToLower(roomName)))
	if err != nil {
		return model.Room{}, mapErr("get room", err)
	}
	return r, nil
}

func (q *Queries) AddRoom(ctx context.Context, room model.Room) (model.Room, error) {
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now().UTC()
	}
	r, err := scanRoom(q.db.QueryRow(ctx, `
		INSERT INTO rooms (`+roomColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+roomColumns,
		strings.ToLower(room.RoomName), room.PasswordHash, room.OwnerUserName,
		room.AccessLevel, room.Visibility, room.CreatedAt))
	if err != nil {
		return model.Room{}, mapErr("add room", err)
	}
	return r, nil
}

func (q *Queries) RemoveRoom(ctx context.Context, roomName string) error {
	return q.exec(ctx, "remove room", `DELETE FROM rooms WHERE room_name = $1`, strings.ToLower(roomName))
}

func (q *Queries) ListRooms(ctx context.Context) ([]model.Room, error) {
	rows, err := q.db.Query(ctx, `SELECT `+roomColumns+` FROM rooms ORDER BY room_name`)
	if err != nil {
		return nil, mapErr("list rooms", err)
	}
	rooms, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Room, error) {
		return scanRoom(row)
	})
	if err != nil {
		return nil, mapErr("list rooms", err)
	}
	return rooms, nil
}

func (q *Queries) UpdateRoomAccess(ctx context.Context, roomName string, accessLevel, visibility int) error {
	return q.exec(ctx, "update room access",
		`UPDATE rooms SET access_level = $2, visibility = $3 WHERE room_name = $1`,
		strings.ToLower(roomName), accessLevel, visibility)
}

func (q *Queries) GetTeam(ctx context.Context, teamName string) (model.Team, error) {
	var t model.Team
	err := q.db.QueryRow(ctx, `SELECT team_name, owner, admins FROM teams WHERE team_name = $1`,
		strings.ToLower(teamName)).Scan(&t.TeamName, &t.OwnerUserName, &t.Admins)
	if err != nil {
		return model.Team{}, mapErr("get team", err)
	}
	return t, nil
}

func (q *Queries) AddTeam(ctx context.Context, team model.Team) (model.Team, error) {
	if team.Admins == nil {
		team.Admins = []string{}
	}
	var t model.Team
	err := q.db.QueryRow(ctx, `
		INSERT INTO teams (team_name, owner, admins) VALUES ($1, $2, $3)
		RETURNING team_name, owner, admins`,
		strings.ToLower(team.TeamName), team.OwnerUserName, team.Admins).Scan(&t.TeamName, &t.OwnerUserName, &t.Admins)
	if err != nil {
		return model.Team{}, mapErr("add team", err)
	}
	return t, nil
}

func (q *Queries) AddInvitation(ctx context.Context, inv model.Invitation) error {
	if inv.Time.IsZero() {
		inv.Time = time.Now().UTC()
	}
	_, err := q.db.Exec(ctx, `
		INSERT INTO invitations (target_user_name, item_name, invitation_type, sender, sent_at)
		VALUES ($1, $2, $3, $4, $5)`,
		inv.TargetUserName, inv.ItemName, string(inv.InvitationType), inv.Sender, inv.Time)
	return mapErr("add invitation", err)
}

func scanInvitation(row pgx.Row) (model.Invitation, error) {
	var (
		inv model.Invitation
		typ string
	)
	err := row.Scan(&inv.TargetUserName, &inv.ItemName, &typ, &inv.Sender, &inv.Time)
	inv.InvitationType = model.InvitationType(typ)
	return inv, err
}

func (q *Queries) GetInvitation(ctx context.Context, target, itemName string, typ model.InvitationType) (model.Invitation, error) {
	inv, err := scanInvitation(q.db.QueryRow(ctx, `
		SELECT target_user_name, item_name, invitation_type, sender, sent_at
		FROM invitations
		WHERE target_user_name = $1 AND item_name = $2 AND invitation_type = $3`,
		target, itemName, string(typ)))
	if err != nil {
		return model.Invitation{}, mapErr("get invitation", err)
	}
	return inv, nil
}

func (q *Queries) ListInvitations(ctx context.Context, target string) ([]model.Invitation, error) {
	rows, err := q.db.Query(ctx, `
		SELECT target_user_name, item_name, invitation_type, sender, sent_at
		FROM invitations
		WHERE target_user_name = $1
		ORDER BY sent_at`, target)
	if err != nil {
		return nil, mapErr("list invitations", err)
	}
	invs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Invitation, error) {
		return scanInvitation(row)
	})
	if err != nil {
		return nil, mapErr("list invitations", err)
	}
	return invs, nil
}

func (q *Queries) RemoveInvitation(ctx context.Context, target, itemName string, typ model.InvitationType) error {
	return q.exec(ctx, "remove invitation", `
		DELETE FROM invitations
		WHERE target_user_name = $1 AND item_name = $2 AND invitation_type = $3`,
		target, itemName, string(typ))
}

func (q *Queries) RemoveInvitationsByType(ctx context.Context, target string, typ model.InvitationType) error {
	_, err := q.db.Exec(ctx,
		`DELETE FROM invitations WHERE target_user_name = $1 AND invitation_type = $2`, target, string(typ))
	return mapErr("remove invitations", err)
}

func (q *Queries) AppendMessage(ctx context.Context, msg model.Message) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO messages (id, room_name, user_name, text, kind, extra_class, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		msg.ID, msg.RoomName, msg.UserName, msg.Text, string(msg.Kind), msg.Extra, msg.Time)
	return mapErr("append message", err)
}

// timeBound maps a zero time to SQL NULL.
func timeBound(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: !t.IsZero()}
}

func (q *Queries) QueryMessages(ctx context.Context, mq store.MessageQuery) ([]model.Message, error) {
	limit := pgtype.Int8{Int64: int64(mq.Limit), Valid: mq.Limit > 0}

	// The inner query keeps the newest rows when a limit applies; the outer one restores ascending order.
	rows, err := q.db.Query(ctx, `
		SELECT id, room_name, user_name, text, kind, extra_class, sent_at
		FROM (
			SELECT seq, id, room_name, user_name, text, kind, extra_class, sent_at
			FROM messages
			WHERE room_name = ANY($1::text[])
			  AND ($2::timestamptz IS NULL OR sent_at > $2)
			  AND ($3::timestamptz IS NULL OR sent_at <= $3)
			ORDER BY sent_at DESC, seq DESC
			LIMIT $4
		) newest
		ORDER BY sent_at, seq`,
		mq.Rooms, timeBound(mq.After), timeBound(mq.Before), limit)
	if err != nil {
		return nil, mapErr("query messages", err)
	}

	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Message, error) {
		var (
			m    model.Message
			kind string
		)
		err := row.Scan(&m.ID, &m.RoomName, &m.UserName, &m.Text, &kind, &m.Extra, &m.Time)
		m.Kind = model.MessageKind(kind)
		return m, err
	})
	if err != nil {
		return nil, mapErr("query messages", err)
	}
	return msgs, nil
}

const archiveColumns = `archive_id, title, access_level, object_key, created_at`

func scanArchive(row pgx.Row) (model.Archive, error) {
	var a model.Archive
	err := row.Scan(&a.ArchiveID, &a.Title, &a.AccessLevel, &a.ObjectKey, &a.CreatedAt)
	return a, err
}

func (q *Queries) GetArchive(ctx context.Context, archiveID string) (model.Archive, error) {
	a, err := scanArchive(q.db.QueryRow(ctx,
		`SELECT `+archiveColumns+` FROM archives WHERE archive_id = $1`, strings.ToLower(archiveID)))
	if err != nil {
		return model.Archive{}, mapErr("get archive", err)
	}
	return a, nil
}

func (q *Queries) ListArchives(ctx context.Context, maxAccessLevel int) ([]model.Archive, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+archiveColumns+` FROM archives WHERE access_level <= $1 ORDER BY archive_id`, maxAccessLevel)
	if err != nil {
		return nil, mapErr("list archives", err)
	}
	archives, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Archive, error) {
		return scanArchive(row)
	})
	if err != nil {
		return nil, mapErr("list archives", err)
	}
	return archives, nil
}

func (q *Queries) AddArchive(ctx context.Context, archive model.Archive) error {
	if archive.CreatedAt.IsZero() {
		archive.CreatedAt = time.Now().UTC()
	}
	_, err := q.db.Exec(ctx, `
		INSERT INTO archives (`+archiveColumns+`) VALUES ($1, $2, $3, $4, $5)`,
		strings.ToLower(archive.ArchiveID), archive.Title, archive.AccessLevel, archive.ObjectKey, archive.CreatedAt)
	return mapErr("add archive", err)
}
