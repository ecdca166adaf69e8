package terminal

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/stanislavb/roleOOC/internal/app/chat"
	"github.com/stanislavb/roleOOC/internal/app/command"
	"github.com/stanislavb/roleOOC/internal/app/model"
	"github.com/stanislavb/roleOOC/internal/pkg/errs"
	"github.com/stanislavb/roleOOC/internal/pkg/randx"
)

var errUsage = errors.New("invalid arguments")

func usage(cmd string) error {
	return fmt.Errorf("%w. Usage: %s", errUsage, cmd)
}

func (a *App) registerCommands() error {
	cmds := []command.Command{
		{Name: "help", Usage: "help", Run: a.help},
		{Name: "msg", Usage: "msg <text>", Run: a.msg},
		{Name: "whisper", Usage: "whisper <user> <text>", Run: a.whisper},
		{Name: "broadcast", Usage: "broadcast <text>", Run: a.broadcast},
		{Name: "important", Usage: "important [@device] <text>", Run: a.important},
		{Name: "morse", Usage: "morse [-local] <code>", Run: a.morse},
		{Name: "follow", Usage: "follow <room> [password]", Run: a.follow},
		{Name: "unfollow", Usage: "unfollow <room>", Run: a.unfollow},
		{Name: "switch", Usage: "switch <room>", Run: a.switchRoom},
		{Name: "createroom", Usage: "createroom <room> [password]", Run: a.createRoom},
		{Name: "removeroom", Usage: "removeroom <room>", Run: a.removeRoom},
		{Name: "history", Usage: "history [room] [lines]", Run: a.history},
		{Name: "rooms", Usage: "rooms", Run: a.rooms},
		{Name: "users", Usage: "users", Run: a.users},
		{Name: "myrooms", Usage: "myrooms", Run: a.myRooms},
		{Name: "inviteroom", Usage: "inviteroom <user> <room>", Run: a.inviteRoom},
		{Name: "inviteteam", Usage: "inviteteam <user>", Run: a.inviteTeam},
		{Name: "createteam", Usage: "createteam <team>", Run: a.createTeam},
		{Name: "whoami", Usage: "whoami", Run: a.whoAmI},
		{Name: "time", Usage: "time", Run: a.serverTime},
		{Name: "archive", Usage: "archive <id>", Run: a.archive},
		{Name: "archives", Usage: "archives", Run: a.archives},
		{Name: "logout", Usage: "logout", Run: a.logout},
		{Name: "finduser", Usage: "finduser <partial name>", Run: a.findUser},
		{Name: "banned", Usage: "banned", Run: a.bannedUsers},
		{Name: "unverified", Usage: "unverified", Run: a.unverifiedUsers},
		{Name: "verifyall", Usage: "verifyall", Run: a.verifyAll},
		{
			Name:   "login",
			Usage:  "login [user]",
			Steps:  []command.Step{a.loginUser, a.loginPassword},
			Secret: []int{1},
		},
		{
			Name:     "register",
			Usage:    "register [user]",
			Steps:    []command.Step{a.registerUser, a.registerPassword, a.registerRepeat},
			Fallback: 1,
			Secret:   []int{1, 2},
		},
		{
			Name:     "password",
			Usage:    "password",
			Steps:    []command.Step{a.passwordCurrent, a.passwordNew, a.passwordRepeat},
			Fallback: 1,
			Secret:   []int{0, 1, 2},
		},
		{
			Name:     "hackroom",
			Usage:    "hackroom <room>",
			Steps:    []command.Step{a.hackTarget, a.hackSequence, a.hackSequence},
			Fallback: 1,
		},
		{
			Name:  "invitations",
			Usage: "invitations",
			Steps: []command.Step{a.invitationsStart, a.invitationsChoose, a.invitationsAnswer},
		},
	}

	for _, c := range cmds {
		if err := a.engine.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) help(context.Context, []string) ([]string, error) {
	out := []string{"Commands (type exit, cancel or abort to leave a running command):"}
	for _, c := range a.engine.Commands() {
		out = append(out, "  "+c.Usage)
	}
	return out, nil
}

func text(args []string) []string {
	return []string{strings.Join(args, " ")}
}

func (a *App) msg(ctx context.Context, args []string) ([]string, error) {
	if len(args) == 0 {
		return nil, usage("msg <text>")
	}
	req := chat.MessageRequest{Message: chat.MessageBody{Text: text(args), RoomName: a.Room()}}
	return nil, a.request(ctx, chat.EventChat, req, nil)
}

func (a *App) whisper(ctx context.Context, args []string) ([]string, error) {
	if len(args) < 2 {
		return nil, usage("whisper <user> <text>")
	}
	whisper := true
	req := chat.MessageRequest{Message: chat.MessageBody{Text: text(args[1:]), RoomName: args[0], Whisper: &whisper}}
	return nil, a.request(ctx, chat.EventWhisper, req, nil)
}

func (a *App) broadcast(ctx context.Context, args []string) ([]string, error) {
	if len(args) == 0 {
		return nil, usage("broadcast <text>")
	}
	req := chat.MessageRequest{Message: chat.MessageBody{Text: text(args)}}
	return nil, a.request(ctx, chat.EventBroadcast, req, nil)
}

func (a *App) important(ctx context.Context, args []string) ([]string, error) {
	var req chat.ImportantRequest
	if len(args) > 0 && strings.HasPrefix(args[0], "@") {
		req.Device = &chat.DeviceRef{DeviceID: strings.TrimPrefix(args[0], "@")}
		args = args[1:]
	}
	if len(args) == 0 {
		return nil, usage("important [@device] <text>")
	}
	req.Message.Text = text(args)
	return []string{"Sent."}, a.request(ctx, chat.EventImportant, req, nil)
}

func (a *App) morse(ctx context.Context, args []string) ([]string, error) {
	var req chat.MorseRequest
	if len(args) > 0 && args[0] == "-local" {
		req.Local = true
		args = args[1:]
	}
	if len(args) == 0 {
		return nil, usage("morse [-local] <code>")
	}
	req.MorseCode = strings.Join(args, " ")
	return nil, a.request(ctx, chat.EventMorse, req, nil)
}

func (a *App) follow(ctx context.Context, args []string) ([]string, error) {
	if len(args) == 0 || len(args) > 2 {
		return nil, usage("follow <room> [password]")
	}
	req := chat.RoomRequest{Room: chat.RoomBody{RoomName: args[0]}}
	if len(args) == 2 {
		req.Room.Password = args[1]
	}
	return nil, a.request(ctx, "follow", req, nil)
}

func (a *App) unfollow(ctx context.Context, args []string) ([]string, error) {
	if len(args) != 1 {
		return nil, usage("unfollow <room>")
	}
	if err := a.request(ctx, "unfollow", chat.RoomRequest{Room: chat.RoomBody{RoomName: args[0]}}, nil); err != nil {
		return nil, err
	}
	if strings.EqualFold(args[0], a.Room()) {
		a.setRoom(model.PublicRoom)
	}
	return nil, nil
}

func (a *App) switchRoom(ctx context.Context, args []string) ([]string, error) {
	if len(args) != 1 {
		return nil, usage("switch <room>")
	}
	var reply struct {
		RoomName string `json:"roomName"`
	}
	if err := a.request(ctx, "switchRoom", chat.RoomRequest{Room: chat.RoomBody{RoomName: args[0]}}, &reply); err != nil {
		return nil, err
	}
	a.setRoom(reply.RoomName)
	return []string{"Sending messages to " + reply.RoomName}, nil
}

func (a *App) createRoom(ctx context.Context, args []string) ([]string, error) {
	if len(args) == 0 || len(args) > 2 {
		return nil, usage("createroom <room> [password]")
	}
	req := chat.CreateRoomRequest{Room: chat.RoomBody{RoomName: args[0], Owner: a.UserName()}}
	if len(args) == 2 {
		req.Room.Password = args[1]
	}
	var room model.Room
	if err := a.request(ctx, "createRoom", req, &room); err != nil {
		return nil, err
	}
	return []string{"Created room " + room.RoomName}, nil
}

func (a *App) removeRoom(ctx context.Context, args []string) ([]string, error) {
	if len(args) != 1 {
		return nil, usage("removeroom <room>")
	}
	if err := a.request(ctx, "removeRoom", chat.RoomRequest{Room: chat.RoomBody{RoomName: args[0]}}, nil); err != nil {
		return nil, err
	}
	return []string{"Removed room " + strings.ToLower(args[0])}, nil
}

func (a *App) history(ctx context.Context, args []string) ([]string, error) {
	var req chat.HistoryRequest
	for _, arg := range args {
		if n, err := strconv.Atoi(arg); err == nil && n > 0 {
			req.Lines = n
			continue
		}
		if req.Room != nil {
			return nil, usage("history [room] [lines]")
		}
		req.Room = &chat.RoomBody{RoomName: arg}
	}

	var res chat.HistoryResult
	if err := a.request(ctx, "history", req, &res); err != nil {
		return nil, err
	}
	if res.Messages == 0 {
		return []string{"No messages."}, nil
	}
	return nil, nil
}

func (a *App) rooms(ctx context.Context, _ []string) ([]string, error) {
	var rooms []chat.RoomInfo
	if err := a.request(ctx, "listRooms", nil, &rooms); err != nil {
		return nil, err
	}
	if len(rooms) == 0 {
		return []string{"No rooms."}, nil
	}
	out := []string{"Rooms:"}
	for _, r := range rooms {
		line := fmt.Sprintf("  %s (owner %s)", r.RoomName, r.Owner)
		if r.Protected {
			line += " [password]"
		}
		out = append(out, line)
	}
	return out, nil
}

func (a *App) users(ctx context.Context, _ []string) ([]string, error) {
	var list chat.UserList
	if err := a.request(ctx, "listUsers", nil, &list); err != nil {
		return nil, err
	}
	return []string{
		"Online: " + joinOrNone(list.Online),
		"Offline: " + joinOrNone(list.Offline),
	}, nil
}

func (a *App) myRooms(ctx context.Context, _ []string) ([]string, error) {
	var mine chat.MyRooms
	if err := a.request(ctx, "myRooms", nil, &mine); err != nil {
		return nil, err
	}
	return []string{
		"Following: " + joinOrNone(mine.Following),
		"Owned: " + joinOrNone(mine.Owned),
	}, nil
}

func joinOrNone(names []string) string {
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ", ")
}

func (a *App) inviteRoom(ctx context.Context, args []string) ([]string, error) {
	if len(args) != 2 {
		return nil, usage("inviteroom <user> <room>")
	}
	req := chat.InviteToRoomRequest{User: chat.UserRef{UserName: &args[0]}, Room: chat.RoomBody{RoomName: args[1]}}
	if err := a.request(ctx, "inviteToRoom", req, nil); err != nil {
		return nil, err
	}
	return []string{fmt.Sprintf("Invited %s to %s", args[0], args[1])}, nil
}

func (a *App) inviteTeam(ctx context.Context, args []string) ([]string, error) {
	if len(args) != 1 {
		return nil, usage("inviteteam <user>")
	}
	if err := a.request(ctx, "inviteToTeam", chat.InviteToTeamRequest{User: chat.UserRef{UserName: &args[0]}}, nil); err != nil {
		return nil, err
	}
	return []string{fmt.Sprintf("Invited %s to your team", args[0])}, nil
}

func (a *App) createTeam(ctx context.Context, args []string) ([]string, error) {
	if len(args) != 1 {
		return nil, usage("createteam <team>")
	}
	var req chat.TeamRequest
	req.Team.TeamName = args[0]
	var team model.Team
	if err := a.request(ctx, "createTeam", req, &team); err != nil {
		return nil, err
	}
	return []string{"Created team " + team.TeamName}, nil
}

func (a *App) whoAmI(ctx context.Context, _ []string) ([]string, error) {
	var who chat.WhoAmI
	if err := a.request(ctx, "whoAmI", nil, &who); err != nil {
		return nil, err
	}
	out := []string{
		"User: " + who.User.UserName,
		fmt.Sprintf("Access level: %d", who.User.AccessLevel),
		"Device: " + who.DeviceID,
		"Rooms: " + joinOrNone(who.Rooms),
	}
	if who.User.Team != "" {
		out = append(out, "Team: "+who.User.Team)
	}
	return out, nil
}

func (a *App) serverTime(ctx context.Context, _ []string) ([]string, error) {
	var reply struct {
		Time time.Time `json:"time"`
	}
	if err := a.request(ctx, "time", nil, &reply); err != nil {
		return nil, err
	}
	return []string{reply.Time.Local().Format(time.DateTime)}, nil
}

func (a *App) archive(ctx context.Context, args []string) ([]string, error) {
	if len(args) != 1 {
		return nil, usage("archive <id>")
	}
	var doc struct {
		model.Archive
		Text []string `json:"text"`
	}
	if err := a.request(ctx, "getArchive", chat.ArchiveRequest{ArchiveID: args[0]}, &doc); err != nil {
		return nil, err
	}
	return append([]string{doc.Title, strings.Repeat("-", len(doc.Title))}, doc.Text...), nil
}

func (a *App) archives(ctx context.Context, _ []string) ([]string, error) {
	var list []model.Archive
	if err := a.request(ctx, "getArchivesList", nil, &list); err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return []string{"No archives."}, nil
	}
	out := make([]string, 0, len(list))
	for _, ar := range list {
		out = append(out, fmt.Sprintf("  %s  %s", ar.ArchiveID, ar.Title))
	}
	return out, nil
}

func (a *App) logout(ctx context.Context, _ []string) ([]string, error) {
	if err := a.request(ctx, "logout", nil, nil); err != nil {
		return nil, err
	}
	a.setIdentity("", "")
	return []string{"Logged out."}, nil
}

func hold(lines ...string) (command.Result, error) {
	return command.Result{Action: command.Hold, Output: lines}, nil
}

func advance(lines ...string) (command.Result, error) {
	return command.Result{Action: command.Advance, Output: lines}, nil
}

func (a *App) loginUser(_ context.Context, f *command.Flow, input string) (command.Result, error) {
	if input == "" {
		return hold("User name:")
	}
	f.Set("userName", strings.ToLower(input))
	return advance("Password:")
}

// loginPassword starts over at the user name when the password is empty or rejected.
func (a *App) loginPassword(ctx context.Context, f *command.Flow, input string) (command.Result, error) {
	if input == "" {
		return command.Result{Action: command.Rewind, Output: []string{"Empty password.", "User name:"}}, nil
	}

	userName := f.String("userName")
	req := chat.CredentialsRequest{
		User:   chat.UserRef{UserName: &userName, Password: input},
		Device: &chat.DeviceRef{DeviceID: a.deviceID},
	}
	var res chat.SessionResult
	err := a.request(ctx, "login", req, &res)
	if isAuthFailure(err) {
		return command.Result{Action: command.Rewind, Output: []string{"Failed to login.", "User name:"}}, nil
	}
	if err != nil {
		return command.Result{}, err
	}

	a.setIdentity(res.User.UserName, res.Token)
	a.setRoom(model.PublicRoom)
	return command.Result{Action: command.Finish, Output: []string{"Logged in as " + res.User.UserName}}, nil
}

func (a *App) registerUser(ctx context.Context, f *command.Flow, input string) (command.Result, error) {
	if input == "" {
		return hold("User name:")
	}
	name := strings.ToLower(input)
	if !randx.IsValidUserName(name) {
		return hold("User names are 2 to 20 letters or digits.", "User name:")
	}

	var reply struct {
		Exists bool `json:"exists"`
	}
	if err := a.request(ctx, "userExists", chat.UserNameRequest{User: chat.UserRef{UserName: &name}}, &reply); err != nil {
		return command.Result{}, err
	}
	if reply.Exists {
		return hold("User with that name already exists.", "User name:")
	}
	f.Set("userName", name)
	return advance("Password:")
}

func (a *App) registerPassword(_ context.Context, f *command.Flow, input string) (command.Result, error) {
	if input == "" {
		return hold("Password:")
	}
	f.Set("password", input)
	return advance("Repeat password:")
}

// registerRepeat asks for the password again when the two inputs differ.
func (a *App) registerRepeat(ctx context.Context, f *command.Flow, input string) (command.Result, error) {
	if input != f.String("password") {
		return command.Result{Action: command.Rewind, Output: []string{"Passwords do not match.", "Password:"}}, nil
	}

	userName := f.String("userName")
	req := chat.CredentialsRequest{User: chat.UserRef{UserName: &userName, Password: input}}
	var user model.User
	if err := a.request(ctx, "register", req, &user); err != nil {
		return command.Result{}, err
	}

	out := []string{fmt.Sprintf("Registered %s. Type login to log in.", user.UserName)}
	if !user.Verified {
		out = append(out, "The account has to be verified by an administrator first.")
	}
	return command.Result{Action: command.Finish, Output: out}, nil
}

func (a *App) invitationsStart(ctx context.Context, f *command.Flow, _ string) (command.Result, error) {
	var list []model.Invitation
	if err := a.request(ctx, "getInvitations", nil, &list); err != nil {
		return command.Result{}, err
	}
	if len(list) == 0 {
		return command.Result{Action: command.Finish, Output: []string{"You have no invitations."}}, nil
	}

	f.Set("invitations", list)
	out := make([]string, 0, len(list)+1)
	for i, inv := range list {
		out = append(out, formatInvitation(i+1, inv))
	}
	return advance(append(out, "Choose an invitation:")...)
}

func (a *App) invitationsChoose(_ context.Context, f *command.Flow, input string) (command.Result, error) {
	v, _ := f.Get("invitations")
	list, _ := v.([]model.Invitation)

	n, err := strconv.Atoi(input)
	if err != nil || n < 1 || n > len(list) {
		return hold(fmt.Sprintf("Type a number between 1 and %d:", len(list)))
	}
	f.Set("choice", list[n-1])
	return advance("Accept? (yes/no)")
}

func (a *App) invitationsAnswer(ctx context.Context, f *command.Flow, input string) (command.Result, error) {
	var accepted bool
	switch strings.ToLower(input) {
	case "y", "yes":
		accepted = true
	case "n", "no":
	default:
		return hold("Accept? (yes/no)")
	}

	v, _ := f.Get("choice")
	inv, _ := v.(model.Invitation)

	event := "roomAnswer"
	if inv.InvitationType == model.InvitationTeam {
		event = "teamAnswer"
	}
	req := chat.AnswerRequest{
		Invitation: chat.InvitationRef{ItemName: inv.ItemName, InvitationType: inv.InvitationType},
		Accepted:   accepted,
	}
	if err := a.request(ctx, event, req, nil); err != nil {
		return command.Result{}, err
	}

	if accepted {
		return command.Result{Action: command.Finish, Output: []string{fmt.Sprintf("Joined the %s %s", inv.InvitationType, inv.ItemName)}}, nil
	}
	return command.Result{Action: command.Finish, Output: []string{"Declined the invitation to " + inv.ItemName}}, nil
}

func (a *App) findUser(ctx context.Context, args []string) ([]string, error) {
	if len(args) != 1 {
		return nil, usage("finduser <partial name>")
	}
	var match chat.UserMatch
	if err := a.request(ctx, "matchPartialUser", chat.PartialNameRequest{PartialName: args[0]}, &match); err != nil {
		return nil, err
	}
	if match.Matched != "" {
		return []string{"Found " + match.Matched}, nil
	}
	return []string{"Matching users: " + joinOrNone(match.Names)}, nil
}

func (a *App) listNames(ctx context.Context, event, title string) ([]string, error) {
	var reply struct {
		Users []string `json:"users"`
	}
	if err := a.request(ctx, event, nil, &reply); err != nil {
		return nil, err
	}
	return []string{title + ": " + joinOrNone(reply.Users)}, nil
}

func (a *App) bannedUsers(ctx context.Context, _ []string) ([]string, error) {
	return a.listNames(ctx, "bannedUsers", "Banned")
}

func (a *App) unverifiedUsers(ctx context.Context, _ []string) ([]string, error) {
	return a.listNames(ctx, "unverifiedUsers", "Unverified")
}

func (a *App) verifyAll(ctx context.Context, _ []string) ([]string, error) {
	var reply struct {
		Verified []string `json:"verified"`
	}
	if err := a.request(ctx, "verifyAllUsers", nil, &reply); err != nil {
		return nil, err
	}
	return []string{"Verified: " + joinOrNone(reply.Verified)}, nil
}

func (a *App) passwordCurrent(ctx context.Context, f *command.Flow, input string) (command.Result, error) {
	if input == "" {
		return hold("Current password:")
	}
	err := a.request(ctx, "checkPassword", chat.PasswordRequest{OldPassword: input}, nil)
	if isAuthFailure(err) {
		return command.Result{Action: command.Finish, Output: []string{"Incorrect password."}}, nil
	}
	if err != nil {
		return command.Result{}, err
	}
	f.Set("oldPassword", input)
	return advance("New password:")
}

func (a *App) passwordNew(_ context.Context, f *command.Flow, input string) (command.Result, error) {
	if input == "" {
		return hold("New password:")
	}
	f.Set("newPassword", input)
	return advance("Repeat new password:")
}

// passwordRepeat asks for the new password again when the two inputs differ.
func (a *App) passwordRepeat(ctx context.Context, f *command.Flow, input string) (command.Result, error) {
	if input != f.String("newPassword") {
		return command.Result{Action: command.Rewind, Output: []string{"Passwords do not match.", "New password:"}}, nil
	}
	req := chat.PasswordRequest{OldPassword: f.String("oldPassword"), NewPassword: input}
	if err := a.request(ctx, "changePassword", req, nil); err != nil {
		return command.Result{}, err
	}
	return command.Result{Action: command.Finish, Output: []string{"Password has been changed."}}, nil
}

const (
	// hackSequenceLength is the length of each sequence typed during a room hack.
	hackSequenceLength = 6

	// hackAttempts is the number of mistyped sequences that abort a room hack.
	hackAttempts = 3
)

// hackTarget checks the room can be hacked and shows the first sequence.
func (a *App) hackTarget(ctx context.Context, f *command.Flow, input string) (command.Result, error) {
	if input == "" {
		return hold("Room name:")
	}
	var reply struct {
		RoomName string `json:"roomName"`
	}
	err := a.request(ctx, "roomHackable", chat.RoomRequest{Room: chat.RoomBody{RoomName: input}}, &reply)
	if remoteCode(err) == errs.ErrUnauthorized {
		return command.Result{Action: command.Finish, Output: []string{"Room is not hackable by you or does not exist."}}, nil
	}
	if err != nil {
		return command.Result{}, err
	}
	f.Set("room", reply.RoomName)
	f.Set("stage", 0)
	f.Set("misses", 0)

	prompt, err := nextSequence(f)
	if err != nil {
		return command.Result{}, err
	}
	return advance("Bypassing the security of "+reply.RoomName+".", prompt)
}

// hackSequence checks one typed sequence. A mistake restarts the sequences from the
// first one until hackAttempts mistakes abort the hack.
func (a *App) hackSequence(ctx context.Context, f *command.Flow, input string) (command.Result, error) {
	if input != f.String("sequence") {
		misses := flowInt(f, "misses") + 1
		if misses >= hackAttempts {
			return command.Result{Action: command.Finish, Output: []string{"Intrusion detected. Hack aborted."}}, nil
		}
		f.Set("misses", misses)
		f.Set("stage", 0)
		prompt, err := nextSequence(f)
		if err != nil {
			return command.Result{}, err
		}
		return command.Result{Action: command.Rewind, Output: []string{"Sequence rejected. Starting over.", prompt}}, nil
	}

	stage := flowInt(f, "stage") + 1
	if stage < 2 {
		f.Set("stage", stage)
		prompt, err := nextSequence(f)
		if err != nil {
			return command.Result{}, err
		}
		return advance(prompt)
	}

	room := f.String("room")
	if err := a.request(ctx, "hackRoom", chat.RoomRequest{Room: chat.RoomBody{RoomName: room}}, nil); err != nil {
		return command.Result{}, err
	}
	return command.Result{Action: command.Finish, Output: []string{"Access granted. Following " + room}}, nil
}

func nextSequence(f *command.Flow) (string, error) {
	seq, err := randx.Code(hackSequenceLength)
	if err != nil {
		return "", err
	}
	f.Set("sequence", seq)
	return "Type the sequence: " + seq, nil
}

func flowInt(f *command.Flow, key string) int {
	v, _ := f.Get(key)
	n, _ := v.(int)
	return n
}
