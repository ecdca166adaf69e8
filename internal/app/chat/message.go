/*
Package chat contains the core of the chat server: the access policy, the connection
registry, the live room hub, the room directory, the message router, history and
catch-up delivery, the invitation workflow and the websocket client that feeds them.

This file defines the wire envelopes and the request schema of every inbound event.
Requests are decoded and validated once, before the command gate lets them reach
any component.
*/
package chat

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/stanislavb/roleOOC/internal/app/model"
	"github.com/stanislavb/roleOOC/internal/pkg/errs"
	"github.com/stanislavb/roleOOC/internal/pkg/randx"
)

const (
	// MaxTextLines is the maximum number of lines in one message.
	MaxTextLines = 50

	// MaxContentBytes is the maximum total size of a message text.
	MaxContentBytes = 5000
)

// Push events sent by the server without a matching request.
const (
	EventMessage           = "message"
	EventChat              = "chatMsg"
	EventWhisper           = "whisperMsg"
	EventBroadcast         = "broadcastMsg"
	EventImportant         = "importantMsg"
	EventMorse             = "morse"
	EventFollow            = "follow"
	EventUnfollow          = "unfollow"
	EventRoomRemoved       = "roomRemoved"
	EventHistory           = "history"
	EventCatchUp           = "catchUp"
	EventInvitation        = "invitation"
	EventSessionSuperseded = "session-superseded"
	EventLogout            = "logout"
	EventBan               = "ban"
	EventError             = "error"
)

// Request is an inbound event as read from the transport.
type Request struct {
	// Event names the command, e.g. "chatMsg".
	Event string `json:"event"`

	// RequestID is echoed on the response so clients can correlate it.
	RequestID string `json:"requestId,omitempty"`

	// Payload is decoded into the event's request schema.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Envelope is an outbound event.
type Envelope struct {
	Event     string        `json:"event"`
	RequestID string        `json:"requestId,omitempty"`
	Data      any           `json:"data,omitempty"`
	Error     *ErrorPayload `json:"error,omitempty"`
}

// ErrorPayload describes a rejected request. Silent errors carry a generic message only.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Silent  bool   `json:"silent"`
}

// HistoryChunk is one batch of a chunked history or catch-up delivery.
type HistoryChunk struct {
	Messages []model.Message `json:"messages"`
	Index    int             `json:"index"`
	Total    int             `json:"total"`
	Final    bool            `json:"final"`

	// Watermark is set on the final catch-up chunk and must be acknowledged with catchUpAck.
	Watermark *time.Time `json:"watermark,omitempty"`
}

func errorEnvelope(event, requestID string, err error) Envelope {
	customErr := errs.From(err)
	return Envelope{
		Event:     event,
		RequestID: requestID,
		Error: &ErrorPayload{
			Code:    customErr.Code,
			Message: customErr.Message,
			Silent:  customErr.Silent,
		},
	}
}

// validator is implemented by every request schema.
type validator interface {
	Validate() error
}

// decodePayload decodes raw into dst, rejecting unknown fields and trailing data, and validates it.
func decodePayload(raw json.RawMessage, dst validator) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage("{}")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errs.Wrap(errs.ErrInvalidInput, err)
	}
	if dec.More() {
		return errs.NewError(errs.ErrInvalidInput)
	}
	return dst.Validate()
}

func invalid() error {
	return errs.NewError(errs.ErrInvalidInput)
}

// validText trims trailing blank lines and checks the size limits.
func validText(lines []string) ([]string, bool) {
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) == 0 || len(lines) > MaxTextLines {
		return nil, false
	}
	size := 0
	for _, l := range lines {
		size += len(l)
	}
	return lines, size <= MaxContentBytes
}

type emptyRequest struct{}

func (emptyRequest) Validate() error { return nil }

// UserRef identifies a user in a payload.
type UserRef struct {
	UserName *string `json:"userName"`
	Password string  `json:"password,omitempty"`
}

// DeviceRef identifies the terminal a connection runs on.
type DeviceRef struct {
	DeviceID string `json:"deviceId"`
}

// UpdateIDRequest binds or rebinds a connection. A null userName keeps it anonymous.
type UpdateIDRequest struct {
	User   UserRef   `json:"user"`
	Device DeviceRef `json:"device"`
	Token  string    `json:"token,omitempty"`
}

func (r *UpdateIDRequest) Validate() error {
	if r.Device.DeviceID == "" || len(r.Device.DeviceID) > 64 || strings.ContainsAny(r.Device.DeviceID, " -") {
		return invalid()
	}
	if r.User.UserName != nil {
		if !randx.IsValidUserName(*r.User.UserName) || r.Token == "" {
			return invalid()
		}
		name := strings.ToLower(*r.User.UserName)
		r.User.UserName = &name
	}
	return nil
}

// CredentialsRequest carries a user name and password, used by login and register.
type CredentialsRequest struct {
	User   UserRef    `json:"user"`
	Device *DeviceRef `json:"device,omitempty"`
}

func (r *CredentialsRequest) Validate() error {
	if r.User.UserName == nil || !randx.IsValidUserName(*r.User.UserName) {
		return invalid()
	}
	if r.User.Password == "" || len(r.User.Password) > 72 {
		return invalid()
	}
	name := strings.ToLower(*r.User.UserName)
	r.User.UserName = &name
	return nil
}

// MessageBody is the message part of the messaging events.
type MessageBody struct {
	Text     []string `json:"text"`
	RoomName string   `json:"roomName,omitempty"`
	Whisper  *bool    `json:"whisper,omitempty"`
	SkipSelf bool     `json:"skipSelfMsg,omitempty"`
}

// MessageRequest is the payload of chatMsg, whisperMsg and broadcastMsg.
type MessageRequest struct {
	Message MessageBody `json:"message"`
}

func (r *MessageRequest) Validate() error {
	text, ok := validText(r.Message.Text)
	if !ok {
		return invalid()
	}
	r.Message.Text = text
	r.Message.RoomName = strings.ToLower(strings.TrimSpace(r.Message.RoomName))
	return nil
}

// WhisperRequest is a MessageRequest that must name its recipient and carry the whisper flag.
type WhisperRequest struct {
	MessageRequest
}

func (r *WhisperRequest) Validate() error {
	if err := r.MessageRequest.Validate(); err != nil {
		return err
	}
	if r.Message.RoomName == "" || r.Message.Whisper == nil || !*r.Message.Whisper {
		return invalid()
	}
	return nil
}

// ChatRequest is a MessageRequest addressed to a room.
type ChatRequest struct {
	MessageRequest
}

// MorseBody is the morse part of morse and important messages.
type MorseBody struct {
	MorseCode string `json:"morseCode"`
	Local     bool   `json:"local,omitempty"`
}

func (m *MorseBody) valid() bool {
	if m.MorseCode == "" || len(m.MorseCode) > 500 {
		return false
	}
	return strings.Trim(m.MorseCode, ".- /") == ""
}

// MorseRequest is the payload of morse.
type MorseRequest struct {
	MorseBody
}

func (r *MorseRequest) Validate() error {
	if !r.valid() {
		return invalid()
	}
	return nil
}

// ImportantRequest is the payload of importantMsg. A device id restricts delivery to one terminal.
type ImportantRequest struct {
	Message MessageBody `json:"message"`
	Device  *DeviceRef  `json:"device,omitempty"`
	Morse   *MorseBody  `json:"morse,omitempty"`
}

func (r *ImportantRequest) Validate() error {
	text, ok := validText(r.Message.Text)
	if !ok {
		return invalid()
	}
	r.Message.Text = text
	if r.Device != nil && r.Device.DeviceID == "" {
		return invalid()
	}
	if r.Morse != nil && !r.Morse.valid() {
		return invalid()
	}
	return nil
}

// RoomBody is the room part of room events.
type RoomBody struct {
	RoomName    string `json:"roomName"`
	Owner       string `json:"owner,omitempty"`
	Password    string `json:"password,omitempty"`
	AccessLevel int    `json:"accessLevel,omitempty"`
	Visibility  int    `json:"visibility,omitempty"`
}

// RoomRequest is the payload of follow, unfollow, switchRoom and removeRoom.
type RoomRequest struct {
	Room RoomBody `json:"room"`
}

func (r *RoomRequest) Validate() error {
	r.Room.RoomName = strings.ToLower(strings.TrimSpace(r.Room.RoomName))
	if r.Room.RoomName == "" || len(r.Room.RoomName) > 64 {
		return invalid()
	}
	return nil
}

// CreateRoomRequest is the payload of createRoom.
type CreateRoomRequest struct {
	Room RoomBody `json:"room"`
}

func (r *CreateRoomRequest) Validate() error {
	r.Room.RoomName = strings.ToLower(strings.TrimSpace(r.Room.RoomName))
	if !randx.IsValidRoomName(r.Room.RoomName) || model.IsReservedRoom(r.Room.RoomName) {
		return invalid()
	}
	if r.Room.Owner == "" || r.Room.AccessLevel < 0 || r.Room.Visibility < 0 || len(r.Room.Password) > 72 {
		return invalid()
	}
	r.Room.Owner = strings.ToLower(r.Room.Owner)
	return nil
}

// HistoryRequest is the payload of history. Every field is optional.
type HistoryRequest struct {
	Room      *RoomBody  `json:"room,omitempty"`
	Lines     int        `json:"lines,omitempty"`
	StartDate *time.Time `json:"startDate,omitempty"`
}

func (r *HistoryRequest) Validate() error {
	if r.Lines < 0 {
		return invalid()
	}
	if r.Room != nil {
		r.Room.RoomName = strings.ToLower(strings.TrimSpace(r.Room.RoomName))
		if r.Room.RoomName == "" {
			return invalid()
		}
	}
	return nil
}

// HistoryNextRequest pulls the following chunk of a history or catch-up delivery.
type HistoryNextRequest struct {
	Event string `json:"event"`
}

func (r *HistoryNextRequest) Validate() error {
	if r.Event != EventHistory && r.Event != EventCatchUp {
		return invalid()
	}
	return nil
}

// CatchUpAckRequest acknowledges a completed catch-up delivery.
type CatchUpAckRequest struct {
	Watermark time.Time `json:"watermark"`
}

func (r *CatchUpAckRequest) Validate() error {
	if r.Watermark.IsZero() {
		return invalid()
	}
	return nil
}

// InviteToRoomRequest is the payload of inviteToRoom.
type InviteToRoomRequest struct {
	User UserRef  `json:"user"`
	Room RoomBody `json:"room"`
}

func (r *InviteToRoomRequest) Validate() error {
	if r.User.UserName == nil || !randx.IsValidUserName(*r.User.UserName) {
		return invalid()
	}
	name := strings.ToLower(*r.User.UserName)
	r.User.UserName = &name
	r.Room.RoomName = strings.ToLower(strings.TrimSpace(r.Room.RoomName))
	if r.Room.RoomName == "" {
		return invalid()
	}
	return nil
}

// InviteToTeamRequest is the payload of inviteToTeam. The team is the sender's own.
type InviteToTeamRequest struct {
	User UserRef `json:"user"`
}

func (r *InviteToTeamRequest) Validate() error {
	if r.User.UserName == nil || !randx.IsValidUserName(*r.User.UserName) {
		return invalid()
	}
	name := strings.ToLower(*r.User.UserName)
	r.User.UserName = &name
	return nil
}

// InvitationRef identifies a pending invitation of the caller.
type InvitationRef struct {
	ItemName       string               `json:"itemName"`
	InvitationType model.InvitationType `json:"invitationType,omitempty"`
}

// AnswerRequest is the payload of roomAnswer and teamAnswer.
type AnswerRequest struct {
	Invitation InvitationRef `json:"invitation"`
	Accepted   bool          `json:"accepted"`
}

func (r *AnswerRequest) Validate() error {
	r.Invitation.ItemName = strings.ToLower(strings.TrimSpace(r.Invitation.ItemName))
	if r.Invitation.ItemName == "" {
		return invalid()
	}
	if r.Invitation.InvitationType != "" && !r.Invitation.InvitationType.Valid() {
		return invalid()
	}
	return nil
}

// TeamRequest is the payload of createTeam and getTeam.
type TeamRequest struct {
	Team struct {
		TeamName string `json:"teamName"`
	} `json:"team"`
}

func (r *TeamRequest) Validate() error {
	r.Team.TeamName = strings.ToLower(strings.TrimSpace(r.Team.TeamName))
	if !randx.IsValidRoomName(r.Team.TeamName) {
		return invalid()
	}
	return nil
}

// Fields that updateUser and updateRoom may change.
const (
	FieldVisibility  = "visibility"
	FieldAccessLevel = "accesslevel"
)

// UpdateRequest is the payload of updateUser and updateRoom. Name is a user or a room.
type UpdateRequest struct {
	Name  string `json:"name"`
	Field string `json:"field"`
	Value int    `json:"value"`
}

func (r *UpdateRequest) Validate() error {
	r.Name = strings.ToLower(strings.TrimSpace(r.Name))
	r.Field = strings.ToLower(r.Field)
	if r.Name == "" || r.Value < 0 {
		return invalid()
	}
	if r.Field != FieldVisibility && r.Field != FieldAccessLevel {
		return invalid()
	}
	return nil
}

// UserNameRequest is the payload of ban, unban and verifyUser.
type UserNameRequest struct {
	User UserRef `json:"user"`
}

func (r *UserNameRequest) Validate() error {
	if r.User.UserName == nil || !randx.IsValidUserName(*r.User.UserName) {
		return invalid()
	}
	name := strings.ToLower(*r.User.UserName)
	r.User.UserName = &name
	return nil
}

// PasswordRequest is the payload of checkPassword and changePassword. checkPassword
// only reads OldPassword.
type PasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword,omitempty"`
}

func (r *PasswordRequest) Validate() error {
	if r.OldPassword == "" || len(r.OldPassword) > 72 || len(r.NewPassword) > 72 {
		return invalid()
	}
	return nil
}

// PartialNameRequest is the payload of matchPartialUser. An empty name matches every user.
type PartialNameRequest struct {
	PartialName string `json:"partialName"`
}

func (r *PartialNameRequest) Validate() error {
	r.PartialName = strings.ToLower(strings.TrimSpace(r.PartialName))
	if len(r.PartialName) > 20 {
		return invalid()
	}
	return nil
}

// ArchiveRequest is the payload of getArchive.
type ArchiveRequest struct {
	ArchiveID string `json:"archiveId"`
}

func (r *ArchiveRequest) Validate() error {
	r.ArchiveID = strings.ToLower(strings.TrimSpace(r.ArchiveID))
	if r.ArchiveID == "" {
		return invalid()
	}
	return nil
}
