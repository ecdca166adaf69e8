package terminal

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/stanislavb/roleOOC/internal/app/chat"
	"github.com/stanislavb/roleOOC/internal/app/model"
)

const timeLayout = "15:04:05"

// Printer writes lines to the terminal. It is safe for concurrent use.
type Printer struct {
	mu  sync.Mutex
	out io.Writer
}

// NewPrinter returns a Printer writing to out.
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// Lines prints each line on its own row.
func (p *Printer) Lines(lines ...string) {
	if len(lines) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, l := range lines {
		fmt.Fprintln(p.out, l)
	}
}

// Prompt prints text without a line break.
func (p *Printer) Prompt(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprint(p.out, text)
}

// formatMessage renders msg the way it is shown in the chat log.
func formatMessage(msg model.Message) []string {
	prefix := fmt.Sprintf("[%s] ", msg.Time.Local().Format(timeLayout))

	switch msg.Kind {
	case model.KindWhisper:
		prefix += fmt.Sprintf("%s whispers: ", msg.UserName)
	case model.KindBroadcast:
		prefix += fmt.Sprintf("BROADCAST %s: ", msg.UserName)
	case model.KindImportant:
		prefix += fmt.Sprintf("IMPORTANT %s: ", msg.UserName)
	case model.KindMorse:
		prefix += fmt.Sprintf("%s (morse): ", msg.UserName)
	case model.KindSystem:
		prefix += "* "
	default:
		prefix += fmt.Sprintf("%s <%s>: ", msg.RoomName, msg.UserName)
	}

	if len(msg.Text) == 0 {
		return []string{prefix}
	}
	out := make([]string, 0, len(msg.Text))
	out = append(out, prefix+msg.Text[0])
	indent := strings.Repeat(" ", len(prefix))
	for _, l := range msg.Text[1:] {
		out = append(out, indent+l)
	}
	return out
}

func formatMessages(msgs []model.Message) []string {
	var out []string
	for _, m := range msgs {
		out = append(out, formatMessage(m)...)
	}
	return out
}

func formatInvitation(i int, inv model.Invitation) string {
	return fmt.Sprintf("%d. %s invitation to %s from %s (%s)", i, inv.InvitationType, inv.ItemName, inv.Sender, inv.Time.Local().Format(time.DateTime))
}

// formatPush renders a push event. ok is false for events that print nothing.
func formatPush(event string, data json.RawMessage) (lines []string, ok bool) {
	switch event {
	case chat.EventMessage, chat.EventChat, chat.EventWhisper, chat.EventBroadcast,
		chat.EventImportant, chat.EventMorse, chat.EventRoomRemoved:
		var msg model.Message
		if json.Unmarshal(data, &msg) != nil {
			return nil, false
		}
		return formatMessage(msg), true

	case chat.EventHistory, chat.EventCatchUp:
		var chunk chat.HistoryChunk
		if json.Unmarshal(data, &chunk) != nil {
			return nil, false
		}
		return formatMessages(chunk.Messages), len(chunk.Messages) > 0

	case chat.EventFollow:
		var body struct {
			Room model.Room `json:"room"`
		}
		if json.Unmarshal(data, &body) != nil {
			return nil, false
		}
		return []string{fmt.Sprintf("Following %s", body.Room.RoomName)}, true

	case chat.EventUnfollow:
		var body struct {
			RoomName string `json:"roomName"`
		}
		if json.Unmarshal(data, &body) != nil {
			return nil, false
		}
		return []string{fmt.Sprintf("Stopped following %s", body.RoomName)}, true

	case chat.EventInvitation:
		var inv model.Invitation
		if json.Unmarshal(data, &inv) != nil {
			return nil, false
		}
		return []string{fmt.Sprintf("%s invited you to the %s %s. Type invitations to answer.", inv.Sender, inv.InvitationType, inv.ItemName)}, true

	case chat.EventSessionSuperseded:
		return []string{"You have been logged in from another terminal. You are now anonymous."}, true

	case chat.EventBan:
		return []string{"You have been banned. You are now anonymous."}, true

	case chat.EventLogout:
		return []string{"You have been logged out."}, true
	}
	return nil, false
}
