// Package dispatch turns user intents into wire commands, enforcing local
// validation and staging optimistic edit/delete state ahead of server
// confirmation.
package dispatch

import (
	"log"
	"strings"
	"time"

	"emberchat/internal/protocol"
	"emberchat/internal/state"
)

// ValidationError is the only synchronous failure a dispatch can produce;
// everything after the wire write resolves through events.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// Sender is the outbound half of the session connection.
type Sender interface {
	Send(cmd protocol.Command) error
}

const DefaultConfirmWindow = 10 * time.Second

type Dispatcher struct {
	conn  Sender
	store *state.Reconciler

	// confirmWindow bounds how long a staged edit/delete may wait for its
	// confirmation event before being rolled back.
	confirmWindow time.Duration

	// onRollback reports a timed-out optimistic mutation to the renderer's
	// error channel.
	onRollback func(messageID string, reason string)
}

func New(conn Sender, store *state.Reconciler) *Dispatcher {
	return &Dispatcher{
		conn:          conn,
		store:         store,
		confirmWindow: DefaultConfirmWindow,
	}
}

func (d *Dispatcher) WithConfirmWindow(w time.Duration) *Dispatcher {
	d.confirmWindow = w
	return d
}

func (d *Dispatcher) OnRollback(fn func(messageID string, reason string)) *Dispatcher {
	d.onRollback = fn
	return d
}

func (d *Dispatcher) CreateRoom(name, desc string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return &ValidationError{Reason: "room name cannot be empty"}
	}
	return d.conn.Send(protocol.CreateRoom{Name: name, Desc: strings.TrimSpace(desc)})
}

func (d *Dispatcher) ListRooms() error {
	return d.conn.Send(protocol.GetAllRooms{})
}

func (d *Dispatcher) JoinRoom(roomID string) error {
	if roomID == "" {
		return &ValidationError{Reason: "room id cannot be empty"}
	}
	return d.conn.Send(protocol.JoinRoom{RoomID: roomID})
}

func (d *Dispatcher) LeaveRoom(roomID string) error {
	if roomID == "" {
		return &ValidationError{Reason: "room id cannot be empty"}
	}
	return d.conn.Send(protocol.LeaveRoom{RoomID: roomID})
}

func (d *Dispatcher) SendMessage(roomID, content string, format protocol.ContentFormat) error {
	if strings.TrimSpace(content) == "" {
		return &ValidationError{Reason: "message content cannot be empty"}
	}
	if roomID == "" {
		return &ValidationError{Reason: "room id cannot be empty"}
	}
	return d.conn.Send(protocol.SendMessage{RoomID: roomID, Content: content, Format: format})
}

// EditMessage stages the new content locally, fires the wire command, and
// rolls the optimistic copy back if no confirmation lands inside the window.
func (d *Dispatcher) EditMessage(roomID, messageID, newContent string) error {
	if strings.TrimSpace(newContent) == "" {
		return &ValidationError{Reason: "edited content cannot be empty"}
	}
	gen, ok := d.store.StageEdit(roomID, messageID, newContent)
	if !ok {
		return &ValidationError{Reason: "message not found"}
	}

	if err := d.conn.Send(protocol.EditMessage{RoomID: roomID, MessageID: messageID, NewContent: newContent}); err != nil {
		d.store.RollbackGeneration(messageID, gen)
		return err
	}

	d.scheduleRollback(messageID, gen, "edit was not confirmed in time")
	return nil
}

// DeleteMessage hides the message locally and fires the wire command, with
// the same bounded-rollback discipline as EditMessage.
func (d *Dispatcher) DeleteMessage(roomID, messageID string) error {
	gen, ok := d.store.StageDelete(roomID, messageID)
	if !ok {
		return &ValidationError{Reason: "message not found"}
	}

	if err := d.conn.Send(protocol.DeleteMessage{RoomID: roomID, MessageID: messageID}); err != nil {
		d.store.RollbackGeneration(messageID, gen)
		return err
	}

	d.scheduleRollback(messageID, gen, "delete was not confirmed in time")
	return nil
}

func (d *Dispatcher) FetchHistory(roomID string, limit, offset int) error {
	if roomID == "" {
		return &ValidationError{Reason: "room id cannot be empty"}
	}
	return d.conn.Send(protocol.GetRoomHistory{RoomID: roomID, Limit: limit, Offset: offset})
}

func (d *Dispatcher) FetchMembers(roomID string) error {
	if roomID == "" {
		return &ValidationError{Reason: "room id cannot be empty"}
	}
	return d.conn.Send(protocol.GetRoomMembers{RoomID: roomID})
}

func (d *Dispatcher) UpdatePresence(p protocol.Presence) error {
	return d.conn.Send(protocol.UpdatePresence{Presence: p})
}

// scheduleRollback arms the confirm-window timer for one staging. The timer
// only fires against its own generation; a restaged op gets a fresh timer and
// this one becomes a no-op.
func (d *Dispatcher) scheduleRollback(messageID string, gen uint64, reason string) {
	time.AfterFunc(d.confirmWindow, func() {
		if !d.store.RollbackGeneration(messageID, gen) {
			return
		}
		log.Printf("[DISPATCH] Rolled back optimistic change to %s: %s", messageID, reason)
		if d.onRollback != nil {
			d.onRollback(messageID, reason)
		}
	})
}
