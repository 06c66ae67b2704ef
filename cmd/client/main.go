// Command client is a minimal line-oriented consumer of the chat core. It
// renders state transitions as log lines and forwards slash commands into the
// dispatcher; anything fancier is expected to live in a real frontend.
package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"emberchat/internal/authclient"
	"emberchat/internal/config"
	"emberchat/internal/dispatch"
	"emberchat/internal/protocol"
	"emberchat/internal/session"
	"emberchat/internal/state"
)

// storedSession is the {token,user} pair carried across restarts. The core
// never touches this file; persistence is strictly this consumer's job.
type storedSession struct {
	Token string        `json:"token"`
	User  protocol.User `json:"user"`
}

func sessionPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "emberchat", "session.json")
}

func loadStoredSession() (*storedSession, error) {
	data, err := os.ReadFile(sessionPath())
	if err != nil {
		return nil, err
	}
	var s storedSession
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func saveStoredSession(s *storedSession) {
	path := sessionPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		log.Printf("Failed to prepare session dir: %v", err)
		return
	}
	data, _ := json.Marshal(s)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		log.Printf("Failed to persist session: %v", err)
	}
}

func clearStoredSession() {
	_ = os.Remove(sessionPath())
}

// authenticate resolves a usable token: stored session first, then login,
// then registration. A registration that reports an existing user falls back
// to exactly one login attempt.
func authenticate(creds *authclient.Client, username, email, password string) (protocol.AuthPayload, error) {
	if stored, err := loadStoredSession(); err == nil && stored.Token != "" {
		payload, err := creds.ValidateSession(stored.Token)
		if err == nil {
			log.Printf("Resumed session for %s", payload.User.Username)
			return payload, nil
		}
		log.Printf("Stored session rejected, logging in again")
		clearStoredSession()
	}

	payload, err := creds.Register(username, email, password)
	if err == nil {
		return payload, nil
	}

	var remote *authclient.RemoteError
	if errors.As(err, &remote) && strings.Contains(strings.ToLower(remote.Message), "exists") {
		return creds.Login(username, password)
	}
	return protocol.AuthPayload{}, err
}

func main() {
	username := flag.String("user", "", "username")
	email := flag.String("email", "", "email (used when registering)")
	password := flag.String("pass", "", "password")
	flag.Parse()

	if *username == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "usage: client -user NAME -email ADDR -pass SECRET")
		os.Exit(2)
	}

	cfg := config.LoadClient()

	creds := authclient.New(cfg.CredAddr).WithTimeout(cfg.AuthTimeout)
	payload, err := authenticate(creds, *username, *email, *password)
	if err != nil {
		log.Fatalf("Authentication failed: %v", err)
	}
	saveStoredSession(&storedSession{Token: payload.Token, User: payload.User})

	store := state.NewReconciler()

	conn := session.New(session.Options{
		URL:            cfg.ChatURL,
		AutoReconnect:  cfg.AutoReconnect,
		ReconnectDelay: cfg.ReconnectDelay,
		OnConnectionLost: func(err error) {
			log.Printf("!! connection lost: %v", err)
		},
	})

	unsubscribe := conn.Subscribe(func(evt protocol.Event) {
		delta := store.Apply(evt)
		render(store, delta)
	})
	defer unsubscribe()

	if err := conn.Connect(payload.Token); err != nil {
		log.Fatalf("Failed to connect to chat service: %v", err)
	}
	defer conn.Disconnect()

	d := dispatch.New(conn, store).
		WithConfirmWindow(cfg.CommandTimeout).
		OnRollback(func(messageID, reason string) {
			log.Printf("!! %s: %s", messageID, reason)
		})

	repl(d, store, creds, payload.Token)
}

func render(store *state.Reconciler, delta state.Delta) {
	switch delta.Kind {
	case protocol.EvtAuthenticated:
		log.Printf("** authenticated as %s", store.Username())
	case protocol.EvtRoomCreated, protocol.EvtRoomJoined:
		log.Printf("** joined room %s (current: %s)", delta.RoomID, store.CurrentRoomID())
	case protocol.EvtRoomLeft:
		log.Printf("** left room %s (current: %s)", delta.RoomID, store.CurrentRoomID())
	case protocol.EvtRoomList:
		for _, room := range store.AvailableRooms() {
			log.Printf("   room %s  %s: %s", room.ID, room.Name, room.Desc)
		}
	case protocol.EvtNewMessage, protocol.EvtMessageEdited, protocol.EvtMessageDeleted, protocol.EvtRoomHistory:
		for _, msg := range store.VisibleMessages(delta.RoomID) {
			edited := ""
			if msg.IsEdited {
				edited = " (edited)"
			}
			log.Printf("   [%s] %s: %s%s", msg.SentAt.Format("15:04:05"), msg.SenderUsername, msg.Content, edited)
		}
	case protocol.EvtRoomMembers:
		for _, member := range store.Members(delta.RoomID) {
			log.Printf("   member %s (%s)", member.Username, member.Presence)
		}
	case protocol.EvtError:
		log.Printf("!! server error: %s", delta.Error)
	}
}

func repl(d *dispatch.Dispatcher, store *state.Reconciler, creds *authclient.Client, token string) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("commands: /rooms /create /join /leave /history /members /edit /delete /presence /quit (anything else sends to the current room)")

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var err error
		switch {
		case line == "/quit":
			if logoutErr := creds.Logout(token); logoutErr != nil {
				log.Printf("Logout failed: %v", logoutErr)
			}
			clearStoredSession()
			return

		case line == "/rooms":
			err = d.ListRooms()

		case strings.HasPrefix(line, "/create "):
			name, desc, _ := strings.Cut(strings.TrimPrefix(line, "/create "), "|")
			err = d.CreateRoom(name, desc)

		case strings.HasPrefix(line, "/join "):
			err = d.JoinRoom(strings.TrimSpace(strings.TrimPrefix(line, "/join ")))

		case strings.HasPrefix(line, "/leave"):
			err = d.LeaveRoom(store.CurrentRoomID())

		case strings.HasPrefix(line, "/history"):
			limit := 50
			if arg := strings.TrimSpace(strings.TrimPrefix(line, "/history")); arg != "" {
				if n, convErr := strconv.Atoi(arg); convErr == nil {
					limit = n
				}
			}
			err = d.FetchHistory(store.CurrentRoomID(), limit, 0)

		case line == "/members":
			err = d.FetchMembers(store.CurrentRoomID())

		case strings.HasPrefix(line, "/edit "):
			id, content, ok := strings.Cut(strings.TrimPrefix(line, "/edit "), " ")
			if !ok {
				log.Println("usage: /edit MESSAGE_ID NEW_CONTENT")
				continue
			}
			err = d.EditMessage(store.CurrentRoomID(), id, content)

		case strings.HasPrefix(line, "/delete "):
			err = d.DeleteMessage(store.CurrentRoomID(), strings.TrimSpace(strings.TrimPrefix(line, "/delete ")))

		case strings.HasPrefix(line, "/presence "):
			err = d.UpdatePresence(protocol.Presence(strings.TrimSpace(strings.TrimPrefix(line, "/presence "))))

		default:
			err = d.SendMessage(store.CurrentRoomID(), line, protocol.FormatText)
		}

		if err != nil {
			log.Printf("!! %v", err)
		}
	}
}
