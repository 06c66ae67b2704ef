package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"time"

	"emberchat/internal/protocol"
)

// CredentialServer answers the one-shot login/registration exchanges over a
// plain TCP socket, one JSON request and one JSON response per round trip.
type CredentialServer struct {
	addr string
	auth *AuthService
}

func NewCredentialServer(addr string, auth *AuthService) *CredentialServer {
	return &CredentialServer{addr: addr, auth: auth}
}

func (s *CredentialServer) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	log.Printf("[CRED] Credential service listening on %s", s.addr)

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("[CRED] Accept error: %v", err)
			continue
		}
		go s.handleConn(ctx, conn)
	}
}

// handleConn serves request/response pairs until the peer hangs up. Requests
// are parsed incrementally so a frame split across reads is handled.
func (s *CredentialServer) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	var (
		buf   []byte
		chunk = make([]byte, 4096)
	)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Minute))

		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)

			var req protocol.CredentialRequest
			if jsonErr := json.Unmarshal(buf, &req); jsonErr == nil {
				buf = buf[:0]

				resp := s.process(ctx, req)
				payload, marshalErr := json.Marshal(resp)
				if marshalErr != nil {
					log.Printf("[CRED] Failed to serialize response: %v", marshalErr)
					return
				}
				if _, writeErr := conn.Write(payload); writeErr != nil {
					return
				}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Printf("[CRED] Connection error: %v", err)
			}
			return
		}
	}
}

func (s *CredentialServer) process(ctx context.Context, req protocol.CredentialRequest) protocol.CredentialResponse {
	opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	switch req.Type {
	case protocol.ReqRegister:
		payload, err := s.auth.Register(opCtx, req.Username, req.Email, req.Password)
		if err != nil {
			return protocol.FailureResponse(err.Error())
		}
		return protocol.SuccessResponse(payload)

	case protocol.ReqLogin:
		payload, err := s.auth.Login(opCtx, req.Username, req.Password)
		if err != nil {
			return protocol.FailureResponse(err.Error())
		}
		return protocol.SuccessResponse(payload)

	case protocol.ReqValidateSession:
		user, err := s.auth.ValidateSession(opCtx, req.Token)
		if err != nil {
			return protocol.FailureResponse(err.Error())
		}
		return protocol.SuccessResponse(protocol.AuthPayload{Token: req.Token, User: user.DTO()})

	case protocol.ReqLogout:
		if err := s.auth.Logout(opCtx, req.Token); err != nil {
			return protocol.FailureResponse(err.Error())
		}
		return protocol.SuccessResponse(map[string]string{"message": "logged out"})

	default:
		return protocol.FailureResponse("unknown request type: " + req.Type)
	}
}
