// Package authclient implements the one-shot credential exchange against the
// TCP credential service: one fresh connection, one request object, one
// response object, hard wall-clock timeout.
package authclient

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"time"

	"emberchat/internal/protocol"
)

const DefaultTimeout = 10 * time.Second

var (
	// ErrRequestTimeout means no complete response arrived inside the
	// configured window, counted from dial start.
	ErrRequestTimeout = errors.New("credential request timed out")

	// ErrConnectionClosedEarly means the service closed the connection
	// before a complete response object could be parsed.
	ErrConnectionClosedEarly = errors.New("connection closed before response")
)

// RemoteError is a response frame whose status is not "Success".
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "request rejected: " + e.Message
}

type Client struct {
	addr    string
	timeout time.Duration

	// dial is swappable in tests.
	dial func(addr string, timeout time.Duration) (net.Conn, error)
}

func New(addr string) *Client {
	return &Client{
		addr:    addr,
		timeout: DefaultTimeout,
		dial: func(addr string, timeout time.Duration) (net.Conn, error) {
			return net.DialTimeout("tcp", addr, timeout)
		},
	}
}

// WithTimeout overrides the per-exchange wall-clock budget.
func (c *Client) WithTimeout(d time.Duration) *Client {
	c.timeout = d
	return c
}

func (c *Client) Register(username, email, password string) (protocol.AuthPayload, error) {
	return c.authExchange(protocol.CredentialRequest{
		Type:     protocol.ReqRegister,
		Username: username,
		Email:    email,
		Password: password,
	})
}

func (c *Client) Login(username, password string) (protocol.AuthPayload, error) {
	return c.authExchange(protocol.CredentialRequest{
		Type:     protocol.ReqLogin,
		Username: username,
		Password: password,
	})
}

// ValidateSession checks a previously stored token and returns the refreshed
// payload for it.
func (c *Client) ValidateSession(token string) (protocol.AuthPayload, error) {
	return c.authExchange(protocol.CredentialRequest{
		Type:  protocol.ReqValidateSession,
		Token: token,
	})
}

func (c *Client) Logout(token string) error {
	_, err := c.exchange(protocol.CredentialRequest{
		Type:  protocol.ReqLogout,
		Token: token,
	})
	return err
}

func (c *Client) authExchange(req protocol.CredentialRequest) (protocol.AuthPayload, error) {
	resp, err := c.exchange(req)
	if err != nil {
		return protocol.AuthPayload{}, err
	}
	return resp.AuthPayload()
}

// exchange runs one full request/response cycle over a fresh connection.
// Bytes are buffered incrementally and a parse is attempted after every read;
// the first complete object resolves the call, partial reads are swallowed.
func (c *Client) exchange(req protocol.CredentialRequest) (protocol.CredentialResponse, error) {
	deadline := time.Now().Add(c.timeout)

	conn, err := c.dial(c.addr, c.timeout)
	if err != nil {
		log.Printf("[AUTHCLIENT] Dial failed for %s: %v", c.addr, err)
		return protocol.CredentialResponse{}, err
	}
	defer conn.Close()

	if err := conn.SetDeadline(deadline); err != nil {
		return protocol.CredentialResponse{}, err
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return protocol.CredentialResponse{}, err
	}
	if _, err := conn.Write(payload); err != nil {
		return protocol.CredentialResponse{}, classifyNetErr(err)
	}

	var (
		buf   []byte
		chunk = make([]byte, 4096)
	)
	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)

			var resp protocol.CredentialResponse
			if jsonErr := json.Unmarshal(buf, &resp); jsonErr == nil {
				if resp.Status != protocol.StatusSuccess {
					return protocol.CredentialResponse{}, &RemoteError{Message: resp.Message}
				}
				return resp, nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return protocol.CredentialResponse{}, ErrConnectionClosedEarly
			}
			return protocol.CredentialResponse{}, classifyNetErr(err)
		}
	}
}

func classifyNetErr(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrRequestTimeout
	}
	return err
}
