package protocol

import (
	"encoding/json"
	"fmt"
)

// Credential exchange request kinds, one request/response pair per TCP
// connection.
const (
	ReqRegister        = "Register"
	ReqLogin           = "Login"
	ReqValidateSession = "ValidateSession"
	ReqLogout          = "Logout"
)

const StatusSuccess = "Success"

type CredentialRequest struct {
	Type     string `json:"type"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password,omitempty"`
	Token    string `json:"token,omitempty"`
}

// CredentialResponse carries either Data (status "Success") or Message.
type CredentialResponse struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// AuthPayload is the Data of a successful Register/Login/ValidateSession.
type AuthPayload struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

func (r CredentialResponse) AuthPayload() (AuthPayload, error) {
	var p AuthPayload
	if err := json.Unmarshal(r.Data, &p); err != nil {
		return AuthPayload{}, fmt.Errorf("decode auth payload: %w", err)
	}
	return p, nil
}

func SuccessResponse(data any) CredentialResponse {
	raw, err := json.Marshal(data)
	if err != nil {
		return FailureResponse("failed to serialize response")
	}
	return CredentialResponse{Status: StatusSuccess, Data: raw}
}

func FailureResponse(message string) CredentialResponse {
	return CredentialResponse{Status: "Error", Message: message}
}
