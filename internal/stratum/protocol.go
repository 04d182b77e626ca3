// Package stratum implements the pool side of the Stratum V1 mining
// protocol: the TCP listener, per-connection sessions, job distribution,
// and share submission handling.
package stratum

import (
	"encoding/json"
	"fmt"
)

// Stratum method names.
const (
	MethodSubscribe     = "mining.subscribe"
	MethodAuthorize     = "mining.authorize"
	MethodSubmit        = "mining.submit"
	MethodNotify        = "mining.notify"
	MethodSetDifficulty = "mining.set_difficulty"
)

// Message is one newline-delimited Stratum JSON-RPC message.
type Message struct {
	ID     any    `json:"id"`
	Method string `json:"method,omitempty"`
	Params []any  `json:"params,omitempty"`
	Result any    `json:"result,omitempty"`
	Error  *Error `json:"error,omitempty"`
}

// Error is a Stratum error response body.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Stratum error codes.
const (
	ErrorOther          = 20
	ErrorJobNotFound    = 21
	ErrorDuplicateShare = 22
	ErrorLowDifficulty  = 23
	ErrorUnauthorized   = 24
	ErrorNotSubscribed  = 25
	ErrorInvalidRequest = -32600
	ErrorMethodNotFound = -32601
	ErrorInvalidParams  = -32602
	ErrorParseError     = -32700
)

// ParseMessage parses a single line into a Stratum message.
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	return &msg, nil
}

// MarshalMessage serializes a message for the wire, without the trailing
// newline.
func MarshalMessage(msg *Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return data, nil
}

// NewResponse creates a response message.
func NewResponse(id any, result any) *Message {
	return &Message{ID: id, Result: result}
}

// NewErrorResponse creates an error response message.
func NewErrorResponse(id any, code int, message string) *Message {
	return &Message{
		ID:    id,
		Error: &Error{Code: code, Message: message},
	}
}

// NewNotification creates a server-initiated notification.
func NewNotification(method string, params []any) *Message {
	return &Message{ID: nil, Method: method, Params: params}
}

// AuthorizeRequest holds mining.authorize parameters.
type AuthorizeRequest struct {
	Username string
	Password string
}

// ParseAuthorizeRequest parses mining.authorize parameters.
func ParseAuthorizeRequest(params []any) (*AuthorizeRequest, error) {
	if len(params) < 2 {
		return nil, fmt.Errorf("insufficient parameters")
	}

	username, ok := params[0].(string)
	if !ok {
		return nil, fmt.Errorf("username must be string")
	}
	password, ok := params[1].(string)
	if !ok {
		return nil, fmt.Errorf("password must be string")
	}

	return &AuthorizeRequest{Username: username, Password: password}, nil
}

// SubmitRequest holds mining.submit parameters.
type SubmitRequest struct {
	WorkerName  string
	JobID       string
	ExtraNonce2 string
	NTime       string
	Nonce       string
}

// ParseSubmitRequest parses mining.submit parameters.
func ParseSubmitRequest(params []any) (*SubmitRequest, error) {
	if len(params) < 5 {
		return nil, fmt.Errorf("insufficient parameters")
	}

	fields := make([]string, 5)
	names := []string{"worker_name", "job_id", "extranonce2", "ntime", "nonce"}
	for i := range fields {
		s, ok := params[i].(string)
		if !ok {
			return nil, fmt.Errorf("%s must be string", names[i])
		}
		fields[i] = s
	}

	return &SubmitRequest{
		WorkerName:  fields[0],
		JobID:       fields[1],
		ExtraNonce2: fields[2],
		NTime:       fields[3],
		Nonce:       fields[4],
	}, nil
}
