package controlplane

import "encoding/json"

// Error is a custom error type for control-plane errors
type Error string

// Error implements the error interface
func (e Error) Error() string {
	return string(e)
}

// Constructor guards
const (
	ErrNilConfig   Error = "config cannot be nil"
	ErrNilManager  Error = "manager cannot be nil"
	ErrNilStore    Error = "store cannot be nil"
	ErrNilRegistry Error = "registry cannot be nil"
)

// secretHeader is the alternative carrier for the operator secret on routes
// whose method conventionally has no body.
const secretHeader = "X-Bot-Secret"

type addBotRequest struct {
	ID          string          `json:"id"`
	Credentials json.RawMessage `json:"credentials"`
	Secret      string          `json:"secret"`
}

type secretRequest struct {
	Secret string `json:"secret"`
}

type updateCredentialsRequest struct {
	Credentials json.RawMessage `json:"credentials"`
	Secret      string          `json:"secret"`
}

type broadcastRequest struct {
	Message  string `json:"message"`
	ThreadID string `json:"thread_id"`
}

type commandRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Usage       string   `json:"usage"`
	Aliases     []string `json:"aliases"`
	Body        string   `json:"body"`
}
