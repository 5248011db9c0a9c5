package model

// APIVersion is the value stamped into every response envelope's meta
// block.
const APIVersion = "1.0"

// Envelope is the standard response wrapper for every gateway endpoint.
// Either Data or Error is set, never both.
type Envelope struct {
	Success bool         `json:"success"`
	Data    any          `json:"data"`
	Error   *ErrorDetail `json:"error"`
	Meta    Meta         `json:"meta"`
}

// Meta carries per-response bookkeeping.
type Meta struct {
	Timestamp string `json:"timestamp"`
	RequestID string `json:"request_id"`
	Version   string `json:"version"`
}

// ErrorDetail is the structured error information returned to clients.
// Details is populated only in development mode.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details"`
}
