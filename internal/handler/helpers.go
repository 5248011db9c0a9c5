package handler

import (
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/purrrlove/perch/internal/gateway"
	"github.com/purrrlove/perch/internal/model"
	"github.com/purrrlove/perch/internal/server/middleware"
)

// DevMode controls whether error envelopes include internal detail. It is
// set once at startup, before the server accepts traffic.
var DevMode bool

func meta(r *http.Request) model.Meta {
	return model.Meta{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: middleware.GetRequestID(r.Context()),
		Version:   model.APIVersion,
	}
}

// WriteData writes a success envelope with the given payload.
func WriteData(w http.ResponseWriter, r *http.Request, status int, data any) {
	writeEnvelope(w, status, model.Envelope{
		Success: true,
		Data:    data,
		Meta:    meta(r),
	})
}

// WriteError maps err to the gateway taxonomy and writes the error
// envelope. Internal reasons are only included in development mode.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	ge := gateway.AsError(err)
	detail := &model.ErrorDetail{
		Code:    ge.Code,
		Message: ge.Message,
	}
	if DevMode && ge.Reason != "" {
		detail.Details = ge.Reason
	}
	writeEnvelope(w, ge.Status, model.Envelope{
		Success: false,
		Error:   detail,
		Meta:    meta(r),
	})
}

func writeEnvelope(w http.ResponseWriter, status int, env model.Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(env)
}

// readJSON decodes the request body as JSON into v. The body is closed
// after decoding regardless of success or failure.
func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return gateway.ErrValidation("Invalid JSON body")
	}
	return nil
}

// clientIP returns the caller's address with any port stripped. RealIP
// middleware has already resolved forwarding headers by the time handlers
// run.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
