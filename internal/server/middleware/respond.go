package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/purrrlove/perch/internal/gateway"
	"github.com/purrrlove/perch/internal/model"
)

// writeError emits the standard error envelope from middleware, where the
// handler package's writers are out of reach without an import cycle.
func writeError(w http.ResponseWriter, r *http.Request, err error, devMode bool) {
	ge := gateway.AsError(err)
	detail := &model.ErrorDetail{
		Code:    ge.Code,
		Message: ge.Message,
	}
	if devMode && ge.Reason != "" {
		detail.Details = ge.Reason
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ge.Status)
	json.NewEncoder(w).Encode(model.Envelope{
		Success: false,
		Error:   detail,
		Meta: model.Meta{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			RequestID: GetRequestID(r.Context()),
			Version:   model.APIVersion,
		},
	})
}
