package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

// SupportedVersions lists the API versions the gateway accepts.
var SupportedVersions = []string{"v1"}

// Request is the normalized form of an inbound API call:
// /api/{version}/{resource}/{action}/{id}. Action and ID may be empty.
type Request struct {
	Version  string
	Resource string
	Action   string
	ID       string
	Params   map[string]any
}

// ParseFrom normalizes an *http.Request whose path has already been
// stripped of the /api prefix. Query parameters and, for mutating methods,
// the JSON body are merged into Params (body wins on conflicts).
func ParseFrom(r *http.Request, trimmedPath string) (*Request, *Error) {
	req, gerr := ParsePath(trimmedPath)
	if gerr != nil {
		return nil, gerr
	}

	req.Params = map[string]any{}
	for k, vs := range r.URL.Query() {
		if len(vs) > 0 {
			req.Params[k] = vs[0]
		}
	}

	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		if r.Body == nil {
			break
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			return nil, ErrValidation("Unreadable request body")
		}
		if len(body) == 0 {
			break
		}
		var parsed map[string]any
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, ErrValidation("Request body must be a JSON object")
		}
		for k, v := range parsed {
			req.Params[k] = v
		}
	}

	return req, nil
}

// ParsePath splits a path like "v1/cats/feed/12" into its segments and
// validates the version. Unknown versions fail before any lookup so the
// error cannot leak resource names.
func ParsePath(path string) (*Request, *Error) {
	path = strings.Trim(path, "/")
	segments := strings.SplitN(path, "/", 4)

	req := &Request{}
	if len(segments) > 0 {
		req.Version = segments[0]
	}
	if len(segments) > 1 {
		req.Resource = segments[1]
	}
	if len(segments) > 2 {
		req.Action = segments[2]
	}
	if len(segments) > 3 {
		req.ID = segments[3]
	}

	supported := false
	for _, v := range SupportedVersions {
		if req.Version == v {
			supported = true
			break
		}
	}
	if !supported {
		return nil, ErrUnsupportedVersion(req.Version)
	}

	return req, nil
}
