package handler

import (
	"strconv"
	"time"

	"github.com/purrrlove/perch/internal/gateway"
)

// Param extraction for gateway requests. Params merge query strings and
// JSON bodies, so values arrive as strings, bools, numbers, or arrays.

func paramString(req *gateway.Request, key string) (string, bool) {
	v, ok := req.Params[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func paramStrings(req *gateway.Request, key string) ([]string, bool) {
	v, ok := req.Params[key]
	if !ok {
		return nil, false
	}
	switch t := v.(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	case string:
		if t == "" {
			return []string{}, true
		}
		return []string{t}, true
	default:
		return nil, false
	}
}

func paramBool(req *gateway.Request, key string) bool {
	switch t := req.Params[key].(type) {
	case bool:
		return t
	case string:
		return t == "true" || t == "1"
	default:
		return false
	}
}

func paramTime(req *gateway.Request, key string) (*time.Time, error) {
	s, ok := paramString(req, key)
	if !ok || s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, gateway.ErrValidation(key + " must be an RFC 3339 timestamp")
	}
	return &t, nil
}

// recordID parses the request's path ID segment.
func recordID(req *gateway.Request) (int64, error) {
	id, err := strconv.ParseInt(req.ID, 10, 64)
	if err != nil || id <= 0 {
		return 0, gateway.ErrValidation("Invalid record id")
	}
	return id, nil
}
