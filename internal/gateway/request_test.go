package gateway

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParsePath(t *testing.T) {
	cases := []struct {
		path     string
		resource string
		action   string
		id       string
	}{
		{"v1/cats", "cats", "", ""},
		{"/v1/cats/", "cats", "", ""},
		{"v1/cats/feed", "cats", "feed", ""},
		{"v1/cats/feed/12", "cats", "feed", "12"},
		{"v1", "", "", ""},
	}
	for _, c := range cases {
		req, gerr := ParsePath(c.path)
		if gerr != nil {
			t.Errorf("ParsePath(%q): %v", c.path, gerr)
			continue
		}
		if req.Version != "v1" {
			t.Errorf("%q: got version %q, want v1", c.path, req.Version)
		}
		if req.Resource != c.resource || req.Action != c.action || req.ID != c.id {
			t.Errorf("%q: got (%q, %q, %q), want (%q, %q, %q)",
				c.path, req.Resource, req.Action, req.ID, c.resource, c.action, c.id)
		}
	}
}

func TestParsePathUnsupportedVersion(t *testing.T) {
	for _, path := range []string{"v2/cats", "v0/cats", "cats", ""} {
		_, gerr := ParsePath(path)
		if gerr == nil {
			t.Errorf("ParsePath(%q): expected error", path)
			continue
		}
		if gerr.Code != CodeUnsupportedVersion {
			t.Errorf("ParsePath(%q): got code %q, want %q", path, gerr.Code, CodeUnsupportedVersion)
		}
	}
}

func TestParseFromQueryParams(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/v1/cats?limit=10&offset=5", nil)

	req, gerr := ParseFrom(r, "v1/cats")
	if gerr != nil {
		t.Fatalf("ParseFrom: %v", gerr)
	}
	if req.Params["limit"] != "10" {
		t.Errorf("got limit %v, want 10", req.Params["limit"])
	}
	if req.Params["offset"] != "5" {
		t.Errorf("got offset %v, want 5", req.Params["offset"])
	}
}

func TestParseFromBodyWinsOverQuery(t *testing.T) {
	body := strings.NewReader(`{"name": "Whiskers", "limit": 99}`)
	r := httptest.NewRequest("POST", "/api/v1/cats?limit=10", body)

	req, gerr := ParseFrom(r, "v1/cats")
	if gerr != nil {
		t.Fatalf("ParseFrom: %v", gerr)
	}
	if req.Params["name"] != "Whiskers" {
		t.Errorf("got name %v, want Whiskers", req.Params["name"])
	}
	if req.Params["limit"] != float64(99) {
		t.Errorf("got limit %v, want 99 from the body", req.Params["limit"])
	}
}

func TestParseFromIgnoresBodyOnGet(t *testing.T) {
	body := strings.NewReader(`{"name": "Whiskers"}`)
	r := httptest.NewRequest("GET", "/api/v1/cats", body)

	req, gerr := ParseFrom(r, "v1/cats")
	if gerr != nil {
		t.Fatalf("ParseFrom: %v", gerr)
	}
	if _, ok := req.Params["name"]; ok {
		t.Error("GET bodies must not be merged")
	}
}

func TestParseFromMalformedBody(t *testing.T) {
	r := httptest.NewRequest("POST", "/api/v1/cats", strings.NewReader(`[1, 2]`))

	_, gerr := ParseFrom(r, "v1/cats")
	if gerr == nil {
		t.Fatal("expected error for non-object body")
	}
	if gerr.Code != CodeValidation {
		t.Errorf("got code %q, want %q", gerr.Code, CodeValidation)
	}

	r = httptest.NewRequest("POST", "/api/v1/cats", strings.NewReader(`{not json`))
	if _, gerr := ParseFrom(r, "v1/cats"); gerr == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestParseFromEmptyBody(t *testing.T) {
	r := httptest.NewRequest("POST", "/api/v1/cats", strings.NewReader(""))

	req, gerr := ParseFrom(r, "v1/cats")
	if gerr != nil {
		t.Fatalf("ParseFrom: %v", gerr)
	}
	if len(req.Params) != 0 {
		t.Errorf("got params %v, want none", req.Params)
	}
}
