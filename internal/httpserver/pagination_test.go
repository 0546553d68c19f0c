package httpserver

import (
	"net/http/httptest"
	"testing"
)

func TestParseOffsetParamsDefaults(t *testing.T) {
	r := httptest.NewRequest("GET", "/v1/admin/logs", nil)
	p := ParseOffsetParams(r)
	if p.Offset != 0 || p.Limit != defaultPageLimit {
		t.Errorf("got %+v, want offset=0 limit=%d", p, defaultPageLimit)
	}
}

func TestParseOffsetParamsFromQuery(t *testing.T) {
	r := httptest.NewRequest("GET", "/v1/admin/logs?offset=20&limit=10", nil)
	p := ParseOffsetParams(r)
	if p.Offset != 20 || p.Limit != 10 {
		t.Errorf("got %+v, want offset=20 limit=10", p)
	}
}

func TestParseOffsetParamsClampsLimit(t *testing.T) {
	r := httptest.NewRequest("GET", "/v1/admin/logs?limit=999999", nil)
	p := ParseOffsetParams(r)
	if p.Limit != maxPageLimit {
		t.Errorf("limit = %d, want %d", p.Limit, maxPageLimit)
	}
}

func TestParseOffsetParamsIgnoresInvalid(t *testing.T) {
	r := httptest.NewRequest("GET", "/v1/admin/logs?offset=-5&limit=abc", nil)
	p := ParseOffsetParams(r)
	if p.Offset != 0 || p.Limit != defaultPageLimit {
		t.Errorf("got %+v, want defaults on invalid input", p)
	}
}

func TestNewOffsetPage(t *testing.T) {
	items := []string{"a", "b"}
	page := NewOffsetPage(items, OffsetParams{Offset: 10, Limit: 2}, 42)
	if page.Total != 42 || page.Offset != 10 || page.Limit != 2 || len(page.Items) != 2 {
		t.Errorf("unexpected page: %+v", page)
	}
}
