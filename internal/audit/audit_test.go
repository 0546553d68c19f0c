package audit

import (
	"log/slog"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"
)

func TestClientIP_XForwardedFor(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.50, 70.41.3.18")

	ip := clientIP(r)
	want := netip.MustParseAddr("203.0.113.50")
	if ip != want {
		t.Errorf("clientIP = %v, want %v", ip, want)
	}
}

func TestClientIP_XRealIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Real-IP", "198.51.100.23")

	ip := clientIP(r)
	want := netip.MustParseAddr("198.51.100.23")
	if ip != want {
		t.Errorf("clientIP = %v, want %v", ip, want)
	}
}

func TestClientIP_RemoteAddr(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "192.0.2.1:12345"

	ip := clientIP(r)
	want := netip.MustParseAddr("192.0.2.1")
	if ip != want {
		t.Errorf("clientIP = %v, want %v", ip, want)
	}
}

func TestClientIP_Precedence(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.50")
	r.Header.Set("X-Real-IP", "198.51.100.23")
	r.RemoteAddr = "192.0.2.1:12345"

	ip := clientIP(r)
	want := netip.MustParseAddr("203.0.113.50")
	if ip != want {
		t.Errorf("clientIP = %v, want %v (X-Forwarded-For should take precedence)", ip, want)
	}
}

func TestClientIP_InvalidXFF(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Forwarded-For", "not-an-ip")
	r.RemoteAddr = "192.0.2.1:12345"

	ip := clientIP(r)
	want := netip.MustParseAddr("192.0.2.1")
	if ip != want {
		t.Errorf("clientIP = %v, want %v (should fall back to RemoteAddr)", ip, want)
	}
}

func TestLog_DropsWhenFull(t *testing.T) {
	logger := slog.Default()
	w := NewWriter(nil, logger)
	// Don't start the background goroutine, so nothing drains the channel.

	for i := 0; i < bufferSize; i++ {
		w.Log(Entry{Route: "/v1/generate", ModelID: "test-model"})
	}

	// The next log should be dropped (non-blocking).
	w.Log(Entry{Route: "/v1/generate", ModelID: "dropped"})

	if len(w.entries) != bufferSize {
		t.Errorf("buffer size = %d, want %d", len(w.entries), bufferSize)
	}
}

func TestLogFromRequest_ExtractsFields(t *testing.T) {
	logger := slog.Default()
	w := NewWriter(nil, logger)
	// Don't start; read the entry from the channel directly instead.

	r := httptest.NewRequest("POST", "/v1/generate", nil)
	r.Header.Set("X-Real-IP", "198.51.100.23")

	w.LogFromRequest(r, "key-123", "gpt-demo", nil, "hello", "world", 42*time.Millisecond, 3, 5)

	entry := <-w.entries

	if entry.Route != "/v1/generate" {
		t.Errorf("Route = %q, want %q", entry.Route, "/v1/generate")
	}
	if entry.ModelID != "gpt-demo" {
		t.Errorf("ModelID = %q, want %q", entry.ModelID, "gpt-demo")
	}
	if entry.ClientHost != "198.51.100.23" {
		t.Errorf("ClientHost = %q, want %q", entry.ClientHost, "198.51.100.23")
	}
	if entry.PromptTokens != 3 || entry.CompletionTokens != 5 {
		t.Errorf("tokens = %d/%d, want 3/5", entry.PromptTokens, entry.CompletionTokens)
	}
	if entry.LatencyMS != 42 {
		t.Errorf("LatencyMS = %d, want 42", entry.LatencyMS)
	}
}
