package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/llmgate/internal/httpserver"
)

// Entry represents one served inference request: one row per request,
// including cached hits, append-only per spec.
type Entry struct {
	CreatedAt        time.Time
	APIKeyID         string
	RequestID        string
	Route            string
	ClientHost       string
	ModelID          string
	ParamsJSON       json.RawMessage
	Prompt           string
	Output           string
	LatencyMS        int64
	PromptTokens     int
	CompletionTokens int
}

// Writer is an async, buffered audit log writer. Entries are sent to an
// internal channel and flushed by a background goroutine in batches, so a
// logging slowdown never blocks the request path.
type Writer struct {
	pool    *pgxpool.Pool
	logger  *slog.Logger
	entries chan Entry
	wg      sync.WaitGroup
}

const (
	bufferSize    = 256
	flushInterval = 2 * time.Second
	flushBatch    = 32
)

// NewWriter creates an audit Writer. Call Start to begin processing entries.
func NewWriter(pool *pgxpool.Pool, logger *slog.Logger) *Writer {
	return &Writer{
		pool:    pool,
		logger:  logger,
		entries: make(chan Entry, bufferSize),
	}
}

// Start begins the background goroutine that flushes audit entries to the
// database and returns immediately. The goroutine exits, after flushing the
// entries already buffered, when the context is cancelled or Close is called.
func (w *Writer) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Close waits for all pending entries to be flushed.
func (w *Writer) Close() {
	close(w.entries)
	w.wg.Wait()
}

// Log enqueues an audit entry for async writing. It never blocks the
// caller; if the buffer is full the entry is dropped and a warning logged.
func (w *Writer) Log(entry Entry) {
	select {
	case w.entries <- entry:
	default:
		w.logger.Warn("audit log buffer full, dropping entry",
			"route", entry.Route, "model_id", entry.ModelID)
	}
}

// LogFromRequest is a convenience constructor that fills in the request-id
// and client-host fields from r before enqueueing the entry.
func (w *Writer) LogFromRequest(r *http.Request, apiKeyID, modelID string, params json.RawMessage, prompt, output string, latency time.Duration, promptTokens, completionTokens int) {
	entry := Entry{
		CreatedAt:        time.Now().UTC(),
		APIKeyID:         apiKeyID,
		RequestID:        httpserver.RequestIDFromContext(r.Context()),
		Route:            r.URL.Path,
		ClientHost:       clientIP(r).String(),
		ModelID:          modelID,
		ParamsJSON:       params,
		Prompt:           prompt,
		Output:           output,
		LatencyMS:        latency.Milliseconds(),
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
	}
	w.Log(entry)
}

// run is the background loop that drains the entries channel.
func (w *Writer) run(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, flushBatch)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.flush(batch)
		batch = batch[:0]
	}

	for {
		select {
		case entry, ok := <-w.entries:
			if !ok {
				flush()
				return
			}
			batch = append(batch, entry)
			if len(batch) >= flushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			for {
				select {
				case entry, ok := <-w.entries:
					if !ok {
						flush()
						return
					}
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}

// flush writes a batch of entries to inference_logs.
func (w *Writer) flush(entries []Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := w.pool.Acquire(ctx)
	if err != nil {
		w.logger.Error("acquiring connection for audit flush", "error", err)
		return
	}
	defer conn.Release()

	for _, e := range entries {
		_, err := conn.Exec(ctx, `
			INSERT INTO inference_logs
				(created_at, api_key_id, request_id, route, client_host, model_id,
				 params_json, prompt, output, latency_ms, prompt_tokens, completion_tokens)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`,
			e.CreatedAt, e.APIKeyID, e.RequestID, e.Route, e.ClientHost, e.ModelID,
			e.ParamsJSON, e.Prompt, e.Output, e.LatencyMS, e.PromptTokens, e.CompletionTokens,
		)
		if err != nil {
			w.logger.Error("writing inference log entry", "error", err,
				"route", e.Route, "model_id", e.ModelID)
		}
	}
}

// clientIP extracts the client IP address from the request, preferring
// X-Forwarded-For and X-Real-IP headers over RemoteAddr.
func clientIP(r *http.Request) netip.Addr {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.SplitN(xff, ",", 2)
		if addr, err := netip.ParseAddr(strings.TrimSpace(parts[0])); err == nil {
			return addr
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if addr, err := netip.ParseAddr(strings.TrimSpace(xri)); err == nil {
			return addr
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	addr, _ := netip.ParseAddr(host)
	return addr
}
