package gateway

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/af-corp/ccproxy/internal/config"
	"github.com/af-corp/ccproxy/internal/httputil"
	"github.com/af-corp/ccproxy/internal/override"
	"github.com/af-corp/ccproxy/internal/redact"
	"github.com/af-corp/ccproxy/internal/telemetry"
	"github.com/af-corp/ccproxy/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/tidwall/gjson"
)

// ErrNoProviderSelected is returned when a request arrives before any
// provider has been selected.
var ErrNoProviderSelected = errors.New("no provider selected")

// Handler forwards data-plane requests to the selected provider.
type Handler struct {
	store   *config.Store
	client  *http.Client
	streaks *FailureStreaks
	metrics *telemetry.Metrics
	logger  *slog.Logger
}

func NewHandler(store *config.Store, client *http.Client, metrics *telemetry.Metrics, logger *slog.Logger) *Handler {
	if client == nil {
		client = NewClient(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:   store,
		client:  client,
		streaks: NewFailureStreaks(),
		metrics: metrics,
		logger:  logger.With("component", "gateway"),
	}
}

// NewClient returns the upstream client for the proxy path. There is no
// overall timeout: streamed completions may run arbitrarily long.
// headerTimeout bounds the wait for response headers; zero means none.
func NewClient(headerTimeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: headerTimeout,
	}
	return &http.Client{
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Mount registers the proxy on every path, plus the model listing.
func (h *Handler) Mount(r chi.Router, paths []string) {
	for _, p := range paths {
		r.Post(p, h.Proxy)
	}
	r.Get("/v1/models", h.ListModels)
}

// ListModels answers with the selected provider's current model list in the
// upstream list format, so clients can enumerate models without a round trip.
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	p, ok := h.store.Snapshot().SelectedProvider()
	if !ok {
		httputil.WriteNoProviderError(w, w.Header().Get("X-Request-ID"))
		return
	}
	list := types.ModelList{Object: "list", Data: make([]types.ModelObject, 0, len(p.Models))}
	for _, id := range p.Models {
		list.Data = append(list.Data, types.ModelObject{ID: id, Object: "model", OwnedBy: p.Name})
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

// Streaks exposes the per-provider upstream failure counters.
func (h *Handler) Streaks() *FailureStreaks { return h.streaks }

// Proxy forwards one request to the selected provider and relays the
// response.
func (h *Handler) Proxy(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	start := time.Now()

	snap := h.store.Snapshot()
	p, ok := snap.SelectedProvider()
	if !ok {
		h.logger.Warn("rejecting request", "request_id", reqID, "error", ErrNoProviderSelected)
		httputil.WriteNoProviderError(w, reqID)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteBadRequestError(w, reqID, "Failed to read request body")
		return
	}
	defer r.Body.Close()

	out, err := override.Build(override.DraftFromRequest(r, body), snap, p)
	if err != nil {
		var pnf *override.PresetNotFoundError
		if errors.As(err, &pnf) {
			httputil.WriteConfigError(w, reqID, err.Error())
			return
		}
		h.logger.Error("failed to build upstream request", "request_id", reqID, "provider", p.Name, "error", err)
		httputil.WriteInternalError(w, reqID, "Failed to prepare upstream request")
		return
	}

	f := &forward{
		h:         h,
		reqID:     reqID,
		provider:  p.Name,
		stream:    gjson.GetBytes(body, "stream").Bool(),
		threshold: snap.Config.ErrorThreshold,
		start:     start,
	}

	h.logger.Info("forward",
		"request_id", reqID,
		"provider", p.Name,
		"url", redact.StripQuery(out.URL),
		"mode", forwardMode(snap.Config.AuthOverride),
		"stream", f.stream,
	)
	if h.logger.Enabled(r.Context(), slog.LevelDebug) {
		h.logger.Debug("forward details",
			"request_id", reqID,
			"url", redact.URL(out.URL, snap.Config.AuthOverride.Param(snap.Config.TokenParam)),
			"headers", redact.Header(out.Header, out.Carrier),
			"body", redact.String(string(out.Body)),
		)
	}

	req, err := out.NewRequest(r.Context())
	if err != nil {
		h.logger.Error("failed to create upstream request", "request_id", reqID, "error", err)
		httputil.WriteInternalError(w, reqID, "Failed to prepare upstream request")
		return
	}

	resp, err := h.client.Do(req)
	if err != nil {
		if r.Context().Err() != nil {
			h.logger.Info("client disconnected before upstream answered", "request_id", reqID, "provider", p.Name)
			f.record("client_closed", 0)
			return
		}
		f.connectFailure(w, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if f.shouldAbortOnStatus(resp) {
			f.abort(telemetry.AbortUpstreamFail)
		}
	} else {
		h.streaks.Reset(p.Name)
	}

	if isEventStream(resp.Header) {
		f.relayStream(w, r, resp)
		return
	}
	f.relay(w, resp)
}

// forwardMode is "passthrough" unless a token placement rule is active.
func forwardMode(a config.AuthOverride) string {
	if a.Mode() == config.TokenInNone {
		return "passthrough"
	}
	return "override"
}

// forward carries the per-request state of one proxied call.
type forward struct {
	h         *Handler
	reqID     string
	provider  string
	stream    bool
	threshold int
	start     time.Time
}

// connectFailure handles a transport error talking to the upstream. For a
// streaming request it counts toward the provider's failure streak.
func (f *forward) connectFailure(w http.ResponseWriter, err error) {
	f.h.logger.Error("upstream request failed", "request_id", f.reqID, "provider", f.provider, "error", err)
	if f.stream && f.threshold > 0 {
		n := f.h.streaks.Fail(f.provider)
		if n < f.threshold {
			f.h.logger.Warn("dropping client connection to trigger retry", "request_id", f.reqID, "provider", f.provider, "streak", n, "threshold", f.threshold)
			f.abort(telemetry.AbortUpstreamFail)
		}
		f.h.streaks.Reset(f.provider)
	}
	f.record("502", 0)
	httputil.WriteUpstreamError(w, f.reqID, "Upstream request failed: "+err.Error())
}

// shouldAbortOnStatus decides, for a non-2xx upstream answer, whether to drop
// the client connection instead of relaying the error.
func (f *forward) shouldAbortOnStatus(resp *http.Response) bool {
	if !f.stream || f.threshold <= 0 {
		return false
	}
	n := f.h.streaks.Fail(f.provider)
	preview, _ := io.ReadAll(io.LimitReader(resp.Body, 1000))
	f.h.logger.Error("upstream returned error",
		"request_id", f.reqID,
		"provider", f.provider,
		"status", resp.StatusCode,
		"streak", n,
		"threshold", f.threshold,
		"body", redact.String(string(preview)),
	)
	if n < f.threshold {
		f.h.logger.Warn("dropping client connection to trigger retry", "request_id", f.reqID, "provider", f.provider)
		return true
	}
	f.h.streaks.Reset(f.provider)
	resp.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(preview), resp.Body), resp.Body}
	return false
}

// abort terminates the client connection abruptly. net/http recognizes
// ErrAbortHandler and closes the connection without a clean end of stream.
func (f *forward) abort(reason string) {
	f.record("aborted", 0)
	f.h.metrics.RecordStreamAbort(f.provider, reason)
	panic(http.ErrAbortHandler)
}

// relay copies a non-streaming response verbatim.
func (f *forward) relay(w http.ResponseWriter, resp *http.Response) {
	copyHeaders(w.Header(), resp)
	w.WriteHeader(resp.StatusCode)
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		f.h.logger.Warn("relay interrupted", "request_id", f.reqID, "provider", f.provider, "error", err)
	}
	f.complete(resp.StatusCode, n)
}

func (f *forward) complete(status int, n int64) {
	duration := time.Since(f.start)
	f.h.logger.Info("request completed",
		"request_id", f.reqID,
		"provider", f.provider,
		"status", status,
		"bytes", n,
		"duration_ms", duration.Milliseconds(),
		"stream", f.stream,
	)
	f.record(strconv.Itoa(status), duration)
}

func (f *forward) record(status string, duration time.Duration) {
	if duration == 0 {
		duration = time.Since(f.start)
	}
	f.h.metrics.RecordRequest(telemetry.RequestLabels{
		Provider:   f.provider,
		Status:     status,
		Stream:     f.stream,
		DurationMs: float64(duration.Milliseconds()),
	})
}

// copyHeaders relays upstream response headers minus hop-by-hop ones.
// Content-Encoding is dropped only when the transport decoded the body;
// otherwise the bytes are relayed still encoded and the header must stay.
func copyHeaders(dst http.Header, resp *http.Response) {
	for k, vs := range resp.Header {
		if override.IsHopHeader(k) {
			continue
		}
		if resp.Uncompressed && strings.EqualFold(k, "Content-Encoding") {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

func isEventStream(h http.Header) bool {
	return strings.HasPrefix(strings.ToLower(h.Get("Content-Type")), "text/event-stream")
}
