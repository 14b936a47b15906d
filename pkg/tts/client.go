// Package tts provides the HTTP client for VOICEVOX-protocol speech engines
// (VOICEVOX itself and AivisSpeech) and the WAV plumbing around it.
//
// Synthesis is a two-call protocol: POST /audio_query builds an [AudioQuery]
// for a text + speaker pair, and POST /synthesis renders that query to a
// RIFF/WAVE byte stream. GET /version serves as the liveness probe and
// GET /speakers lists the installed voices.
//
// Every outbound call runs through the configured [Governor], which paces
// requests, retries once on rate-limit rejections, and fails fast while its
// circuit is open. Transport failures are logged here and returned as
// wrapped errors; callers treat any error as "drop this piece of work".
//
// Typical usage:
//
//	reg, _ := tts.NewRegistry(tts.EngineVoicevox, tts.Voicevox("http://127.0.0.1:50021"))
//	client := tts.NewClient(reg, tts.WithGovernor(gov))
//	wav, err := client.SynthesizeText(ctx, "こんにちは", 0, "")
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const (
	versionEndpoint    = "/version"
	audioQueryEndpoint = "/audio_query"
	synthesisEndpoint  = "/synthesis"
	speakersEndpoint   = "/speakers"

	// defaultTimeout bounds one whole HTTP exchange; defaultDialTimeout
	// bounds the TCP connect alone so a dead engine is noticed quickly.
	defaultTimeout     = 10 * time.Second
	defaultDialTimeout = 2 * time.Second

	// defaultSampleRate is the PCM rate forced onto every audio query so
	// the playback path never resamples.
	defaultSampleRate = 48000
)

// Ping outcome tags. PingOK is the success tag; the others classify why the
// engine was unreachable. HTTP failures use "http_<status>".
const (
	PingOK                = "ok"
	PingConnectionRefused = "connection_refused"
	PingTimeout           = "timeout"
	PingUnexpected        = "unexpected"
)

// Governor serializes outbound calls: pacing, a single retry on rate-limit
// rejections, and fail-fast while a protective circuit is open. The
// governor package provides the production implementation.
type Governor interface {
	Execute(ctx context.Context, fn func(context.Context) error) error
}

// RateLimitError reports an HTTP 429 from an engine. RetryAfter carries the
// parsed Retry-After hint, zero when the engine gave none.
type RateLimitError struct {
	Status     int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("tts: rate limited (status %d, retry after %s)", e.Status, e.RetryAfter)
	}
	return fmt.Sprintf("tts: rate limited (status %d)", e.Status)
}

// RetryHint returns the server-suggested wait. It is what the governor looks
// for when deciding to retry instead of counting a failure.
func (e *RateLimitError) RetryHint() time.Duration { return e.RetryAfter }

// Option is a functional option for configuring a [Client].
type Option func(*Client)

// WithGovernor routes all outbound calls through g.
func WithGovernor(g Governor) Option {
	return func(c *Client) {
		if g != nil {
			c.gov = g
		}
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 10s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithSampleRate sets the PCM sample rate forced onto audio queries.
// Defaults to 48000.
func WithSampleRate(rate int) Option {
	return func(c *Client) {
		if rate > 0 {
			c.sampleRate = rate
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client. Useful in tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// Client is a stateless HTTP client for the registered engines, sharing one
// pooled connection set. It is safe for concurrent use.
type Client struct {
	engines    *Registry
	gov        Governor
	httpClient *http.Client
	sampleRate int
}

// nopGovernor passes calls straight through. It is the default until
// [WithGovernor] installs a real one.
type nopGovernor struct{}

func (nopGovernor) Execute(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

// NewClient creates a [Client] over the given engine registry.
func NewClient(engines *Registry, opts ...Option) *Client {
	c := &Client{
		engines:    engines,
		gov:        nopGovernor{},
		sampleRate: defaultSampleRate,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: defaultDialTimeout}).DialContext,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Engines exposes the registry the client was built over.
func (c *Client) Engines() *Registry { return c.engines }

// Close releases idle pooled connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// ─── Ping ───────────────────────────────────────────────────────────────────

// Ping probes the engine's /version endpoint. The second return value is
// [PingOK] on success or a tag classifying the failure:
// connection_refused, timeout, http_<status>, or unexpected.
func (c *Client) Ping(ctx context.Context, engine Engine) (bool, string) {
	var status int
	err := c.gov.Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, engine.BaseURL+versionEndpoint, nil)
		if err != nil {
			return err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)
		status = resp.StatusCode
		return nil
	})

	switch {
	case err == nil && status == http.StatusOK:
		return true, PingOK
	case err == nil:
		return false, fmt.Sprintf("http_%d", status)
	case errors.Is(err, syscall.ECONNREFUSED):
		return false, PingConnectionRefused
	case isTimeout(err):
		return false, PingTimeout
	default:
		return false, PingUnexpected
	}
}

// isTimeout reports whether err is a dial, response, or context timeout.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// ─── Query ──────────────────────────────────────────────────────────────────

// Query asks the engine to build an audio query for text spoken by
// speakerID. The result is opaque except for the fields [AudioQuery.Tune]
// adjusts.
func (c *Client) Query(ctx context.Context, text string, speakerID int, engine Engine) (AudioQuery, error) {
	params := url.Values{}
	params.Set("text", text)
	params.Set("speaker", strconv.Itoa(speakerID))
	reqURL := engine.BaseURL + audioQueryEndpoint + "?" + params.Encode()

	var query AudioQuery
	err := c.gov.Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, nil)
		if err != nil {
			return fmt.Errorf("tts: create audio_query request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("tts: POST %s: %w", audioQueryEndpoint, err)
		}
		defer resp.Body.Close()

		if err := checkStatus(resp, audioQueryEndpoint); err != nil {
			return err
		}
		if err := json.NewDecoder(resp.Body).Decode(&query); err != nil {
			return fmt.Errorf("tts: decode audio query: %w", err)
		}
		return nil
	})
	if err != nil {
		slog.Warn("audio query failed", "engine", engine.Tag, "speaker", speakerID, "err", err)
		return nil, err
	}
	return query, nil
}

// ─── Synthesize ─────────────────────────────────────────────────────────────

// Synthesize renders query to WAV bytes using speakerID's voice.
func (c *Client) Synthesize(ctx context.Context, query AudioQuery, speakerID int, engine Engine) ([]byte, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("tts: marshal audio query: %w", err)
	}

	params := url.Values{}
	params.Set("speaker", strconv.Itoa(speakerID))
	reqURL := engine.BaseURL + synthesisEndpoint + "?" + params.Encode()

	var wav []byte
	err = c.gov.Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("tts: create synthesis request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "audio/wav")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("tts: POST %s: %w", synthesisEndpoint, err)
		}
		defer resp.Body.Close()

		if err := checkStatus(resp, synthesisEndpoint); err != nil {
			return err
		}
		wav, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("tts: read synthesis response: %w", err)
		}
		return nil
	})
	if err != nil {
		slog.Warn("synthesis failed", "engine", engine.Tag, "speaker", speakerID, "err", err)
		return nil, err
	}
	return wav, nil
}

// SynthesizeText is the composed helper: it resolves the engine named by
// engineTag (the registry default when empty), builds and tunes the audio
// query, and renders it. speakerID <= 0 selects the engine's default
// speaker.
func (c *Client) SynthesizeText(ctx context.Context, text string, speakerID int, engineTag string) ([]byte, error) {
	engine := c.engines.Default()
	if engineTag != "" {
		e, ok := c.engines.Get(engineTag)
		if !ok {
			return nil, fmt.Errorf("tts: unknown engine %q", engineTag)
		}
		engine = e
	}
	if speakerID <= 0 {
		speakerID = engine.DefaultSpeakerID
	}

	query, err := c.Query(ctx, text, speakerID, engine)
	if err != nil {
		return nil, err
	}
	query.Tune(c.sampleRate)

	return c.Synthesize(ctx, query, speakerID, engine)
}

// ─── Speakers ───────────────────────────────────────────────────────────────

// Speaker is one entry of the engine's /speakers catalogue.
type Speaker struct {
	Name   string         `json:"name"`
	UUID   string         `json:"speaker_uuid"`
	Styles []SpeakerStyle `json:"styles"`
}

// SpeakerStyle is one selectable voice style of a [Speaker]. The ID is what
// /audio_query and /synthesis call a speaker.
type SpeakerStyle struct {
	Name string `json:"name"`
	ID   int    `json:"id"`
}

// Speakers lists the voices installed on the engine.
func (c *Client) Speakers(ctx context.Context, engine Engine) ([]Speaker, error) {
	var speakers []Speaker
	err := c.gov.Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, engine.BaseURL+speakersEndpoint, nil)
		if err != nil {
			return fmt.Errorf("tts: create speakers request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("tts: GET %s: %w", speakersEndpoint, err)
		}
		defer resp.Body.Close()

		if err := checkStatus(resp, speakersEndpoint); err != nil {
			return err
		}
		if err := json.NewDecoder(resp.Body).Decode(&speakers); err != nil {
			return fmt.Errorf("tts: decode speakers: %w", err)
		}
		return nil
	})
	if err != nil {
		slog.Warn("speaker listing failed", "engine", engine.Tag, "err", err)
		return nil, err
	}
	return speakers, nil
}

// FindSpeaker resolves a display name to a style id. It accepts a bare
// speaker name (first style wins) or "speaker/style".
func FindSpeaker(speakers []Speaker, name string) (int, bool) {
	base, style, hasStyle := strings.Cut(name, "/")
	for _, sp := range speakers {
		if sp.Name != base || len(sp.Styles) == 0 {
			continue
		}
		if !hasStyle {
			return sp.Styles[0].ID, true
		}
		for _, st := range sp.Styles {
			if st.Name == style {
				return st.ID, true
			}
		}
	}
	return 0, false
}

// ─── helpers ────────────────────────────────────────────────────────────────

// checkStatus maps a non-200 response to an error, draining the body so the
// connection can be reused. 429 becomes a [*RateLimitError] carrying the
// parsed Retry-After hint.
func checkStatus(resp *http.Response, endpoint string) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitError{
			Status:     resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return fmt.Errorf("tts: %s returned status %d", endpoint, resp.StatusCode)
}

// parseRetryAfter reads a Retry-After value as (possibly fractional)
// seconds, falling back to the HTTP-date form. Returns 0 when absent or
// unparseable.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil && secs >= 0 {
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
