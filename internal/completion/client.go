// ABOUTME: Gemini generateContent client that turns a conversation into one bot reply
// ABOUTME: Never returns an error; every failure maps to a fixed user-facing fallback string

package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/2389/relay-gateway/internal/metrics"
	"github.com/2389/relay-gateway/internal/store"
)

// Defaults used when Config leaves a field empty
const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModel   = "gemini-1.5-flash-latest"
	DefaultTimeout = 30 * time.Second
)

// Fallback reply texts. Callers and frontends match on these exactly.
const (
	TextNoReply     = "No reply from API"
	TextNoAPIKey    = "Bot: API key not configured."
	TextBadRequest  = "Sorry, invalid request to AI: "
	TextForbidden   = "Sorry, access forbidden. Check API key permissions."
	TextRateLimited = "Sorry, rate limit exceeded. Try again later."
	TextUnavailable = "Sorry, I am having trouble responding right now."
)

// maxResponseBytes caps how much of a response body is read
const maxResponseBytes = 4 << 20

// Outcome classifies how a completion call ended
type Outcome string

const (
	OutcomeOK          Outcome = "ok"
	OutcomeNoReply     Outcome = "no_reply"
	OutcomeNoAPIKey    Outcome = "no_api_key"
	OutcomeBadRequest  Outcome = "bad_request"
	OutcomeForbidden   Outcome = "forbidden"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeUnavailable Outcome = "unavailable"
)

// Reply is the text to store as the bot turn plus how it was produced.
type Reply struct {
	Text    string
	Outcome Outcome
}

// Fallback reports whether Text is a canned message rather than model output.
func (r Reply) Fallback() bool {
	return r.Outcome != OutcomeOK
}

// Config configures a Client
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client calls the generateContent endpoint.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client. A nil httpClient uses http.DefaultClient;
// a nil logger uses slog.Default.
func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(lo.Ternary(cfg.BaseURL == "", DefaultBaseURL, cfg.BaseURL), "/"),
		model:      lo.Ternary(cfg.Model == "", DefaultModel, cfg.Model),
		timeout:    lo.Ternary(cfg.Timeout <= 0, DefaultTimeout, cfg.Timeout),
		httpClient: httpClient,
		logger:     logger.With("component", "completion"),
	}
}

// Configured reports whether an API key is set.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Parts []part `json:"parts"`
	Role  string `json:"role,omitempty"`
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// roleFor maps a stored author to the API's role vocabulary
func roleFor(author store.Author) string {
	if author == store.AuthorUser {
		return "user"
	}
	return "model"
}

// Complete sends the whole history, oldest first, and returns one reply.
// It makes exactly one attempt and never returns an error.
func (c *Client) Complete(ctx context.Context, history []*store.Message) Reply {
	if !c.Configured() {
		c.logger.Error("completion API key is not configured")
		return c.finish(Reply{Text: TextNoAPIKey, Outcome: OutcomeNoAPIKey}, time.Now())
	}

	start := time.Now()

	body, err := json.Marshal(generateRequest{
		Contents: lo.Map(history, func(msg *store.Message, _ int) content {
			return content{
				Parts: []part{{Text: msg.Content}},
				Role:  roleFor(msg.Author),
			}
		}),
	})
	if err != nil {
		c.logger.Error("encoding completion request", "error", err)
		return c.finish(Reply{Text: TextUnavailable, Outcome: OutcomeUnavailable}, start)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		c.logger.Error("building completion request", "error", err)
		return c.finish(Reply{Text: TextUnavailable, Outcome: OutcomeUnavailable}, start)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Never log err directly: *url.Error embeds the URL, which carries the key
		c.logger.Error("completion request failed", "error", redact(err))
		return c.finish(Reply{Text: TextUnavailable, Outcome: OutcomeUnavailable}, start)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.logger.Error("reading completion response", "status", resp.StatusCode, "error", redact(err))
		return c.finish(Reply{Text: TextUnavailable, Outcome: OutcomeUnavailable}, start)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Error("completion API error", "status", resp.StatusCode, "body", truncate(string(data), 512))
		return c.finish(statusReply(resp.StatusCode, data), start)
	}

	var parsed generateResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		c.logger.Error("decoding completion response", "error", err)
		return c.finish(Reply{Text: TextUnavailable, Outcome: OutcomeUnavailable}, start)
	}

	text := firstPartText(parsed)
	if text == "" {
		c.logger.Warn("completion response had no reply text", "candidates", len(parsed.Candidates))
		return c.finish(Reply{Text: TextNoReply, Outcome: OutcomeNoReply}, start)
	}
	return c.finish(Reply{Text: text, Outcome: OutcomeOK}, start)
}

func (c *Client) endpoint() string {
	return fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		c.baseURL, url.PathEscape(c.model), url.QueryEscape(c.apiKey))
}

func (c *Client) finish(reply Reply, start time.Time) Reply {
	metrics.CompletionOutcomes.WithLabelValues(string(reply.Outcome)).Inc()
	if reply.Outcome != OutcomeNoAPIKey {
		metrics.CompletionDuration.Observe(time.Since(start).Seconds())
	}
	c.logger.Debug("completion finished", "outcome", reply.Outcome, "duration", time.Since(start))
	return reply
}

// firstPartText returns the first candidate's first part, or "" if absent.
func firstPartText(resp generateResponse) string {
	if len(resp.Candidates) == 0 {
		return ""
	}
	parts := resp.Candidates[0].Content.Parts
	if len(parts) == 0 {
		return ""
	}
	return parts[0].Text
}

// statusReply maps a non-2xx status to its fallback text.
func statusReply(status int, body []byte) Reply {
	switch status {
	case http.StatusBadRequest:
		msg := fmt.Sprintf("Request failed with status code %d", status)
		var errResp errorResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
			msg = errResp.Error.Message
		}
		return Reply{Text: TextBadRequest + quoteJSON(msg), Outcome: OutcomeBadRequest}
	case http.StatusForbidden:
		return Reply{Text: TextForbidden, Outcome: OutcomeForbidden}
	case http.StatusTooManyRequests:
		return Reply{Text: TextRateLimited, Outcome: OutcomeRateLimited}
	default:
		return Reply{Text: TextUnavailable, Outcome: OutcomeUnavailable}
	}
}

// quoteJSON serializes s as a JSON string literal without HTML escaping.
func quoteJSON(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return `""`
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// redact strips the request URL out of transport errors.
func redact(err error) string {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Op + ": " + urlErr.Err.Error()
	}
	return err.Error()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
