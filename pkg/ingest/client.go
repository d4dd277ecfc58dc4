// Package ingest ships folded profiles to a Pyroscope-compatible
// collector.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/rs/zerolog"
)

const (
	ingestPath    = "/ingest"
	contentType   = "binary/octet-stream"
	formatFolded  = "folded"
	maxErrBodyLen = 512

	defaultTimeout   = 10 * time.Second
	defaultUserAgent = "pyrospy"
)

// Request is one profile to ingest.
type Request struct {
	// Name is the application key, as built by tags.Merge.
	Name       string
	Window     Window
	SampleRate uint32
	SpyName    string
	// Body is the folded profile.
	Body []byte
}

type Client struct {
	endpoint  string
	authToken string
	userAgent string
	timeout   time.Duration
	http      *http.Client
	logger    log.Logger
}

func NewClient(opts ...Option) (*Client, error) {
	c := &Client{
		timeout:   defaultTimeout,
		userAgent: defaultUserAgent,
		logger:    log.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.endpoint == "" {
		return nil, ErrNoEndpoint
	}
	if _, err := url.Parse(c.endpoint); err != nil {
		return nil, errors.Wrapf(err, "invalid ingestion endpoint %q", c.endpoint)
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: c.timeout}
	}
	c.logger = c.logger.With().Str("component", "ingest").Logger()

	return c, nil
}

// URL returns the ingestion URL of the request.
func (c *Client) URL(req Request) string {
	q := url.Values{}
	q.Set("name", req.Name)
	q.Set("from", strconv.FormatInt(req.Window.From.Unix(), 10))
	q.Set("until", strconv.FormatInt(req.Window.Until.Unix(), 10))
	q.Set("format", formatFolded)
	q.Set("sampleRate", strconv.FormatUint(uint64(req.SampleRate), 10))
	q.Set("spyName", req.SpyName)

	return strings.TrimSuffix(c.endpoint, "/") + ingestPath + "?" + q.Encode()
}

// Ingest sends the profile. An empty body is not sent. Delivery failures
// are returned as *TransportError.
func (c *Client) Ingest(ctx context.Context, req Request) error {
	if len(req.Body) == 0 {
		c.logger.Debug().Str("name", req.Name).Msg("empty profile, skipping ingestion")
		return nil
	}
	if req.Name == "" {
		return ErrNoAppName
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(req), bytes.NewReader(req.Body))
	if err != nil {
		return errors.Wrap(err, "error building ingestion request")
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("User-Agent", c.userAgent)
	if c.authToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.logger.Warn().Err(err).Str("name", req.Name).Msg("error sending profile")
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBodyLen))
		err := &TransportError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", strings.TrimSpace(string(msg))),
		}
		c.logger.Warn().Err(err).Str("name", req.Name).Msg("profile rejected by collector")
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	c.logger.Debug().
		Str("name", req.Name).
		Time("from", req.Window.From).
		Time("until", req.Window.Until).
		Int("bytes", len(req.Body)).
		Msg("profile ingested")

	return nil
}
