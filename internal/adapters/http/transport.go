package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/sony/gobreaker"

	"github.com/bft-labs/chunkship/internal/domain"
	"github.com/bft-labs/chunkship/internal/ports"
)

const (
	// DefaultChunksURL is the chunks ingestion service.
	DefaultChunksURL = "https://chunks.memfault.com"

	// ProjectKeyHeader carries the project key on every request.
	ProjectKeyHeader = "Memfault-Project-Key"

	chunksPath      = "/api/v0/chunks/"
	octetStream     = "application/octet-stream"
	maxErrorBodyLen = 512
)

// Config contains configuration for the HTTP transport.
type Config struct {
	// ChunksURL is the base URL of the ingestion service.
	ChunksURL string

	// ProjectKey is sent in the Memfault-Project-Key header.
	ProjectKey string

	// Gzip compresses request bodies.
	Gzip bool

	// Breaker enables a circuit breaker shared by all devices. Nil disables it.
	Breaker *BreakerConfig

	// Version is reported in the User-Agent header.
	Version string
}

// BreakerConfig configures the transport circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold uint32

	// ResetTimeout is how long the circuit stays open before a probe request.
	ResetTimeout time.Duration
}

// StatusError is returned when the service answers with a non-2xx status.
// It matches domain.ErrTransport, and domain.ErrUnauthorized for 401 and 403.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("chunks service returned %d", e.StatusCode)
	}
	return fmt.Sprintf("chunks service returned %d: %s", e.StatusCode, e.Body)
}

// Is makes StatusError match the transport sentinels with errors.Is.
func (e *StatusError) Is(target error) bool {
	switch target {
	case domain.ErrTransport:
		return true
	case domain.ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	}
	return false
}

// Transport implements ports.Transport for the chunks HTTP API.
type Transport struct {
	client  ports.HTTPClient
	cfg     Config
	logger  ports.Logger
	breaker *gobreaker.CircuitBreaker

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewTransport creates an HTTP transport. client is typically an *http.Client
// with a timeout.
func NewTransport(client ports.HTTPClient, cfg Config, logger ports.Logger) (*Transport, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: http client is required", domain.ErrInvalidConfig)
	}
	if cfg.ChunksURL == "" {
		cfg.ChunksURL = DefaultChunksURL
	}
	if _, err := url.ParseRequestURI(cfg.ChunksURL); err != nil {
		return nil, fmt.Errorf("%w: chunks url: %v", domain.ErrInvalidConfig, err)
	}
	if cfg.ProjectKey == "" {
		return nil, fmt.Errorf("%w: project key is required", domain.ErrInvalidConfig)
	}
	cfg.ChunksURL = strings.TrimRight(cfg.ChunksURL, "/")

	t := &Transport{
		client:   client,
		cfg:      cfg,
		logger:   logger,
		inFlight: make(map[string]struct{}),
	}

	if b := cfg.Breaker; b != nil && b.FailureThreshold > 0 {
		t.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "chunks",
			MaxRequests: 1,
			Timeout:     b.ResetTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= b.FailureThreshold
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state changed",
					ports.String("breaker", name),
					ports.String("from", from.String()),
					ports.String("to", to.String()),
				)
			},
		})
	}
	return t, nil
}

// Post uploads chunks for deviceID in one request.
// A second Post for the same device while one is unresolved returns
// domain.ErrAlreadyInFlight without sending anything.
func (t *Transport) Post(ctx context.Context, deviceID string, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if !t.acquire(deviceID) {
		return domain.ErrAlreadyInFlight
	}
	defer t.release(deviceID)

	if t.breaker == nil {
		return t.post(ctx, deviceID, chunks)
	}

	_, err := t.breaker.Execute(func() (interface{}, error) {
		return nil, t.post(ctx, deviceID, chunks)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w: %w", domain.ErrTransport, domain.ErrCircuitOpen, err)
	}
	return err
}

func (t *Transport) post(ctx context.Context, deviceID string, chunks []domain.Chunk) error {
	body, contentType, err := encodeChunks(chunks)
	if err != nil {
		return fmt.Errorf("encode chunks: %w", err)
	}
	if t.cfg.Gzip {
		if body, err = compress(body); err != nil {
			return fmt.Errorf("compress chunks: %w", err)
		}
	}

	endpoint := t.cfg.ChunksURL + chunksPath + url.PathEscape(deviceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	requestID := uuid.NewString()
	req.Header.Set(ProjectKeyHeader, t.cfg.ProjectKey)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Request-Id", requestID)
	req.Header.Set("User-Agent", t.userAgent())
	if t.cfg.Gzip {
		req.Header.Set("Content-Encoding", "gzip")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: send request: %w", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
		t.logger.Debug("chunks rejected",
			ports.String("device", deviceID),
			ports.String("request_id", requestID),
			ports.Int("status", resp.StatusCode),
		)
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (t *Transport) acquire(deviceID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, busy := t.inFlight[deviceID]; busy {
		return false
	}
	t.inFlight[deviceID] = struct{}{}
	return true
}

func (t *Transport) release(deviceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inFlight, deviceID)
}

func (t *Transport) userAgent() string {
	v := t.cfg.Version
	if v == "" {
		v = "dev"
	}
	return "chunkship/" + v + " (" + runtime.GOOS + "/" + runtime.GOARCH + ")"
}

// encodeChunks sends a single chunk as a raw body and several chunks as
// multipart/mixed with one part per chunk, in order.
func encodeChunks(chunks []domain.Chunk) ([]byte, string, error) {
	if len(chunks) == 1 {
		return chunks[0], octetStream, nil
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, c := range chunks {
		part, err := w.CreatePart(textproto.MIMEHeader{
			"Content-Type": {octetStream},
		})
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(c); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), "multipart/mixed; boundary=" + w.Boundary(), nil
}

func compress(body []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(body); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
