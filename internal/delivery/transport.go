package delivery

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/marcus/syncbridge/internal/models"
)

// Disposition classifies one delivery attempt.
type Disposition int

const (
	// DispositionDelivered is a 2xx acknowledgment.
	DispositionDelivered Disposition = iota
	// DispositionRetry is a transient failure worth retrying.
	DispositionRetry
	// DispositionTerminal is a permanent rejection; retrying cannot help.
	DispositionTerminal
)

// Result is the outcome of one push attempt against a sink.
type Result struct {
	Disposition Disposition
	// Response is a short human-readable record of what the sink said,
	// stored on the message for operators.
	Response string
}

// Transport pushes one message to its subscription's sink.
type Transport interface {
	Push(ctx context.Context, sub *models.EventSubscription, msg *models.EventMessage) Result
}

// HTTPTransport delivers messages with signed HTTP POSTs.
type HTTPTransport struct {
	Client *http.Client
}

func NewHTTPTransport() *HTTPTransport {
	return &HTTPTransport{Client: &http.Client{Timeout: 10 * time.Second}}
}

// Push POSTs the message payload to the subscription sink. The body is
// HMAC-SHA256 signed over "timestamp.body" when the subscription has a
// secret, so sinks can verify origin and freshness.
func (t *HTTPTransport) Push(ctx context.Context, sub *models.EventSubscription, msg *models.EventMessage) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.Sink, bytes.NewReader(msg.Payload))
	if err != nil {
		return Result{Disposition: DispositionTerminal, Response: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "syncbridge-delivery/1")
	req.Header.Set("X-SyncBridge-Message", msg.UUID)

	unixTS := fmt.Sprintf("%d", time.Now().Unix())
	req.Header.Set("X-SyncBridge-Timestamp", unixTS)

	if sub.Secret != "" {
		mac := hmac.New(sha256.New, []byte(sub.Secret))
		mac.Write([]byte(unixTS))
		mac.Write([]byte("."))
		mac.Write(msg.Payload)
		sig := hex.EncodeToString(mac.Sum(nil))
		req.Header.Set("X-SyncBridge-Signature", "sha256="+sig)
	}

	resp, err := t.Client.Do(req)
	if err != nil {
		// Timeouts, refused connections, DNS: all transient.
		return Result{Disposition: DispositionRetry, Response: fmt.Sprintf("POST %s: %v", sub.Sink, err)}
	}
	defer resp.Body.Close()

	// Keep a short excerpt of the response body for diagnostics.
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return Result{
		Disposition: classifyStatus(resp.StatusCode),
		Response:    fmt.Sprintf("status %d: %s", resp.StatusCode, bytes.TrimSpace(body)),
	}
}

// classifyStatus maps an HTTP status to a disposition. A sink that no
// longer exists (404, 410) or rejects the request shape (most 4xx)
// will keep doing so, so those fail permanently. Timeouts, throttling
// and server errors are retried.
func classifyStatus(status int) Disposition {
	switch {
	case status >= 200 && status < 300:
		return DispositionDelivered
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return DispositionRetry
	case status >= 400 && status < 500:
		return DispositionTerminal
	default:
		return DispositionRetry
	}
}
