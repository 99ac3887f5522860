package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Verdict is the server's answer to a validate or activate call. A denial
// is a definitive business answer; it is distinct from the server being
// unreachable, which surfaces as an error instead.
type Verdict struct {
	Valid  bool
	Denial string // error kind when !Valid
}

// ErrServerUnreachable wraps any transport failure or non-2xx infra
// response. Callers must never interpret it as a denial.
type ErrServerUnreachable struct {
	Cause string
}

func (e *ErrServerUnreachable) Error() string {
	return fmt.Sprintf("license server unreachable: %s", e.Cause)
}

// Client speaks the license server's wire protocol.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a protocol client for the given server base URL
func NewClient(baseURL string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		logger:  logger.With(slog.String("component", "license_client")),
	}
}

// envelope mirrors the server's uniform response wrapper
type envelope struct {
	Status    string          `json:"status"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

type validatePayload struct {
	Valid bool   `json:"valid"`
	Error string `json:"error"`
}

type operationPayload struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

type protocolRequest struct {
	LicenseKey string `json:"license_key"`
	HardwareID string `json:"hardware_id"`
	Domain     string `json:"domain,omitempty"`
	Version    string `json:"version,omitempty"`
}

// Validate asks the server whether the license is valid for this machine.
func (c *Client) Validate(ctx context.Context, licenseKey, hardwareID, domain, version string) (*Verdict, error) {
	env, err := c.post(ctx, "/validate", protocolRequest{
		LicenseKey: licenseKey,
		HardwareID: hardwareID,
		Domain:     domain,
		Version:    version,
	})
	if err != nil {
		return nil, err
	}

	var payload validatePayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return nil, &ErrServerUnreachable{Cause: "malformed validate payload"}
	}
	return &Verdict{Valid: payload.Valid, Denial: payload.Error}, nil
}

// Activate binds the license to this machine.
func (c *Client) Activate(ctx context.Context, licenseKey, hardwareID, domain, version string) (*Verdict, error) {
	env, err := c.post(ctx, "/activate", protocolRequest{
		LicenseKey: licenseKey,
		HardwareID: hardwareID,
		Domain:     domain,
		Version:    version,
	})
	if err != nil {
		return nil, err
	}

	var payload operationPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return nil, &ErrServerUnreachable{Cause: "malformed activate payload"}
	}
	return &Verdict{Valid: payload.Success, Denial: payload.Error}, nil
}

// Deactivate releases this machine's binding.
func (c *Client) Deactivate(ctx context.Context, licenseKey, hardwareID string) (*Verdict, error) {
	env, err := c.post(ctx, "/deactivate", protocolRequest{
		LicenseKey: licenseKey,
		HardwareID: hardwareID,
	})
	if err != nil {
		return nil, err
	}

	var payload operationPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return nil, &ErrServerUnreachable{Cause: "malformed deactivate payload"}
	}
	return &Verdict{Valid: payload.Success, Denial: payload.Error}, nil
}

// HeartbeatRequest carries optional telemetry alongside the liveness ping
type HeartbeatRequest struct {
	LicenseKey  string      `json:"license_key"`
	HardwareID  string      `json:"hardware_id"`
	Domain      string      `json:"domain,omitempty"`
	Version     string      `json:"version,omitempty"`
	Performance interface{} `json:"performance,omitempty"`
	Usage       interface{} `json:"usage,omitempty"`
}

// Heartbeat reports liveness. Failures are returned for logging but carry
// no enforcement weight.
func (c *Client) Heartbeat(ctx context.Context, req HeartbeatRequest) error {
	_, err := c.post(ctx, "/heartbeat", req)
	return err
}

// post sends one protocol request. Any transport failure or non-2xx
// status collapses into ErrServerUnreachable; business denials arrive as
// 200 responses and are decoded by the caller.
func (c *Client) post(ctx context.Context, path string, body interface{}) (*envelope, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.WarnContext(ctx, "request failed", "path", path, "error", err.Error())
		return nil, &ErrServerUnreachable{Cause: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.WarnContext(ctx, "server returned non-2xx", "path", path, "status", resp.StatusCode)
		return nil, &ErrServerUnreachable{Cause: fmt.Sprintf("status %d", resp.StatusCode)}
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, &ErrServerUnreachable{Cause: "malformed response body"}
	}
	return &env, nil
}
