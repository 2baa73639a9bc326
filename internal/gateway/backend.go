package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"gatewayd/pkg/types"
)

// Prober issues a lightweight liveness probe against an instance endpoint.
type Prober interface {
	Probe(ctx context.Context, endpoint string) error
}

// BackendResult is the decoded payload of a successful backend call.
type BackendResult struct {
	Content      string
	FinishReason string
}

// Backend sends completion payloads to instance endpoints. Request framing
// beyond "send payload, receive result-or-error within the deadline" is the
// backend's concern, not the gateway's.
type Backend interface {
	Prober
	Complete(ctx context.Context, endpoint string, req types.CompletionRequest) (BackendResult, error)
}

// httpBackend talks to llama.cpp-style servers over their OpenAI-compatible
// completion endpoint.
type httpBackend struct {
	client *http.Client
}

// NewHTTPBackend constructs the production backend transport.
func NewHTTPBackend(connectTimeout time.Duration) Backend {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	// Client Timeout stays 0: every call carries a context deadline set by
	// the execution client, and a flat client timeout would fight it.
	return &httpBackend{client: &http.Client{Transport: tr, Timeout: 0}}
}

// completionPayload is the wire request for /v1/completions.
type completionPayload struct {
	Model       string   `json:"model,omitempty"`
	Prompt      string   `json:"prompt"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature float64  `json:"temperature,omitempty"`
	TopP        float64  `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
	Stream      bool     `json:"stream"`
}

// completionReply covers both the OpenAI choices shape and the native
// llama.cpp content shape.
type completionReply struct {
	Content string `json:"content"`
	Choices []struct {
		Text         string `json:"text"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (b *httpBackend) Complete(ctx context.Context, endpoint string, req types.CompletionRequest) (BackendResult, error) {
	payload := completionPayload{
		Model:       req.Model,
		Prompt:      req.Prompt,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
		Stream:      false,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return BackendResult{}, backendError{msg: "encode request: " + err.Error()}
	}
	url := strings.TrimRight(endpoint, "/") + "/v1/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return BackendResult{}, backendError{msg: "build request: " + err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return BackendResult{}, ctxErr
		}
		return BackendResult{}, backendError{msg: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Read a little of the body for the error message, then drop it.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return BackendResult{}, backendError{status: resp.StatusCode, msg: strings.TrimSpace(string(snippet))}
	}

	var reply completionReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return BackendResult{}, backendError{msg: "decode response: " + err.Error()}
	}
	if len(reply.Choices) > 0 {
		return BackendResult{Content: reply.Choices[0].Text, FinishReason: reply.Choices[0].FinishReason}, nil
	}
	return BackendResult{Content: reply.Content}, nil
}

// Probe hits the instance's health endpoint. Any 2xx counts as alive.
func (b *httpBackend) Probe(ctx context.Context, endpoint string) error {
	url := strings.TrimRight(endpoint, "/") + "/healthz"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := b.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 256))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.New("probe status " + resp.Status)
	}
	return nil
}
