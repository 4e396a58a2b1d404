package prover

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/layer-3/zkauth/core"
	"github.com/layer-3/zkauth/ports"
	"golang.org/x/time/rate"
)

// deprecationMarker appears in the 404 body of a proving endpoint that has been retired
const deprecationMarker = "deprecated"

const maxResponseBytes = 1 << 20

// Client calls an HTTP zkLogin proving service
type Client struct {
	httpClient *http.Client
	url        string
	limiter    *rate.Limiter
}

// NewClient creates a proving service client. rps limits outgoing requests;
// zero disables the limit.
func NewClient(url string, timeout time.Duration, rps int) *Client {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Every(time.Second / time.Duration(rps))
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		url:        url,
		limiter:    rate.NewLimiter(limit, 1),
	}
}

var _ ports.Prover = (*Client)(nil)

// Prove requests a proof. A 404 carrying the deprecation marker returns
// core.ErrProverDeprecated; any other non-2xx status returns *core.ProofError.
func (c *Client) Prove(ctx context.Context, req core.ProofRequest) (*core.Proof, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode proof request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrProofGeneration, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", core.ErrProofGeneration, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode == http.StatusNotFound && strings.Contains(strings.ToLower(string(body)), deprecationMarker) {
			return nil, core.ErrProverDeprecated
		}
		return nil, &core.ProofError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var proof core.Proof
	if err := json.Unmarshal(body, &proof); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrIncompleteProof, err)
	}
	return &proof, nil
}
