// Copyright (c) Tide Foundation Ltd.
// SPDX-License-Identifier: MPL-2.0

package enclave

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/hashicorp/go-hclog"

	"github.com/tidecloak/tidecloak-go/dpop"
	sdkHttp "github.com/tidecloak/tidecloak-go/sdk/http"
)

// EncryptItem is one plaintext payload and the tag set governing who may
// later decrypt it.  Data must be a string or raw byte sequence; structured
// values must be serialized by the caller first, so the encrypted payload
// format stays unambiguous between string and binary round trips.
type EncryptItem struct {
	Data string   `json:"data"`
	Tags []string `json:"tags"`
}

// NewBytesItem builds an EncryptItem from a raw byte sequence.
func NewBytesItem(data []byte, tags ...string) EncryptItem {
	return EncryptItem{Data: string(data), Tags: tags}
}

// DecryptItem is one encrypted payload and its tag set.
type DecryptItem struct {
	Encrypted string   `json:"encrypted"`
	Tags      []string `json:"tags"`
}

// Result is the enclave's outcome for a single item.  Exactly one of Value
// or Err is set.  Result i always corresponds to request item i.
type Result struct {
	Value string `json:"value,omitempty"`
	Err   string `json:"error,omitempty"`
}

// Denied reports whether the enclave rejected this item.
func (r Result) Denied() bool { return r.Err != "" }

// Client calls the remote enclave.  When a DPoP signature provider is
// configured (WithSignatureProvider), every request carries a proof bound
// to the bearer token, and DPoP-Nonce response headers are fed back into
// the provider's per-origin nonce state.
type Client struct {
	endpoint   string
	origin     string
	httpClient *http.Client
	sigForJWT  *dpop.SignatureProvider
	logger     hclog.Logger
}

// NewClient creates an enclave client for the given endpoint base URL.
//
// Supported options: WithHTTPClient, WithSignatureProvider, WithLogger.
func NewClient(endpoint string, opt ...Option) (*Client, error) {
	const op = "enclave.NewClient"
	if endpoint == "" {
		return nil, fmt.Errorf("%s: endpoint is empty: %w", op, ErrInvalidParameter)
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%s: endpoint %q is not an absolute URL: %w", op, endpoint, ErrInvalidParameter)
	}
	opts := getClientOpts(opt...)
	client := opts.withHTTPClient
	if client == nil {
		client, err = sdkHttp.NewClient("")
		if err != nil {
			return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
		}
	}
	return &Client{
		endpoint:   endpoint,
		origin:     u.Scheme + "://" + u.Host,
		httpClient: client,
		sigForJWT:  opts.withSignatureProvider,
		logger:     opts.withLogger.Named("enclave"),
	}, nil
}

// Encrypt forwards the ordered batch to the enclave with the caller's
// token.  The returned slice has exactly len(items) results and result i
// corresponds to items[i], regardless of which items the enclave accepts.
func (c *Client) Encrypt(ctx context.Context, accessToken string, items []EncryptItem) ([]Result, error) {
	const op = "Client.Encrypt"
	if len(items) == 0 {
		return nil, fmt.Errorf("%s: no items: %w", op, ErrInvalidParameter)
	}
	results, err := c.post(ctx, "/encrypt", accessToken, items, len(items))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return results, nil
}

// Decrypt is the inverse of Encrypt, with the same ordering guarantee.
func (c *Client) Decrypt(ctx context.Context, accessToken string, items []DecryptItem) ([]Result, error) {
	const op = "Client.Decrypt"
	if len(items) == 0 {
		return nil, fmt.Errorf("%s: no items: %w", op, ErrInvalidParameter)
	}
	results, err := c.post(ctx, "/decrypt", accessToken, items, len(items))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return results, nil
}

func (c *Client) post(ctx context.Context, path, accessToken string, payload interface{}, wantLen int) ([]Result, error) {
	if accessToken == "" {
		return nil, ErrMissingToken
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("unable to marshal request: %w", err)
	}
	reqURL := c.endpoint + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("unable to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	if c.sigForJWT != nil {
		proofOpts := []dpop.Option{dpop.WithAccessToken(accessToken)}
		if nonce := c.sigForJWT.ResourceServerNonce(c.origin); nonce != "" {
			proofOpts = append(proofOpts, dpop.WithProofNonce(nonce))
		}
		proof, err := c.sigForJWT.GenerateProof(reqURL, http.MethodPost, proofOpts...)
		if err != nil {
			return nil, fmt.Errorf("unable to generate dpop proof: %w", err)
		}
		req.Header.Set("DPoP", proof)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrRequestFailed)
	}
	defer resp.Body.Close()

	if nonce := resp.Header.Get("DPoP-Nonce"); nonce != "" && c.sigForJWT != nil {
		c.sigForJWT.UpdateResourceServerNonce(c.origin, nonce)
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<24))
	if err != nil {
		return nil, fmt.Errorf("unable to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Debug("enclave returned non-success status", "status", resp.StatusCode, "path", path)
		return nil, fmt.Errorf("status %d: %w", resp.StatusCode, ErrRequestFailed)
	}

	var results []Result
	if err := json.Unmarshal(respBody, &results); err != nil {
		return nil, fmt.Errorf("unable to unmarshal response: %w", err)
	}
	if len(results) != wantLen {
		return nil, fmt.Errorf("got %d results for %d items: %w", len(results), wantLen, ErrOrderViolation)
	}
	return results, nil
}
