// Package token validates Hugging Face access tokens by probing the gated
// pyannote speaker-diarization model the pipeline depends on.
package token

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DefaultEndpoint is the gated model used to probe token permissions.
const DefaultEndpoint = "https://huggingface.co/api/models/pyannote/speaker-diarization-3.0"

// LicenseURL is returned when the token is valid but the model license has
// not been accepted.
const LicenseURL = "https://huggingface.co/pyannote/speaker-diarization-3.0"

// Doer is the subset of http.Client the validator needs.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Result is the outcome of a validation attempt.
type Result struct {
	Valid      bool
	Message    string
	Err        string
	LicenseURL string
	// Upstream is true when the failure came from the credential service
	// or the network rather than the token itself.
	Upstream bool
}

// Validator checks tokens against the credential service.
type Validator struct {
	endpoint string
	client   Doer
}

// New creates a validator. An empty endpoint selects DefaultEndpoint; a nil
// client selects an http.Client with a 10 second timeout.
func New(endpoint string, client Doer) *Validator {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Validator{endpoint: endpoint, client: client}
}

// Validate checks a token. An empty token short-circuits without any
// outbound call. Transient upstream errors are surfaced, never retried.
func (v *Validator) Validate(ctx context.Context, tok string) Result {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return Result{Err: "No token provided"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.endpoint, nil)
	if err != nil {
		return Result{Err: fmt.Sprintf("Network error: %v", err), Upstream: true}
	}
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := v.client.Do(req)
	if err != nil {
		return Result{Err: fmt.Sprintf("Network error: %v", err), Upstream: true}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return Result{
			Valid:   true,
			Message: "Token is valid and has access to Pyannote models",
		}
	case http.StatusUnauthorized:
		return Result{Err: "Invalid token or token doesn't have required permissions"}
	case http.StatusForbidden:
		return Result{
			Err:        "Token is valid but you need to accept the Pyannote license first",
			LicenseURL: LicenseURL,
		}
	default:
		return Result{
			Err:      fmt.Sprintf("Unexpected response from Hugging Face API: %d", resp.StatusCode),
			Upstream: true,
		}
	}
}
