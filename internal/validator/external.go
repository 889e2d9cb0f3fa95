package validator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	types "github.com/MusicMeister52/hunter2-sub000/internal/domain"
)

// External posts {"guess": ...} to the reference URL and expects
// {"correct": bool} back.
//
// Options: timeout (seconds, default from the registry).
type External struct {
	Timeout time.Duration
	Client  *http.Client
}

func (External) Kind() types.ValidatorKind { return types.ValidatorExternal }

func (e External) CheckWellFormed(reference string, opts Options) error {
	if _, err := opts.Seconds("timeout", e.Timeout); err != nil {
		return err
	}
	u, err := url.Parse(reference)
	if err != nil {
		return fmt.Errorf("endpoint: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("endpoint must be an absolute http(s) URL")
	}
	return nil
}

type externalRequest struct {
	Guess string `json:"guess"`
}

type externalResponse struct {
	Correct *bool `json:"correct"`
}

func (e External) Validate(ctx context.Context, reference string, opts Options, guess string) (bool, error) {
	timeout, err := opts.Seconds("timeout", e.Timeout)
	if err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(externalRequest{Guess: guess})
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reference, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	client := e.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, fmt.Errorf("endpoint returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	var out externalResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&out); err != nil {
		return false, fmt.Errorf("decode endpoint response: %w", err)
	}
	if out.Correct == nil {
		return false, fmt.Errorf("endpoint response has no \"correct\" field")
	}
	return *out.Correct, nil
}
