package coverage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Uploader posts aggregated coverage summaries to an external collector.
type Uploader struct {
	URL    string
	Token  string
	Client *http.Client
}

type uploadPayload struct {
	RunID string `json:"run_id"`
	Summary
}

// Upload sends the summary as JSON. Any non-2xx response is an error
// carrying the status and a snippet of the body.
func (u *Uploader) Upload(ctx context.Context, runID string, s Summary) error {
	if u.URL == "" {
		return fmt.Errorf("upload url not configured")
	}
	body, err := json.Marshal(uploadPayload{RunID: runID, Summary: s})
	if err != nil {
		return fmt.Errorf("encoding coverage payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building coverage upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if u.Token != "" {
		req.Header.Set("Authorization", "Bearer "+u.Token)
	}

	client := u.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("uploading coverage: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("coverage upload failed: %s: %s", resp.Status, bytes.TrimSpace(snippet))
	}
	return nil
}
