package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// apiError extracts a provider error message from a failed response body.
type apiError func(body *json.Decoder) string

// postJSON sends payload as JSON and decodes the response into out.
func postJSON(ctx context.Context, client *http.Client, provider, url string, headers map[string]string, payload, out any, readErr apiError) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", provider, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		if readErr != nil {
			if msg := readErr(json.NewDecoder(resp.Body)); msg != "" {
				return fmt.Errorf("%s api error: %s", provider, msg)
			}
		}
		return fmt.Errorf("%s api error: %s", provider, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s decode: %w", provider, err)
	}
	return nil
}
