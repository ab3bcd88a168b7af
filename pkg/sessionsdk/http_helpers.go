package sessionsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// url builds a complete URL by appending the path to the base URL.
func (c *APIClient) url(path string) string {
	return c.BaseURL + path
}

// doJSON POSTs body as JSON to path. When token is non-empty the request
// carries it as a bearer credential.
func (c *APIClient) doJSON(ctx context.Context, path, token string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	return resp, nil
}

// decodeEnvelope reads a {success, data} response and decodes data into
// target. Non-2xx responses and success:false both yield an *APIError.
func decodeEnvelope(resp *http.Response, target any) error {
	defer resp.Body.Close()

	// Read body once for both error parsing and success decoding
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if err := parseErrorResponse(resp.StatusCode, bodyBytes); err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(bodyBytes, &env); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if !env.Success {
		msg := env.Message
		if msg == "" {
			msg = env.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if target == nil {
		return nil
	}

	if len(env.Data) == 0 {
		return fmt.Errorf("failed to decode response: missing data")
	}
	if err := json.Unmarshal(env.Data, target); err != nil {
		return fmt.Errorf("failed to decode response data: %w", err)
	}

	return nil
}

// checkStatus discards the body and returns an *APIError for non-2xx
// responses. Used by endpoints whose body is ignored.
func checkStatus(resp *http.Response) error {
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	return parseErrorResponse(resp.StatusCode, bodyBytes)
}
