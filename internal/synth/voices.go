package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// BackendVoice is one entry in the backend's voice listing. The remote
// service follows the OpenTTS shape: a JSON object keyed by voice id.
type BackendVoice struct {
	Gender       string `json:"gender,omitempty"`
	ID           string `json:"id"`
	Language     string `json:"language,omitempty"`
	Locale       string `json:"locale,omitempty"`
	Name         string `json:"name,omitempty"`
	TTSName      string `json:"tts_name,omitempty"`
	Multispeaker bool   `json:"multispeaker,omitempty"`
}

// Voices fetches the live voice listing from the remote backend.
func (c *Client) Voices(ctx context.Context) (map[string]BackendVoice, error) {
	if c.cfg.BaseURL == "" {
		return nil, ErrNoBackend
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/api/voices", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list voices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("list voices: backend returned status %d", resp.StatusCode)
	}

	var listing map[string]BackendVoice
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("decode voice listing: %w", err)
	}
	return listing, nil
}
