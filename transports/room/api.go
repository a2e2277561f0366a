// Package room talks to the external access-token service that gates room
// joins. Tokens are short-lived and keyed by participant identity plus room
// name.
package room

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const DefaultTokenValidity = 10 * time.Minute

// APIClient wraps the token service's REST API.
type APIClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewAPIClient(apiKey, baseURL string) *APIClient {
	return &APIClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// RoomConfig is the request body for POST /rooms.
type RoomConfig struct {
	Name            string `json:"name,omitempty"`
	MaxParticipants int    `json:"max_participants,omitempty"`
	ExpiresAt       int64  `json:"exp,omitempty"`
}

// Room is the response from POST /rooms.
type Room struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	URL       string `json:"url"`
	CreatedAt string `json:"created_at"`
}

// JoinTokenConfig is the request body for POST /join-tokens.
type JoinTokenConfig struct {
	RoomName    string `json:"room_name"`
	Participant string `json:"participant"`
	ExpiresAt   int64  `json:"exp,omitempty"`
}

type joinTokenResponse struct {
	Token string `json:"token"`
}

// CreateRoom provisions a room for a session.
func (c *APIClient) CreateRoom(config RoomConfig) (*Room, error) {
	var room Room
	if err := c.post("/rooms", config, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// CreateJoinToken issues a short-lived token for one participant to join one
// room. A zero expiry gets the default ten-minute validity.
func (c *APIClient) CreateJoinToken(config JoinTokenConfig) (string, error) {
	if config.ExpiresAt == 0 {
		config.ExpiresAt = time.Now().Add(DefaultTokenValidity).Unix()
	}
	var resp joinTokenResponse
	if err := c.post("/join-tokens", config, &resp); err != nil {
		return "", err
	}
	return resp.Token, nil
}

// DeleteRoom tears a room down after the session ends.
func (c *APIClient) DeleteRoom(roomName string) error {
	req, err := http.NewRequest(http.MethodDelete, c.baseURL+"/rooms/"+roomName, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("delete room request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("delete room: status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func (c *APIClient) post(path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: status %d: %s", path, resp.StatusCode, string(respBody))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *APIClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
}
