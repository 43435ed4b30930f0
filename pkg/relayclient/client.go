// Package relayclient talks to a relay over its HTTP API and realtime
// channel.
package relayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"secumsg/internal/dto"
)

const defaultTimeout = 15 * time.Second

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

// WithHTTPClient swaps the underlying HTTP client.
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

// APIError is a non-2xx reply from the relay.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("relay: %d %s", e.Status, e.Message)
	}
	return fmt.Sprintf("relay: %d %s: %s", e.Status, e.Code, e.Message)
}

func (c *Client) UploadBundle(ctx context.Context, req dto.UploadBundleRequest) (dto.UploadBundleResponse, error) {
	var out dto.UploadBundleResponse
	return out, c.do(ctx, http.MethodPost, "/v1/keys/upload", req, &out)
}

// FetchBundle consumes one of userID's one-time prekeys.
func (c *Client) FetchBundle(ctx context.Context, userID string) (dto.PreKeyBundleResponse, error) {
	var out dto.PreKeyBundleResponse
	return out, c.do(ctx, http.MethodGet, "/v1/keys/bundle/"+url.PathEscape(userID), nil, &out)
}

func (c *Client) Remaining(ctx context.Context) (dto.RemainingResponse, error) {
	var out dto.RemainingResponse
	return out, c.do(ctx, http.MethodGet, "/v1/keys/remaining", nil, &out)
}

func (c *Client) Version(ctx context.Context) (dto.BundleVersionResponse, error) {
	var out dto.BundleVersionResponse
	return out, c.do(ctx, http.MethodGet, "/v1/keys/version", nil, &out)
}

func (c *Client) RotateSignedPreKey(ctx context.Context, spk dto.SignedPreKey) (dto.RotateSignedPreKeyResponse, error) {
	var out dto.RotateSignedPreKeyResponse
	return out, c.do(ctx, http.MethodPost, "/v1/keys/rotate-signed-prekey", dto.RotateSignedPreKeyRequest{SignedPreKey: spk}, &out)
}

func (c *Client) SendMessage(ctx context.Context, req dto.SendMessageRequest) (dto.SendMessageResponse, error) {
	var out dto.SendMessageResponse
	return out, c.do(ctx, http.MethodPost, "/v1/messages/send", req, &out)
}

// Conversation returns up to limit messages with peerID; zero uses the server
// default.
func (c *Client) Conversation(ctx context.Context, peerID string, limit int) (dto.ConversationResponse, error) {
	path := "/v1/messages/conversation/" + url.PathEscape(peerID)
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out dto.ConversationResponse
	return out, c.do(ctx, http.MethodGet, path, nil, &out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var eb struct {
			Code  string `json:"code"`
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, &eb) != nil || eb.Error == "" {
			eb.Error = strings.TrimSpace(string(data))
			if eb.Error == "" {
				eb.Error = resp.Status
			}
		}
		return &APIError{Status: resp.StatusCode, Code: eb.Code, Message: eb.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
