// Package api implements the request/response collaborators of the sync
// engine: login, conversation list, paginated message history, media upload,
// and the REST text-send fallback.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"resty.dev/v3"

	"github.com/vule/chatsync/internal/wire"
	"github.com/vule/chatsync/pkg/logger"
)

// ErrRejected marks a server-side refusal (e.g. the user is not a member of
// the conversation).
var ErrRejected = errors.New("rejected by server")

// CredentialFunc supplies the current bearer credential; it is re-read per
// request.
type CredentialFunc func() (string, error)

// FetchError wraps a failed HTTP call with enough context for callers to
// render a meaningful message.
type FetchError struct {
	Op             string
	ConversationID string
	Status         int
	Err            error
}

func (e *FetchError) Error() string {
	if e.ConversationID != "" {
		return fmt.Sprintf("%s (conversation %s): %v", e.Op, e.ConversationID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Client is the HTTP API client.
type Client struct {
	http  *resty.Client
	creds CredentialFunc
}

// NewClient creates a Client for the given backend base URL.
func NewClient(baseURL string, creds CredentialFunc) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second)
	return &Client{http: httpClient, creds: creds}
}

// Close releases the underlying HTTP resources.
func (c *Client) Close() error {
	return c.http.Close()
}

// Login authenticates and returns the bearer credential.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var env wire.Envelope
	res, err := c.http.R().
		SetContext(ctx).
		SetBody(wire.LoginRequest{Username: username, Password: password}).
		SetResult(&env).
		Post("/api/auth/login")
	if err != nil {
		return "", &FetchError{Op: "login", Err: err}
	}
	if res.IsError() {
		return "", &FetchError{Op: "login", Status: res.StatusCode(), Err: fmt.Errorf("http %d", res.StatusCode())}
	}

	var result wire.LoginResult
	if err := json.Unmarshal(env.Result, &result); err != nil || result.Token == "" {
		return "", &FetchError{Op: "login", Err: fmt.Errorf("response carries no token")}
	}
	return result.Token, nil
}

// FetchConversations loads the session's chat room list.
func (c *Client) FetchConversations(ctx context.Context) ([]wire.Conversation, error) {
	var env wire.Envelope
	res, err := c.authorized().
		SetContext(ctx).
		SetResult(&env).
		Get("/api/chatrooms")
	if err := c.check("fetch conversations", "", res, err); err != nil {
		return nil, err
	}

	var conversations []wire.Conversation
	if err := json.Unmarshal(env.Result, &conversations); err != nil {
		return nil, &FetchError{Op: "fetch conversations", Err: err}
	}
	return conversations, nil
}

// FetchMessages loads one page of a conversation's history, newest-first.
func (c *Client) FetchMessages(ctx context.Context, conversationID string, page, size int) (wire.MessagePage, error) {
	var env wire.Envelope
	res, err := c.authorized().
		SetContext(ctx).
		SetQueryParam("page", fmt.Sprintf("%d", page)).
		SetQueryParam("size", fmt.Sprintf("%d", size)).
		SetResult(&env).
		Get("/api/chatrooms/" + conversationID + "/messages")
	if err := c.check("fetch messages", conversationID, res, err); err != nil {
		return wire.MessagePage{}, err
	}

	var result wire.MessagePage
	if err := json.Unmarshal(env.Result, &result); err != nil {
		return wire.MessagePage{}, &FetchError{Op: "fetch messages", ConversationID: conversationID, Err: err}
	}
	return result, nil
}

// Upload sends a media file and returns the materialized message. Delivery is
// inherently request/response here, so no live echo follows; the caller
// appends the result directly.
func (c *Client) Upload(ctx context.Context, conversationID, filename string, data []byte) (wire.Message, error) {
	var env wire.Envelope
	res, err := c.authorized().
		SetContext(ctx).
		SetFileReader("file", filename, bytes.NewReader(data)).
		SetResult(&env).
		Post("/api/chatrooms/" + conversationID + "/media")
	if err := c.check("upload media", conversationID, res, err); err != nil {
		return wire.Message{}, err
	}

	var msg wire.Message
	if err := json.Unmarshal(env.Result, &msg); err != nil {
		return wire.Message{}, &FetchError{Op: "upload media", ConversationID: conversationID, Err: err}
	}
	return msg, nil
}

// SendText posts a text message over HTTP. This is the fallback path callers
// use while the live channel is degraded; normal text sends go through the
// live channel and surface via its echo.
func (c *Client) SendText(ctx context.Context, conversationID, content string) (wire.Message, error) {
	var env wire.Envelope
	res, err := c.authorized().
		SetContext(ctx).
		SetBody(map[string]any{
			"chatRoomId":  conversationID,
			"content":     content,
			"messageType": wire.MessageTypeText,
		}).
		SetResult(&env).
		Post("/api/messages")
	if err := c.check("send message", conversationID, res, err); err != nil {
		return wire.Message{}, err
	}

	var msg wire.Message
	if err := json.Unmarshal(env.Result, &msg); err != nil {
		return wire.Message{}, &FetchError{Op: "send message", ConversationID: conversationID, Err: err}
	}
	return msg, nil
}

// authorized builds a request with the current bearer credential attached.
func (c *Client) authorized() *resty.Request {
	req := c.http.R()
	token, err := c.creds()
	if err != nil {
		logger.Warnf("api: credential read failed: %v", err)
		return req
	}
	return req.SetAuthToken(token)
}

// check normalizes transport and HTTP-status failures into FetchError.
func (c *Client) check(op, conversationID string, res *resty.Response, err error) error {
	if err != nil {
		return &FetchError{Op: op, ConversationID: conversationID, Err: err}
	}
	if res.IsError() {
		status := res.StatusCode()
		inner := fmt.Errorf("http %d", status)
		if status == http.StatusForbidden {
			inner = ErrRejected
		}
		return &FetchError{Op: op, ConversationID: conversationID, Status: status, Err: inner}
	}
	return nil
}
