package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	ErrUnauthorized = errors.New("session credential rejected")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrBadRequest   = errors.New("bad request")
	ErrTimelineGone = errors.New("timeline is not open")
)

const (
	requestTimeout = 10 * time.Second
	maxBackoff     = 30 * time.Second
)

// Client talks to the messaging service on behalf of one signed-in
// user. Open timelines receive live events while Run is active and are
// backfilled over REST after every (re)connect, so a delivery gap never
// loses messages.
type Client struct {
	baseURL string
	wsURL   string
	token   string
	uid     string
	httpc   *http.Client
	dialer  *websocket.Dialer
	log     *slog.Logger

	mu        sync.Mutex
	timelines map[string]*Timeline
}

func New(baseURL, token, uid string, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	ws := strings.Replace(baseURL, "http", "ws", 1) + "/ws"
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		wsURL:     ws,
		token:     token,
		uid:       uid,
		httpc:     &http.Client{Timeout: requestTimeout},
		dialer:    &websocket.Dialer{HandshakeTimeout: requestTimeout},
		log:       log,
		timelines: map[string]*Timeline{},
	}
}

// StartConversation resolves (or creates) the caller's conversation for
// a listing.
func (c *Client) StartConversation(ctx context.Context, listingID string) (*Conversation, error) {
	var cv Conversation
	err := c.do(ctx, http.MethodPost, "/api/messaging/start",
		map[string]string{"listingId": listingID}, &cv)
	if err != nil {
		return nil, err
	}
	return &cv, nil
}

// Messages fetches ordered history; a non-empty sinceID narrows it to
// messages strictly after that id (the backfill path).
func (c *Client) Messages(ctx context.Context, convID, sinceID string) ([]Message, error) {
	path := fmt.Sprintf("/api/messaging/%s/messages", convID)
	if sinceID != "" {
		path += "?sinceId=" + url.QueryEscape(sinceID)
	}
	var msgs []Message
	if err := c.do(ctx, http.MethodGet, path, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Open seeds a timeline with REST history and registers it for live
// events. Opening an already-open conversation returns the existing
// timeline.
func (c *Client) Open(ctx context.Context, convID string) (*Timeline, error) {
	c.mu.Lock()
	if tl, ok := c.timelines[convID]; ok {
		c.mu.Unlock()
		return tl, nil
	}
	tl := NewTimeline(convID, c.log)
	c.timelines[convID] = tl
	c.mu.Unlock()

	msgs, err := c.Messages(ctx, convID, "")
	if err != nil {
		c.Close(convID)
		return nil, err
	}
	tl.ApplyHistory(msgs)
	return tl, nil
}

// Close drops the timeline; its events are no longer retained. Always
// call when leaving a conversation view so abandoned subscriptions do
// not accumulate.
func (c *Client) Close(convID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.timelines, convID)
}

// Send stages an optimistic entry and posts the message. The returned
// temp id identifies the entry until confirmation and is also the
// idempotency key, so retrying after an ambiguous timeout is safe.
func (c *Client) Send(ctx context.Context, convID, body string, attachments ...AttachmentInput) (string, *Message, error) {
	tl := c.timeline(convID)
	if tl == nil {
		return "", nil, ErrTimelineGone
	}
	tempID := uuid.NewString()
	tl.StageSend(tempID, c.uid, body, attachments)

	msg, err := c.postMessage(ctx, convID, body, tempID, attachments)
	if err != nil {
		tl.FailSend(tempID)
		return tempID, nil, err
	}
	tl.ConfirmSend(tempID, *msg)
	return tempID, msg, nil
}

// Retry re-sends a failed entry using its original idempotency key. If
// the first attempt actually reached the server, the server returns
// the already-persisted message instead of creating a duplicate.
func (c *Client) Retry(ctx context.Context, convID, tempID string) (*Message, error) {
	tl := c.timeline(convID)
	if tl == nil {
		return nil, ErrTimelineGone
	}
	body, attachments, ok := tl.RestageSend(tempID)
	if !ok {
		return nil, fmt.Errorf("no failed entry for %s", tempID)
	}
	msg, err := c.postMessage(ctx, convID, body, tempID, attachments)
	if err != nil {
		tl.FailSend(tempID)
		return nil, err
	}
	tl.ConfirmSend(tempID, *msg)
	return msg, nil
}

// Run maintains the live subscription until ctx is cancelled. Each
// successful handshake triggers a backfill of every open timeline; an
// authentication rejection is returned to the caller rather than
// retried, since it needs a fresh credential.
func (c *Client) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, resp, err := c.dialer.DialContext(ctx, c.wsURL+"?token="+url.QueryEscape(c.token), nil)
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusUnauthorized {
				return ErrUnauthorized
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Debug("hub dial failed", "err", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			if backoff < maxBackoff {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		c.backfill(ctx)
		c.readLoop(ctx, conn)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Info("hub connection lost, reconnecting")
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	defer conn.Close()

	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			return
		}
		c.dispatch(ev)
	}
}

func (c *Client) dispatch(ev Event) {
	if ev.Message == nil {
		c.log.Debug("dropping event without message", "type", ev.Type)
		return
	}
	tl := c.timeline(ev.Message.ConversationID)
	if tl == nil {
		return
	}
	tl.ApplyEvent(ev)
}

// backfill pulls everything missed while disconnected, keyed on each
// timeline's newest confirmed message. Overlap with already-delivered
// events is harmless: the timeline merge is idempotent.
func (c *Client) backfill(ctx context.Context) {
	c.mu.Lock()
	open := make([]*Timeline, 0, len(c.timelines))
	for _, tl := range c.timelines {
		open = append(open, tl)
	}
	c.mu.Unlock()

	for _, tl := range open {
		msgs, err := c.Messages(ctx, tl.ConversationID(), tl.LastKnownID())
		if err != nil {
			c.log.Warn("backfill failed", "conversation", tl.ConversationID(), "err", err)
			continue
		}
		tl.ApplyHistory(msgs)
	}
}

func (c *Client) timeline(convID string) *Timeline {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timelines[convID]
}

func (c *Client) postMessage(ctx context.Context, convID, body, clientKey string, attachments []AttachmentInput) (*Message, error) {
	payload := map[string]interface{}{
		"body":      body,
		"clientKey": clientKey,
	}
	if len(attachments) > 0 {
		payload["attachments"] = attachments
	}
	var msg Message
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/messaging/%s/messages", convID), payload, &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var reqBody io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return statusError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func statusError(resp *http.Response) error {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&envelope)
	detail := envelope.Error.Message
	if detail == "" {
		detail = resp.Status
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, detail)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrForbidden, detail)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, detail)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrBadRequest, detail)
	default:
		return fmt.Errorf("request failed: %s", detail)
	}
}
