package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"ochat/internal/domain"
)

// Error is a non-2xx answer from the API.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("api: %d: %s", e.Status, e.Message) }

// Client talks to a running `ochat serve`.
type Client struct {
	Base string
	HTTP *http.Client
}

// NewClient returns a client for the API at addr (host:port or URL).
func NewClient(addr string) *Client {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &Client{Base: strings.TrimRight(addr, "/"), HTTP: http.DefaultClient}
}

func (c *Client) Status(ctx context.Context) (Status, error) {
	var out Status
	return out, c.do(ctx, http.MethodGet, "/api/status", nil, &out)
}

func (c *Client) Start(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/start", nil, nil)
}

func (c *Client) Stop(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/stop", nil, nil)
}

func (c *Client) Contacts(ctx context.Context) ([]domain.Contact, error) {
	var out []domain.Contact
	return out, c.do(ctx, http.MethodGet, "/api/contacts", nil, &out)
}

func (c *Client) Sessions(ctx context.Context) ([]domain.SessionInfo, error) {
	var out []domain.SessionInfo
	return out, c.do(ctx, http.MethodGet, "/api/sessions", nil, &out)
}

func (c *Client) RequestChat(ctx context.Context, req ChatRequest) (domain.Contact, error) {
	var out domain.Contact
	return out, c.do(ctx, http.MethodPost, "/api/contacts", req, &out)
}

func (c *Client) Confirm(ctx context.Context, peer string) error {
	return c.do(ctx, http.MethodPost, peerPath(peer, "confirm"), nil, nil)
}

func (c *Client) Cancel(ctx context.Context, peer string) error {
	return c.do(ctx, http.MethodPost, peerPath(peer, "cancel"), nil, nil)
}

func (c *Client) Block(ctx context.Context, peer string) error {
	return c.do(ctx, http.MethodPost, peerPath(peer, "block"), nil, nil)
}

func (c *Client) RemoveContact(ctx context.Context, peer string) error {
	return c.do(ctx, http.MethodDelete, peerPath(peer), nil, nil)
}

func (c *Client) SetRules(ctx context.Context, peer string, rules domain.ChatRules) (domain.Contact, error) {
	var out domain.Contact
	return out, c.do(ctx, http.MethodPut, peerPath(peer, "rules"), rules, &out)
}

func (c *Client) History(ctx context.Context, peer string) ([]domain.Message, error) {
	var out []domain.Message
	return out, c.do(ctx, http.MethodGet, peerPath(peer, "messages"), nil, &out)
}

func (c *Client) Send(ctx context.Context, peer string, req SendRequest) (domain.MessageID, error) {
	var out Sent
	return out.ID, c.do(ctx, http.MethodPost, peerPath(peer, "messages"), req, &out)
}

func (c *Client) SendFile(ctx context.Context, peer, name string, data []byte) (domain.MessageID, error) {
	var out Sent
	return out.ID, c.do(ctx, http.MethodPost, peerPath(peer, "files"), FileRequest{Name: name, Data: data}, &out)
}

func (c *Client) SetTyping(ctx context.Context, peer string, typing bool) error {
	return c.do(ctx, http.MethodPost, peerPath(peer, "typing"), TypingRequest{Typing: typing}, nil)
}

func (c *Client) Retry(ctx context.Context, peer string, id domain.MessageID) error {
	return c.do(ctx, http.MethodPost, peerPath(peer, "messages", id.String(), "retry"), nil, nil)
}

func (c *Client) RemoveMessage(ctx context.Context, peer string, id domain.MessageID) error {
	return c.do(ctx, http.MethodDelete, peerPath(peer, "messages", id.String()), nil, nil)
}

// File downloads a stored transfer.
func (c *Client) File(ctx context.Context, id domain.TransferID) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Base+"/api/files/"+url.PathEscape(id.String()), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, readError(resp)
	}
	return io.ReadAll(resp.Body)
}

// Events dials the notification stream. The caller reads with
// conn.ReadJSON(&Notification{}) and closes conn when done.
func (c *Client) Events(ctx context.Context) (*websocket.Conn, error) {
	u := "ws" + strings.TrimPrefix(c.Base, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	return conn, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf := new(bytes.Buffer)
		if err := json.NewEncoder(buf).Encode(in); err != nil {
			return err
		}
		body = buf
	}
	req, err := http.NewRequestWithContext(ctx, method, c.Base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return readError(resp)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func readError(resp *http.Response) error {
	var eb errorBody
	if err := json.NewDecoder(resp.Body).Decode(&eb); err != nil || eb.Error == "" {
		eb.Error = resp.Status
	}
	return &Error{Status: resp.StatusCode, Message: eb.Error}
}

func peerPath(peer string, parts ...string) string {
	p := "/api/contacts/" + url.PathEscape(peer)
	for _, part := range parts {
		p += "/" + url.PathEscape(part)
	}
	return p
}
