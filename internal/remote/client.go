// Package remote talks to the hosted single-document JSON store that backs
// synchronization.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mschirtzinger/todosync/internal/model"
)

// maxBodySize bounds documents read from the server.
const maxBodySize = 5 * 1024 * 1024

var (
	// ErrNoDocument is returned when the server has no document stored yet.
	ErrNoDocument = errors.New("remote document not found")

	// ErrDocumentTooLarge is returned when a response body exceeds the size
	// limit. The document exists but could not be read.
	ErrDocumentTooLarge = errors.New("remote document too large")
)

// Store is the remote side of synchronization.
type Store interface {
	// Fetch returns the stored document.
	Fetch(ctx context.Context) (*model.Document, error)

	// Replace overwrites the stored document with doc.
	Replace(ctx context.Context, doc *model.Document) error
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: HTTP %d", e.Method, e.Code)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Method, e.Code, e.Body)
}

// Config configures a Client.
type Config struct {
	// URL is the document endpoint, e.g. https://api.jsonbin.io/v3/b/<id>.
	URL string

	// Token is sent as X-Master-Key when set.
	Token string

	// Method used for replacement writes: PUT (default) or POST.
	Method string

	// Timeout bounds each request (default 15s).
	Timeout time.Duration

	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client
}

// Client is an HTTP Store.
type Client struct {
	url    string
	token  string
	method string
	http   *http.Client
}

// New creates a Client from cfg.
func New(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid remote URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported remote URL scheme: %q", u.Scheme)
	}

	method := strings.ToUpper(cfg.Method)
	switch method {
	case "":
		method = http.MethodPut
	case http.MethodPut, http.MethodPost:
	default:
		return nil, fmt.Errorf("unsupported write method: %s", cfg.Method)
	}

	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	return &Client{
		url:    u.String(),
		token:  cfg.Token,
		method: method,
		http:   client,
	}, nil
}

// URL returns the document endpoint.
func (c *Client) URL() string {
	return c.url
}

// Fetch implements Store.Fetch.
func (c *Client) Fetch(ctx context.Context) (*model.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	doc, err := decodeDocument(body)
	if err != nil {
		return nil, fmt.Errorf("decode remote document: %w", err)
	}
	return doc, nil
}

// Replace implements Store.Replace.
func (c *Client) Replace(ctx context.Context, doc *model.Document) error {
	payload := *doc
	if payload.Categories == nil {
		payload.Categories = []model.Category{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, c.method, c.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	_, err = c.do(req)
	return err
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "todosync/1.0")
	// Asks jsonbin-compatible servers for the bare record.
	req.Header.Set("X-Bin-Meta", "false")
	if c.token != "" {
		req.Header.Set("X-Master-Key", c.token)
	}
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, c.url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	tooLarge := len(body) > maxBodySize
	if tooLarge {
		body = body[:maxBodySize]
	}

	if resp.StatusCode == http.StatusNotFound && req.Method == http.MethodGet {
		return nil, ErrNoDocument
	}
	if tooLarge && resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return nil, fmt.Errorf("%w: %s %s returned more than %d bytes", ErrDocumentTooLarge, req.Method, c.url, maxBodySize)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{
			Method: req.Method,
			Code:   resp.StatusCode,
			Body:   strings.TrimSpace(string(body)),
		}
	}
	return body, nil
}

// envelope is the jsonbin v3 response shape when metadata is not disabled.
type envelope struct {
	Record json.RawMessage `json:"record"`
}

func decodeDocument(body []byte) (*model.Document, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err == nil && len(env.Record) > 0 && string(env.Record) != "null" {
		body = env.Record
	}

	var doc model.Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, err
	}
	if doc.LastUpdate == "" && doc.Categories == nil {
		return nil, ErrNoDocument
	}
	for n := range doc.Categories {
		if doc.Categories[n].TodoItems == nil {
			doc.Categories[n].TodoItems = []model.Item{}
		}
	}
	return &doc, nil
}
