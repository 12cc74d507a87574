package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	apperrors "github.com/yuchilin/plannerd/internal/errors"
	"github.com/yuchilin/plannerd/internal/logging"
	"github.com/yuchilin/plannerd/internal/models"
)

// Config holds connection settings for the hosted document store.
type Config struct {
	// Endpoint is the HTTP base URL, e.g. "https://sync.example.com".
	Endpoint string

	// Token is the bearer session token supplied by the auth layer.
	Token string
}

// HTTPStore talks JSON over REST to the remote document store and
// watches documents over a WebSocket.
type HTTPStore struct {
	config     *Config
	httpClient *http.Client
	dialer     *websocket.Dialer
}

// NewHTTPStore creates an HTTPStore.
func NewHTTPStore(config *Config) *HTTPStore {
	return &HTTPStore{
		config: config,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:       10,
				IdleConnTimeout:    30 * time.Second,
				DisableCompression: false,
			},
		},
		dialer: websocket.DefaultDialer,
	}
}

// Get implements DocumentStore.Get.
func (c *HTTPStore) Get(ctx context.Context, collection, userID string) (*models.SyncDocument, error) {
	req, err := c.createRequest(ctx, http.MethodGet, c.docPath(collection, userID), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrNetwork, "get request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("get", resp)
	}

	var doc models.SyncDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrNetwork, "failed to parse document", err)
	}
	return &doc, nil
}

// Merge implements DocumentStore.Merge.
func (c *HTTPStore) Merge(ctx context.Context, collection, userID string, doc *models.SyncDocument) (*models.SyncDocument, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "document is not JSON-serializable", err)
	}

	req, err := c.createRequest(ctx, http.MethodPatch, c.docPath(collection, userID), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrNetwork, "merge request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("merge", resp)
	}

	var merged models.SyncDocument
	if err := json.NewDecoder(resp.Body).Decode(&merged); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrNetwork, "failed to parse merged document", err)
	}
	return &merged, nil
}

// watchEnvelope wraps messages on the document watch socket.
type watchEnvelope struct {
	Type     string               `json:"type"`
	Document *models.SyncDocument `json:"document,omitempty"`
}

// Subscribe implements DocumentStore.Subscribe. The watch socket
// redials with a flat delay until cancelled; a change notification
// delivers the full current document.
func (c *HTTPStore) Subscribe(ctx context.Context, collection, userID string, h ChangeHandler) (CancelFunc, error) {
	wsURL, err := c.watchURL(collection, userID)
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)

	go c.watchLoop(subCtx, wsURL, collection, userID, h)

	return CancelFunc(cancel), nil
}

func (c *HTTPStore) watchLoop(ctx context.Context, wsURL, collection, userID string, h ChangeHandler) {
	const redialDelay = 5 * time.Second

	header := http.Header{}
	if c.config.Token != "" {
		header.Set("Authorization", "Bearer "+c.config.Token)
	}

	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := c.dialer.DialContext(ctx, wsURL, header)
		if err != nil {
			logging.Warn("document watch dial failed",
				map[string]interface{}{
					"collection": collection,
					"user_id":    userID,
					"error":      err.Error(),
				})
			select {
			case <-ctx.Done():
				return
			case <-time.After(redialDelay):
				continue
			}
		}

		c.readDocuments(ctx, conn, h)
		conn.Close()
	}
}

// readDocuments pumps change notifications until the connection drops
// or the context is cancelled.
func (c *HTTPStore) readDocuments(ctx context.Context, conn *websocket.Conn, h ChangeHandler) {
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var envelope watchEnvelope
		if err := conn.ReadJSON(&envelope); err != nil {
			if ctx.Err() == nil {
				logging.Debug("document watch closed",
					map[string]interface{}{"error": err.Error()})
			}
			return
		}

		if envelope.Type == "document" && envelope.Document != nil {
			h(envelope.Document)
		}
	}
}

func (c *HTTPStore) docPath(collection, userID string) string {
	return fmt.Sprintf("/v1/docs/%s/%s", url.PathEscape(collection), url.PathEscape(userID))
}

func (c *HTTPStore) watchURL(collection, userID string) (string, error) {
	u, err := url.Parse(c.config.Endpoint)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrInvalid, "invalid endpoint", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + c.docPath(collection, userID) + "/watch"
	return u.String(), nil
}

func (c *HTTPStore) createRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	urlStr := strings.TrimSuffix(c.config.Endpoint, "/") + path

	req, err := http.NewRequestWithContext(ctx, method, urlStr, body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "failed to create request", err)
	}
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}
	return req, nil
}

func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return apperrors.New(apperrors.ErrNetwork,
		fmt.Sprintf("%s failed with status %d: %s", op, resp.StatusCode, string(body)))
}
