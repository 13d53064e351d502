// Package restapi implements the origin and target collaborators for
// plain REST endpoints: collections enumerated with offset pagination,
// objects written with POST/PUT/DELETE.
package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/marcus/syncbridge/internal/engine"
	"github.com/marcus/syncbridge/internal/models"
)

// ErrNotFound marks a 404 from the remote system.
var ErrNotFound = errors.New("not found")

const (
	defaultPageSize = 100
	defaultIDField  = "id"
)

// Client talks to REST endpoints described by a models.Descriptor. The
// descriptor's Config keys it understands:
//
//	api_key    bearer token for the Authorization header
//	id_field   object field carrying the identifier (default "id")
//	page_size  enumeration page size (default 100)
type Client struct {
	HTTP *http.Client
}

func NewClient() *Client {
	return &Client{HTTP: &http.Client{Timeout: 30 * time.Second}}
}

var _ engine.OriginClient = (*Client)(nil)
var _ engine.TargetClient = (*Client)(nil)

// Enumerate pages through the collection at the descriptor endpoint and
// streams every object through fn.
func (c *Client) Enumerate(ctx context.Context, source models.Descriptor, fn func(engine.Record) error) error {
	idField := configOr(source, "id_field", defaultIDField)
	pageSize := defaultPageSize
	if v := source.Config["page_size"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			pageSize = n
		}
	}

	for offset := 0; ; offset += pageSize {
		url := fmt.Sprintf("%s?limit=%d&offset=%d", source.Endpoint, pageSize, offset)
		var page []map[string]any
		if err := c.do(ctx, source, http.MethodGet, url, nil, &page); err != nil {
			return fmt.Errorf("list %s at offset %d: %w", source.Endpoint, offset, err)
		}

		for _, obj := range page {
			id, _ := obj[idField].(string)
			if id == "" {
				if n, ok := obj[idField].(float64); ok {
					id = strconv.FormatInt(int64(n), 10)
				}
			}
			if err := fn(engine.Record{ID: id, Data: obj}); err != nil {
				return err
			}
		}

		if len(page) < pageSize {
			return nil
		}
	}
}

// Write creates or updates one object. The returned target id comes
// from the response body, falling back to the id we addressed.
func (c *Client) Write(ctx context.Context, target models.Descriptor, targetID string, record map[string]any, action models.Action) (engine.WriteResult, error) {
	var (
		method = http.MethodPost
		url    = target.Endpoint
	)
	if action == models.ActionUpdate && targetID != "" {
		method = http.MethodPut
		url = target.Endpoint + "/" + targetID
	}

	var resp map[string]any
	if err := c.do(ctx, target, method, url, record, &resp); err != nil {
		return engine.WriteResult{}, err
	}

	idField := configOr(target, "id_field", defaultIDField)
	wr := engine.WriteResult{TargetID: targetID}
	if id, ok := resp[idField].(string); ok && id != "" {
		wr.TargetID = id
	}
	wr.Response = fmt.Sprintf("%s %s", method, url)
	return wr, nil
}

// Read fetches one object by id.
func (c *Client) Read(ctx context.Context, target models.Descriptor, targetID string) (map[string]any, error) {
	var obj map[string]any
	if err := c.do(ctx, target, http.MethodGet, target.Endpoint+"/"+targetID, nil, &obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// Delete removes one object. An object that is already gone counts as
// deleted.
func (c *Client) Delete(ctx context.Context, target models.Descriptor, targetID string) error {
	err := c.do(ctx, target, http.MethodDelete, target.Endpoint+"/"+targetID, nil, nil)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

func (c *Client) do(ctx context.Context, d models.Descriptor, method, url string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key := d.Config["api_key"]; key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s %s", ErrNotFound, method, url)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

func configOr(d models.Descriptor, key, fallback string) string {
	if v := d.Config[key]; v != "" {
		return v
	}
	return fallback
}
