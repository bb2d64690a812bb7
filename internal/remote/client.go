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

	"github.com/klauspost/compress/gzip"
	"github.com/medvied/mze/internal/blobstore"
	"github.com/medvied/mze/internal/models"
)

// HTTPClient implements blobstore.Storage against a flat storage server.
// baseURL includes the server's web location, e.g. http://host/mze.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

var _ blobstore.Storage = (*HTTPClient)(nil)

// NewHTTPClient creates an HTTP-based storage client.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

func (c *HTTPClient) opURL(op string, query url.Values) string {
	u := c.baseURL + "/" + op
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *HTTPClient) do(ctx context.Context, method, url string, body io.Reader, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}

	return resp, nil
}

func (c *HTTPClient) doJSON(ctx context.Context, method, url string, reqBody, respBody interface{}) error {
	var body io.Reader
	headers := map[string]string{"Content-Type": "application/json"}

	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	resp, err := c.do(ctx, method, url, body, headers)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}

	if respBody != nil {
		if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

func (c *HTTPClient) manage(ctx context.Context, op string, cfg blobstore.Config) error {
	var body interface{}
	if cfg != nil {
		body = cfg
	} else if op == "init" || op == "create" {
		body = blobstore.Config{}
	}
	if err := c.doJSON(ctx, http.MethodPost, c.opURL(op, nil), body, nil); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Init asks the server to bind its engine. Keys missing from cfg are filled
// from the server's defaults.
func (c *HTTPClient) Init(ctx context.Context, cfg blobstore.Config) error {
	return c.manage(ctx, "init", cfg)
}

func (c *HTTPClient) Fini(ctx context.Context) error {
	return c.manage(ctx, "fini", nil)
}

// Create asks the server to create and bind its store.
func (c *HTTPClient) Create(ctx context.Context, cfg blobstore.Config) error {
	return c.manage(ctx, "create", cfg)
}

func (c *HTTPClient) Destroy(ctx context.Context) error {
	return c.manage(ctx, "destroy", nil)
}

func (c *HTTPClient) Fsck(ctx context.Context) error {
	return c.manage(ctx, "fsck", nil)
}

// Get downloads each blob. A not_found response yields nil.
func (c *HTTPClient) Get(ctx context.Context, ids []models.BlobID) ([]*models.BlobData, error) {
	out := make([]*models.BlobData, len(ids))
	for i, id := range ids {
		data, err := c.getOne(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get blob %s: %w", id, err)
		}
		out[i] = data
	}
	return out, nil
}

func (c *HTTPClient) getOne(ctx context.Context, id models.BlobID) (*models.BlobData, error) {
	resp, err := c.do(ctx, http.MethodGet, c.opURL("get", url.Values{"id": {id.String()}}), nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		err := decodeError(resp)
		if re, ok := err.(*RemoteError); ok && re.Code == CodeNotFound {
			return nil, nil
		}
		return nil, err
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	data := models.InlineData(b)
	return &data, nil
}

// Put uploads each entry as a raw request body.
func (c *HTTPClient) Put(ctx context.Context, entries []models.PutEntry) ([]models.IDInfo, error) {
	if err := blobstore.ValidatePut(entries); err != nil {
		return nil, err
	}
	out := make([]models.IDInfo, 0, len(entries))
	for i, e := range entries {
		p, err := c.putOne(ctx, e)
		if err != nil {
			return out, fmt.Errorf("put entry %d: %w", i, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func (c *HTTPClient) putOne(ctx context.Context, e models.PutEntry) (models.IDInfo, error) {
	size, err := e.Data.Size()
	if err != nil {
		return models.IDInfo{}, err
	}
	body, err := e.Data.Open()
	if err != nil {
		return models.IDInfo{}, err
	}
	defer body.Close()

	query := url.Values{}
	if e.ID != nil {
		query.Set("id", e.ID.String())
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.opURL("put", query), body)
	if err != nil {
		return models.IDInfo{}, fmt.Errorf("create request: %w", err)
	}
	req.ContentLength = size
	if size == 0 {
		req.Body = http.NoBody
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.IDInfo{}, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return models.IDInfo{}, decodeError(resp)
	}
	var pairs []models.IDInfo
	if err := json.NewDecoder(resp.Body).Decode(&pairs); err != nil {
		return models.IDInfo{}, fmt.Errorf("decode response: %w", err)
	}
	if len(pairs) != 1 || pairs[0].Info == nil {
		return models.IDInfo{}, fmt.Errorf("%w: put response has %d entries", blobstore.ErrConsistency, len(pairs))
	}
	if e.ID != nil && pairs[0].ID != *e.ID {
		return models.IDInfo{}, fmt.Errorf("%w: put response names %s, sent %s", blobstore.ErrConsistency, pairs[0].ID, e.ID)
	}
	return pairs[0], nil
}

// Head sends all ids in one request as repeated query parameters.
func (c *HTTPClient) Head(ctx context.Context, ids []models.BlobID) ([]*models.BlobInfo, error) {
	if len(ids) == 0 {
		return []*models.BlobInfo{}, nil
	}
	query := url.Values{}
	for _, id := range ids {
		query.Add("id", id.String())
	}
	var pairs []models.IDInfo
	if err := c.doJSON(ctx, http.MethodGet, c.opURL("head", query), nil, &pairs); err != nil {
		return nil, fmt.Errorf("head: %w", err)
	}
	return infosFor(ids, pairs)
}

// Delete sends the ids as a JSON list.
func (c *HTTPClient) Delete(ctx context.Context, ids []models.BlobID) ([]*models.BlobInfo, error) {
	if len(ids) == 0 {
		return []*models.BlobInfo{}, nil
	}
	var pairs []models.IDInfo
	if err := c.doJSON(ctx, http.MethodDelete, c.opURL("delete", nil), ids, &pairs); err != nil {
		return nil, fmt.Errorf("delete: %w", err)
	}
	return infosFor(ids, pairs)
}

// infosFor checks that pairs answers ids position by position.
func infosFor(ids []models.BlobID, pairs []models.IDInfo) ([]*models.BlobInfo, error) {
	if len(pairs) != len(ids) {
		return nil, fmt.Errorf("%w: expected %d entries in response, got %d", blobstore.ErrConsistency, len(ids), len(pairs))
	}
	out := make([]*models.BlobInfo, len(ids))
	for i, p := range pairs {
		if p.ID != ids[i] {
			return nil, fmt.Errorf("%w: response entry %d names %s, expected %s", blobstore.ErrConsistency, i, p.ID, ids[i])
		}
		out[i] = p.Info
	}
	return out, nil
}

// Catalog fetches the full listing, gzip-compressed when the server supports it.
func (c *HTTPClient) Catalog(ctx context.Context) ([]models.IDInfo, error) {
	resp, err := c.do(ctx, http.MethodGet, c.opURL("catalog", nil), nil, map[string]string{"Accept-Encoding": "gzip"})
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("catalog: %w", decodeError(resp))
	}

	var reader io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("decompress response: %w", err)
		}
		defer gz.Close()
		reader = gz
	}

	out := []models.IDInfo{}
	if err := json.NewDecoder(reader).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return out, nil
}

// RemoteError represents a structured error from the server. It unwraps to
// the matching blobstore sentinel, so errors.Is works across the wire.
type RemoteError struct {
	Code    string
	Message string
	Status  int
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error (%d): %s: %s", e.Status, e.Code, e.Message)
}

func (e *RemoteError) Unwrap() error {
	return sentinelFor(e.Code)
}

func decodeError(resp *http.Response) error {
	var errResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		return &RemoteError{
			Code:    "unknown",
			Message: fmt.Sprintf("HTTP %d", resp.StatusCode),
			Status:  resp.StatusCode,
		}
	}

	return &RemoteError{
		Code:    errResp.Error,
		Message: errResp.Message,
		Status:  resp.StatusCode,
	}
}
