package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/medvied/mze/internal/blobstore"
	"github.com/medvied/mze/internal/models"
)

// RecordClient speaks the record server protocol.
type RecordClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewRecordClient creates a client for the record server at baseURL,
// including its web location.
func NewRecordClient(baseURL string) *RecordClient {
	return &RecordClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

func (c *RecordClient) do(ctx context.Context, method, op string, query url.Values, body io.Reader) (*http.Response, error) {
	u := c.baseURL + "/" + op
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if method == http.MethodGet {
		req.Header.Set("Accept-Encoding", "gzip")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	return resp, nil
}

func decodeListing(resp *http.Response) (uuid.UUID, models.Listing, error) {
	defer resp.Body.Close()
	var reader io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return uuid.Nil, nil, fmt.Errorf("decompress response: %w", err)
		}
		defer gz.Close()
		reader = gz
	}
	var wrapped InstanceListing
	if err := json.NewDecoder(reader).Decode(&wrapped); err != nil {
		return uuid.Nil, nil, fmt.Errorf("decode listing: %w", err)
	}
	if len(wrapped) != 1 {
		return uuid.Nil, nil, fmt.Errorf("%w: listing names %d instances", blobstore.ErrConsistency, len(wrapped))
	}
	var (
		instance uuid.UUID
		listing  models.Listing
	)
	for i, l := range wrapped {
		instance, listing = i, l
	}
	return instance, listing, nil
}

// Put uploads a new version. A nil record asks the server to mint one.
func (c *RecordClient) Put(ctx context.Context, record *uuid.UUID, body io.Reader) (models.RecordRef, error) {
	query := url.Values{}
	if record != nil {
		query.Set("record", record.String())
	}
	resp, err := c.do(ctx, http.MethodPut, "put", query, body)
	if err != nil {
		return models.RecordRef{}, fmt.Errorf("put record: %w", err)
	}
	instance, listing, err := decodeListing(resp)
	if err != nil {
		return models.RecordRef{}, fmt.Errorf("put record: %w", err)
	}
	if len(listing) == 1 {
		for r, versions := range listing {
			if len(versions) == 1 && (record == nil || r == *record) {
				return models.RecordRef{Instance: instance, Record: r, Version: versions[0]}, nil
			}
		}
	}
	return models.RecordRef{}, fmt.Errorf("put record: %w: unexpected response %v", blobstore.ErrConsistency, listing)
}

// Get streams one version of record, the latest when version is nil.
func (c *RecordClient) Get(ctx context.Context, record uuid.UUID, version *uuid.UUID) (io.ReadCloser, error) {
	query := url.Values{"record": {record.String()}}
	if version != nil {
		query.Set("version", version.String())
	}
	resp, err := c.do(ctx, http.MethodGet, "get", query, nil)
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", record, err)
	}
	return resp.Body, nil
}

// List runs a listing query and returns the answering instance with its listing.
func (c *RecordClient) List(ctx context.Context, q models.ListQuery) (uuid.UUID, models.Listing, error) {
	query := url.Values{}
	if q.Record != nil {
		query.Set("record", q.Record.String())
	}
	switch {
	case q.AllVersions:
		query.Set("version", "all")
	case q.Version != nil:
		query.Set("version", q.Version.String())
	}
	resp, err := c.do(ctx, http.MethodGet, "list", query, nil)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("list records: %w", err)
	}
	return decodeListing(resp)
}
