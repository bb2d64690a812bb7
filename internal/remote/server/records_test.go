package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/medvied/mze/internal/blobstore"
	"github.com/medvied/mze/internal/models"
	"github.com/medvied/mze/internal/recordstore"
	"github.com/medvied/mze/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecordServer(t *testing.T) (*httptest.Server, *recordstore.Store) {
	t.Helper()

	records, err := recordstore.New(t.TempDir())
	require.NoError(t, err)

	cfg := testConfig("")
	h, cleanup := RecordHandler(records, cfg, testLogger())
	t.Cleanup(cleanup)
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return ts, records
}

func newRecordClient(ts *httptest.Server) *remote.RecordClient {
	return remote.NewRecordClient(ts.URL + testLocation)
}

func TestRecords_PutMintsRecord(t *testing.T) {
	ts, records := newRecordServer(t)

	resp := doReq(t, http.MethodPut, ts.URL+testLocation+"/put", strings.NewReader("v0"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listing remote.InstanceListing
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listing))
	require.Len(t, listing, 1)
	require.Contains(t, listing, testInstance)
	require.Len(t, listing[testInstance], 1)

	for record, versions := range listing[testInstance] {
		require.Len(t, versions, 1)
		stored, err := records.Versions(context.Background(), record)
		require.NoError(t, err)
		require.Len(t, stored, 1)
		assert.Equal(t, versions[0], stored[0].ID)
		assert.Equal(t, 0, stored[0].Number)
	}
}

func TestRecords_PutRejectsVersion(t *testing.T) {
	ts, _ := newRecordServer(t)

	url := ts.URL + testLocation + "/put?record=" + uuid.NewString() + "&version=" + uuid.NewString()
	resp := doReq(t, http.MethodPut, url, strings.NewReader("x"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRecords_ClientRoundTrip(t *testing.T) {
	ts, _ := newRecordServer(t)
	c := newRecordClient(ts)
	ctx := context.Background()

	first, err := c.Put(ctx, nil, strings.NewReader("first"))
	require.NoError(t, err)
	assert.Equal(t, testInstance, first.Instance)

	second, err := c.Put(ctx, &first.Record, strings.NewReader("second"))
	require.NoError(t, err)
	assert.Equal(t, first.Record, second.Record)
	assert.NotEqual(t, first.Version, second.Version)

	read := func(version *uuid.UUID) string {
		body, err := c.Get(ctx, first.Record, version)
		require.NoError(t, err)
		defer body.Close()
		b, err := io.ReadAll(body)
		require.NoError(t, err)
		return string(b)
	}
	assert.Equal(t, "second", read(nil))
	assert.Equal(t, "first", read(&first.Version))

	instance, listing, err := c.List(ctx, models.ListQuery{Record: &first.Record, AllVersions: true})
	require.NoError(t, err)
	assert.Equal(t, testInstance, instance)
	assert.Equal(t, models.Listing{first.Record: {first.Version, second.Version}}, listing)

	_, listing, err = c.List(ctx, models.ListQuery{Record: &first.Record})
	require.NoError(t, err)
	assert.Equal(t, models.Listing{first.Record: {second.Version}}, listing)

	_, listing, err = c.List(ctx, models.ListQuery{})
	require.NoError(t, err)
	assert.Equal(t, models.Listing{first.Record: {}}, listing)
}

func TestRecords_GetHeaders(t *testing.T) {
	ts, _ := newRecordServer(t)
	ref, err := newRecordClient(ts).Put(context.Background(), nil, strings.NewReader("payload"))
	require.NoError(t, err)

	resp := doReq(t, http.MethodGet, ts.URL+testLocation+"/get?record="+ref.Record.String(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, ref.Record.String(), resp.Header.Get(HeaderRecord))
	assert.Equal(t, ref.Version.String(), resp.Header.Get(HeaderVersion))
	assert.Equal(t, "7", resp.Header.Get("Content-Length"))
}

func TestRecords_GetErrors(t *testing.T) {
	ts, _ := newRecordServer(t)
	c := newRecordClient(ts)
	ctx := context.Background()
	ref, err := c.Put(ctx, nil, strings.NewReader("x"))
	require.NoError(t, err)

	resp := doReq(t, http.MethodGet, ts.URL+testLocation+"/get", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, err = c.Get(ctx, uuid.New(), nil)
	assert.ErrorIs(t, err, blobstore.ErrNotFound)

	missing := uuid.New()
	_, err = c.Get(ctx, ref.Record, &missing)
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
	var remoteErr *remote.RemoteError
	require.True(t, errors.As(err, &remoteErr))
	assert.Equal(t, http.StatusNotFound, remoteErr.Status)
}

func TestRecords_ListSpecificVersionNeedsRecord(t *testing.T) {
	ts, _ := newRecordServer(t)

	_, _, err := newRecordClient(ts).List(context.Background(), models.ListQuery{Version: &uuid.Nil})
	assert.ErrorIs(t, err, blobstore.ErrValidation)
}

func TestRecords_ParamCheck(t *testing.T) {
	ts, _ := newRecordServer(t)
	loc := ts.URL + testLocation

	tests := []struct {
		name   string
		query  string
		status int
	}{
		{"unknown key", "?id=" + uuid.NewString(), http.StatusBadRequest},
		{"bad record", "?record=nope", http.StatusBadRequest},
		{"version all", "?version=all", http.StatusOK},
		{"record any is not a word", "?record=any", http.StatusBadRequest},
		{"instance all", "?instance=all", http.StatusOK},
		{"other instance", "?instance=" + uuid.NewString(), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doReq(t, http.MethodGet, loc+"/list"+tt.query, nil)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}

	resp := doReq(t, http.MethodGet, loc+"/list?bogus=1", nil)
	e := decodeErrorResponse(t, resp)
	assert.Equal(t, `bogus is not one of ["instance", "record", "version"]`, e.Message)
}

func TestRecords_HeadAndDeleteNotImplemented(t *testing.T) {
	ts, _ := newRecordServer(t)

	resp := doReq(t, http.MethodHead, ts.URL+testLocation+"/head?record="+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)

	resp = doReq(t, http.MethodDelete, ts.URL+testLocation+"/delete?record="+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
	assert.Equal(t, remote.CodeNotImplemented, decodeErrorResponse(t, resp).Error)
}
