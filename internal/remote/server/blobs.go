package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/medvied/mze/internal/blobstore"
	"github.com/medvied/mze/internal/models"
)

// blobServer binds a blobstore.Storage to HTTP.
type blobServer struct {
	store  blobstore.Storage
	cfg    *ServerConfig
	logger *slog.Logger
}

var blobRoutes = []route[*blobServer]{
	{"put", http.MethodPut, (*blobServer).handlePut},
	{"get", http.MethodGet, (*blobServer).handleGet},
	{"head", http.MethodGet, (*blobServer).handleHead},
	{"catalog", http.MethodGet, (*blobServer).handleCatalog},
	{"delete", http.MethodDelete, (*blobServer).handleDelete},
	{"init", http.MethodPost, (*blobServer).handleInit},
	{"fini", http.MethodPost, (*blobServer).handleFini},
	{"create", http.MethodPost, (*blobServer).handleCreate},
	{"destroy", http.MethodPost, (*blobServer).handleDestroy},
	{"fsck", http.MethodPost, (*blobServer).handleFsck},
}

// Handler creates the HTTP handler of the flat blob server with all routes
// and middleware. The returned cleanup function stops background goroutines
// and should be called on server shutdown.
func Handler(store blobstore.Storage, cfg *ServerConfig, logger *slog.Logger) (http.Handler, func()) {
	if cfg == nil {
		cfg = DefaultServerConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	bs := &blobServer{store: store, cfg: cfg, logger: logger}
	s := newServer(cfg, logger, func(r *http.Request) error {
		_, err := store.Head(r.Context(), nil)
		return err
	})
	checker := &paramChecker{
		instance: cfg.InstanceID,
		allowed:  []string{"id", "instance"},
		words:    map[string][]string{"instance": {"any", "all"}},
	}
	mount(s, bs, blobRoutes, checker.middleware)

	if sweeper, ok := store.(blobstore.TempSweeper); ok {
		s.janitor = startJanitor(sweeper, cfg.SweepInterval, cfg.SweepAge, logger)
	}
	return s.handler()
}

func (s *blobServer) handleGet(w http.ResponseWriter, r *http.Request) {
	ids, err := blobIDs(r.URL.Query())
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if len(ids) != 1 {
		writeBadRequest(w, "get requires exactly one id")
		return
	}

	got, err := s.store.Get(r.Context(), ids)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	data := got[0]
	if data == nil {
		writeError(w, r, s.logger, fmt.Errorf("blob %s: %w", ids[0], blobstore.ErrNotFound))
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	if data.IsFile() {
		f, err := os.Open(data.Path())
		if err != nil {
			if os.IsNotExist(err) {
				// deleted between Get and Open
				writeError(w, r, s.logger, fmt.Errorf("blob %s: %w", ids[0], blobstore.ErrNotFound))
				return
			}
			writeError(w, r, s.logger, err)
			return
		}
		defer f.Close()
		fi, err := f.Stat()
		if err != nil {
			writeError(w, r, s.logger, err)
			return
		}
		http.ServeContent(w, r, "", fi.ModTime(), f)
		return
	}

	b, err := data.Bytes()
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// handlePut stages the request body in a local file and stores it.
func (s *blobServer) handlePut(w http.ResponseWriter, r *http.Request) {
	ids, err := blobIDs(r.URL.Query())
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if len(ids) > 1 {
		writeBadRequest(w, "put accepts at most one id")
		return
	}
	entry := models.PutEntry{}
	if len(ids) == 1 {
		entry.ID = &ids[0]
	}

	tmp, err := os.CreateTemp("", "mze-upload-*")
	if err != nil {
		writeError(w, r, s.logger, fmt.Errorf("create upload file: %w", err))
		return
	}
	defer os.Remove(tmp.Name())

	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxBlobSize)
	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		writeError(w, r, s.logger, fmt.Errorf("read upload: %w", err))
		return
	}
	if err := tmp.Close(); err != nil {
		writeError(w, r, s.logger, fmt.Errorf("close upload file: %w", err))
		return
	}
	entry.Data = models.FileData(tmp.Name())

	out, err := s.store.Put(r.Context(), []models.PutEntry{entry})
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	s.cfg.Webhooks.NotifyPut(s.cfg.InstanceID, []models.BlobID{out[0].ID})
	writeJSON(w, http.StatusOK, out)
}

// handleHead reads ids from the query, or from a JSON list body when the
// query has none.
func (s *blobServer) handleHead(w http.ResponseWriter, r *http.Request) {
	ids, ok := s.requestIDs(w, r)
	if !ok {
		return
	}
	infos, err := s.store.Head(r.Context(), ids)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, pairs(ids, infos))
}

func (s *blobServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	ids, ok := s.requestIDs(w, r)
	if !ok {
		return
	}
	infos, err := s.store.Delete(r.Context(), ids)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	var deleted []models.BlobID
	for i, info := range infos {
		if info != nil {
			deleted = append(deleted, ids[i])
		}
	}
	if len(deleted) > 0 {
		s.cfg.Webhooks.NotifyDelete(s.cfg.InstanceID, deleted)
	}
	writeJSON(w, http.StatusOK, pairs(ids, infos))
}

func (s *blobServer) requestIDs(w http.ResponseWriter, r *http.Request) ([]models.BlobID, bool) {
	ids, err := blobIDs(r.URL.Query())
	if err != nil {
		writeBadRequest(w, err.Error())
		return nil, false
	}
	if len(ids) > 0 || r.ContentLength == 0 {
		return ids, true
	}
	if err := readJSON(r, s.cfg.MaxRequestBody, &ids); err != nil {
		if errors.Is(err, io.EOF) {
			return []models.BlobID{}, true
		}
		writeBadRequest(w, err.Error())
		return nil, false
	}
	return ids, true
}

func pairs(ids []models.BlobID, infos []*models.BlobInfo) []models.IDInfo {
	out := make([]models.IDInfo, len(ids))
	for i, id := range ids {
		out[i] = models.IDInfo{ID: id, Info: infos[i]}
	}
	return out
}

func (s *blobServer) handleCatalog(w http.ResponseWriter, r *http.Request) {
	out, err := s.store.Catalog(r.Context())
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSONGzip(w, r, http.StatusOK, out)
}

// readConfig decodes an optional JSON object body and fills missing keys
// from the server defaults.
func (s *blobServer) readConfig(r *http.Request) (blobstore.Config, error) {
	cfg := blobstore.Config{}
	if r.ContentLength != 0 {
		if err := readJSON(r, s.cfg.MaxRequestBody, &cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
	}
	if cfg == nil {
		cfg = blobstore.Config{}
	}
	return cfg.Merge(s.cfg.Defaults), nil
}

func (s *blobServer) handleInit(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.readConfig(r)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	s.respond(w, r, s.store.Init(r.Context(), cfg))
}

func (s *blobServer) handleCreate(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.readConfig(r)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	s.respond(w, r, s.store.Create(r.Context(), cfg))
}

func (s *blobServer) handleFini(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, s.store.Fini(r.Context()))
}

func (s *blobServer) handleDestroy(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, s.store.Destroy(r.Context()))
}

func (s *blobServer) handleFsck(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, s.store.Fsck(r.Context()))
}

func (s *blobServer) respond(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
