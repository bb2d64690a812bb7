package server

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/medvied/mze/internal/models"
	"github.com/medvied/mze/internal/recordstore"
	"github.com/medvied/mze/internal/remote"
)

// Response headers naming the version served by get.
const (
	HeaderRecord  = "X-Mze-Record"
	HeaderVersion = "X-Mze-Version"
)

type recordServer struct {
	records *recordstore.Store
	cfg     *ServerConfig
	logger  *slog.Logger
}

var recordRoutes = []route[*recordServer]{
	{"get", http.MethodGet, (*recordServer).handleGet},
	{"put", http.MethodPut, (*recordServer).handlePut},
	{"head", http.MethodHead, (*recordServer).handleHead},
	{"list", http.MethodGet, (*recordServer).handleList},
	{"delete", http.MethodDelete, (*recordServer).handleDelete},
}

// RecordHandler creates the HTTP handler of the record server. The returned
// cleanup function stops background goroutines.
func RecordHandler(records *recordstore.Store, cfg *ServerConfig, logger *slog.Logger) (http.Handler, func()) {
	if cfg == nil {
		cfg = DefaultServerConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	rs := &recordServer{records: records, cfg: cfg, logger: logger}
	s := newServer(cfg, logger, func(r *http.Request) error {
		_, err := records.Records(r.Context())
		return err
	})
	checker := &paramChecker{
		instance: cfg.InstanceID,
		allowed:  []string{"instance", "record", "version"},
		words: map[string][]string{
			"instance": {"any", "all"},
			"version":  {"all"},
		},
	}
	mount(s, rs, recordRoutes, checker.middleware)

	s.janitor = startJanitor(records, cfg.SweepInterval, cfg.SweepAge, logger)
	return s.handler()
}

func (s *recordServer) handleGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	record, err := optionalUUID(q, "record")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if record == nil {
		writeBadRequest(w, "get requires a record")
		return
	}
	if q.Get("version") == "all" {
		writeBadRequest(w, "get serves a single version")
		return
	}
	version, err := optionalUUID(q, "version")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	f, v, err := s.records.Open(r.Context(), *record, version)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set(HeaderRecord, record.String())
	w.Header().Set(HeaderVersion, v.ID.String())
	http.ServeContent(w, r, "", fi.ModTime(), f)
}

func (s *recordServer) handlePut(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Has("version") {
		writeBadRequest(w, "put does not accept a version")
		return
	}
	record, err := optionalUUID(q, "record")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if record == nil {
		minted := uuid.New()
		record = &minted
	}

	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxBlobSize)
	v, err := s.records.Put(r.Context(), *record, body)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	s.cfg.Webhooks.NotifyRecordPut(s.cfg.InstanceID, *record, v.ID)
	writeJSON(w, http.StatusOK, remote.InstanceListing{
		s.cfg.InstanceID: models.Listing{*record: {v.ID}},
	})
}

func (s *recordServer) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var query models.ListQuery
	var err error
	if query.Record, err = optionalUUID(q, "record"); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if q.Get("version") == "all" {
		query.AllVersions = true
	} else if query.Version, err = optionalUUID(q, "version"); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	listing, err := s.records.List(r.Context(), query)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSONGzip(w, r, http.StatusOK, remote.InstanceListing{s.cfg.InstanceID: listing})
}

// Records are append-only.
func (s *recordServer) handleHead(w http.ResponseWriter, r *http.Request) {
	handleNotImplemented(w, r)
}

func (s *recordServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	handleNotImplemented(w, r)
}
