package config

import "github.com/spf13/pflag"

// ServerFlags are the command-line overrides of ServerConfig shared by
// `mze server start` and mze-server.
type ServerFlags struct {
	fs *pflag.FlagSet

	listen      string
	storageDir  string
	storageURL  string
	mode        string
	webLocation string
	instanceID  string
	clientURL   string
	logLevel    string
	logFormat   string
	webhookURLs string

	workers           int
	requestsPerMinute int
	maxBlobSize       int64
}

// NewServerFlags registers the server flags on fs.
func NewServerFlags(fs *pflag.FlagSet) *ServerFlags {
	f := &ServerFlags{fs: fs}
	fs.StringVar(&f.listen, "listen", "", "Listen address, host:port (env: MZE_LISTEN)")
	fs.StringVar(&f.storageDir, "storage-dir", "", "Storage directory (env: MZE_STORAGE_DIR)")
	fs.StringVar(&f.storageURL, "storage-url", "", "Blob mode engine URL, default file:<storage-dir> (env: MZE_STORAGE_URL)")
	fs.StringVar(&f.mode, "mode", "", "Server mode, blob or record (env: MZE_SERVER_MODE)")
	fs.StringVar(&f.webLocation, "web-location", "", "Route prefix (env: MZE_WEB_LOCATION)")
	fs.StringVar(&f.instanceID, "instance-id", "", "Instance UUID (env: MZE_INSTANCE_ID)")
	fs.StringVar(&f.clientURL, "client-url", "", "URL clients use to reach this server (env: MZE_CLIENT_URL)")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn, error (env: MZE_LOG_LEVEL)")
	fs.StringVar(&f.logFormat, "log-format", "", "Log format: json, text (env: MZE_LOG_FORMAT)")
	fs.StringVar(&f.webhookURLs, "webhook-urls", "", "Comma-separated webhook URLs (env: MZE_WEBHOOK_URLS)")
	fs.IntVar(&f.workers, "workers", 0, "Concurrent engine calls, 0 for unbounded (env: MZE_WORKERS)")
	fs.IntVar(&f.requestsPerMinute, "requests-per-minute", 0, "Per client rate limit, 0 disables it (env: MZE_REQUESTS_PER_MINUTE)")
	fs.Int64Var(&f.maxBlobSize, "max-blob-size", 0, "Largest accepted upload in bytes, 0 for the built-in limit")
	return f
}

// Apply copies the flags given on the command line into s. Flags left unset
// keep the value from the config file or the environment.
func (f *ServerFlags) Apply(s *ServerConfig) {
	strs := []struct {
		name string
		dst  *string
		v    string
	}{
		{"listen", &s.Listen, f.listen},
		{"storage-dir", &s.StorageDir, f.storageDir},
		{"storage-url", &s.StorageURL, f.storageURL},
		{"mode", &s.Mode, f.mode},
		{"web-location", &s.WebLocation, f.webLocation},
		{"instance-id", &s.InstanceID, f.instanceID},
		{"client-url", &s.ClientURL, f.clientURL},
		{"log-level", &s.LogLevel, f.logLevel},
		{"log-format", &s.LogFormat, f.logFormat},
	}
	for _, st := range strs {
		if f.fs.Changed(st.name) {
			*st.dst = st.v
		}
	}
	if f.fs.Changed("webhook-urls") {
		s.WebhookURLs = SplitList(f.webhookURLs)
	}
	if f.fs.Changed("workers") {
		s.Workers = f.workers
	}
	if f.fs.Changed("requests-per-minute") {
		s.RequestsPerMinute = f.requestsPerMinute
	}
	if f.fs.Changed("max-blob-size") {
		s.MaxBlobSize = f.maxBlobSize
	}
}
