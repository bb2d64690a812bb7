package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/medvied/mze/internal/blobstore"
	"github.com/medvied/mze/internal/remote"
	"github.com/tidwall/jsonc"
)

// binding is an engine selected by a storage URL.
type binding struct {
	store blobstore.Storage
	// defaults is the engine config implied by the URL, nil for servers
	// which fill in their own.
	defaults blobstore.Config
	local    bool
}

func isRemoteURL(u string) bool {
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}

// openBinding selects the engine for serverURL. Servers are reached through
// the retrying HTTP client.
func openBinding(serverURL string) (*binding, error) {
	if serverURL == "" {
		return nil, fmt.Errorf("%w: no server url, use --server-url or MZE_SERVER_URL", blobstore.ErrConfig)
	}
	if isRemoteURL(serverURL) {
		return &binding{store: remote.NewRetryClient(remote.NewHTTPClient(serverURL), nil)}, nil
	}
	store, defaults, err := blobstore.Open(serverURL)
	if err != nil {
		return nil, err
	}
	return &binding{store: store, defaults: defaults, local: true}, nil
}

// engineConfig parses a JSON engine config, comments and trailing commas
// allowed, and fills missing keys from defaults.
func engineConfig(raw string, defaults blobstore.Config) (blobstore.Config, error) {
	cfg := blobstore.Config{}
	if strings.TrimSpace(raw) != "" {
		if err := json.Unmarshal(jsonc.ToJSON([]byte(raw)), &cfg); err != nil {
			return nil, fmt.Errorf("%w: engine config %q: %v", blobstore.ErrConfig, raw, err)
		}
		if cfg == nil {
			cfg = blobstore.Config{}
		}
	}
	if defaults == nil {
		return cfg, nil
	}
	return cfg.Merge(defaults), nil
}
