package blobstore

import (
	"fmt"
	"net/url"
	"strings"
)

// Open returns an unbound engine for a storage URL together with the config
// that Init or Create expect for it.
//
//	file:<dir>            flat directory (a bare path works too)
//	bolt:<file>           bbolt database
//	sqlite:<file>         SQLite database
//	s3://bucket/prefix    S3 bucket; ?region= and ?endpoint= are optional
func Open(rawURL string) (Storage, Config, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: storage url %q: %v", ErrConfig, rawURL, err)
	}
	switch u.Scheme {
	case "", "file":
		p, err := localPath(u)
		if err != nil {
			return nil, nil, err
		}
		return NewFSStore(), Config{"path": p}, nil
	case "bolt":
		p, err := localPath(u)
		if err != nil {
			return nil, nil, err
		}
		return NewBoltStore(), Config{"path": p}, nil
	case "sqlite":
		p, err := localPath(u)
		if err != nil {
			return nil, nil, err
		}
		return NewSQLiteStore(), Config{"path": p}, nil
	case "s3":
		if u.Host == "" {
			return nil, nil, fmt.Errorf("%w: storage url %q has no bucket", ErrConfig, rawURL)
		}
		cfg := Config{"bucket": u.Host}
		if p := strings.TrimPrefix(u.Path, "/"); p != "" {
			cfg["prefix"] = p
		}
		q := u.Query()
		if r := q.Get("region"); r != "" {
			cfg["region"] = r
		}
		if e := q.Get("endpoint"); e != "" {
			cfg["endpoint"] = e
		}
		return NewS3Store(), cfg, nil
	default:
		return nil, nil, fmt.Errorf("%w: unsupported storage scheme %q", ErrConfig, u.Scheme)
	}
}

func localPath(u *url.URL) (string, error) {
	p := u.Opaque
	if p == "" {
		p = u.Path
	}
	if p == "" {
		return "", fmt.Errorf("%w: storage url %q has no path", ErrConfig, u.String())
	}
	return p, nil
}
