package server

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/medvied/mze/internal/models"
)

// paramChecker validates query parameters before a handler runs. Keys
// outside allowed are rejected, the instance must be this server's (or any
// or all), and other values must be canonical UUIDs unless listed in words.
type paramChecker struct {
	instance uuid.UUID
	allowed  []string
	words    map[string][]string
}

func (c *paramChecker) check(q url.Values) error {
	for k, values := range q {
		if !contains(c.allowed, k) {
			return fmt.Errorf("%s is not one of [%s]", k, quoteJoin(c.allowed))
		}
		for _, v := range values {
			if err := c.checkValue(k, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *paramChecker) checkValue(k, v string) error {
	if contains(c.words[k], v) {
		return nil
	}
	u, err := models.ParseUUID(v)
	if err != nil {
		return fmt.Errorf("invalid UUID %q for %s: %v", v, k, err)
	}
	if k == "instance" && u != c.instance {
		return fmt.Errorf("request is for instance %s, but the current instance is %s", u, c.instance)
	}
	return nil
}

func (c *paramChecker) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := c.check(r.URL.Query()); err != nil {
			writeBadRequest(w, err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func quoteJoin(list []string) string {
	quoted := make([]string, len(list))
	for i, s := range list {
		quoted[i] = `"` + s + `"`
	}
	return strings.Join(quoted, ", ")
}

// optionalUUID returns the parsed single value of key, nil when absent.
// Values were validated by the param checker.
func optionalUUID(q url.Values, key string) (*uuid.UUID, error) {
	values := q[key]
	switch len(values) {
	case 0:
		return nil, nil
	case 1:
		u, err := models.ParseUUID(values[0])
		if err != nil {
			return nil, err
		}
		return &u, nil
	default:
		return nil, fmt.Errorf("%s given %d times", key, len(values))
	}
}

// blobIDs parses every id query parameter.
func blobIDs(q url.Values) ([]models.BlobID, error) {
	ids := make([]models.BlobID, 0, len(q["id"]))
	for _, v := range q["id"] {
		id, err := models.ParseBlobID(v)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
