package models

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Version is one immutable version of a record.
type Version struct {
	Number int
	ID     uuid.UUID
}

// Name returns the on-disk file name of the version: "<number>-<id>".
func (v Version) Name() string {
	return strconv.Itoa(v.Number) + "-" + v.ID.String()
}

// ParseVersionName parses a "<number>-<id>" file name. The number must be
// written without sign or leading zeros so every version has one name.
func ParseVersionName(name string) (Version, error) {
	num, id, ok := strings.Cut(name, "-")
	if !ok {
		return Version{}, fmt.Errorf("%w: version name %q has no separator", ErrInvalidID, name)
	}
	n, err := strconv.Atoi(num)
	if err != nil || n < 0 || strconv.Itoa(n) != num {
		return Version{}, fmt.Errorf("%w: version name %q has a malformed number", ErrInvalidID, name)
	}
	u, err := ParseUUID(id)
	if err != nil {
		return Version{}, fmt.Errorf("version name %q: %w", name, err)
	}
	return Version{Number: n, ID: u}, nil
}

// Listing maps record ids to version ids.
type Listing map[uuid.UUID][]uuid.UUID

// ListQuery selects records and versions for a listing.
//
//	Record  Version      Result
//	nil     none         every record with an empty list
//	nil     all          every record with all its versions
//	nil     specific     invalid
//	set     none         the latest version
//	set     all          all versions ordered by number
//	set     specific     that version, if present
type ListQuery struct {
	Record      *uuid.UUID
	Version     *uuid.UUID
	AllVersions bool
}

// RecordRef names one version of one record on one instance.
type RecordRef struct {
	Instance uuid.UUID
	Record   uuid.UUID
	Version  uuid.UUID
}
