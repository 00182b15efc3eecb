package strata

import (
	"strings"
	"time"

	"github.com/stratabase/strata/errors"
)

// SnapshotDescription describes a stored snapshot archive
type SnapshotDescription struct {
	Name         string    `json:"name"`
	CreationTime time.Time `json:"creation_time"`
	Size         int64     `json:"size"`
	Checksum     string    `json:"checksum,omitempty"`
}

// SnapshotPriority decides which side wins conflicts when restoring a snapshot
// into a collection that also receives replicated data
type SnapshotPriority string

const (
	PriorityNoSync   SnapshotPriority = "no_sync"
	PrioritySnapshot SnapshotPriority = "snapshot"
	PriorityReplica  SnapshotPriority = "replica"
)

// ParseSnapshotPriority parses a wire value, defaulting the empty string to replica
func ParseSnapshotPriority(value string) (SnapshotPriority, error) {
	switch SnapshotPriority(value) {
	case "":
		return PriorityReplica, nil
	case PriorityNoSync, PrioritySnapshot, PriorityReplica:
		return SnapshotPriority(value), nil
	default:
		return "", errors.New(errors.BadInput, "unknown snapshot priority %q", value)
	}
}

// SnapshotLocation is where a snapshot archive can be read from: an absolute
// local path or a url. It is consumed exactly once by a recover operation.
type SnapshotLocation string

// IsURL reports whether the location must be fetched rather than opened locally
func (l SnapshotLocation) IsURL() bool {
	s := strings.ToLower(string(l))
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "file://")
}

// SnapshotRecover asks for a collection to be restored from a snapshot archive
type SnapshotRecover struct {
	Location SnapshotLocation `json:"location" validate:"required"`
	Priority SnapshotPriority `json:"priority,omitempty"`
}

// Validate checks the recover payload and fills the default priority
func (s *SnapshotRecover) Validate() error {
	if s.Location == "" {
		return errors.New(errors.BadInput, "snapshot location is required")
	}
	priority, err := ParseSnapshotPriority(string(s.Priority))
	if err != nil {
		return err
	}
	s.Priority = priority
	return nil
}
