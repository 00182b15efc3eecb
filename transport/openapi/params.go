package openapi

import (
	"net/http"
	"time"

	"github.com/spf13/cast"
	"github.com/stratabase/strata"
	"github.com/stratabase/strata/errors"
)

// metaPolicy resolves the wait policy of a collection meta request. Meta
// operations always block - the timeout query param, in whole seconds, bounds
// the wait. An explicit zero means give up immediately.
func metaPolicy(r *http.Request) (strata.WaitPolicy, error) {
	raw := r.URL.Query().Get("timeout")
	if raw == "" {
		return strata.Blocking(), nil
	}
	seconds, err := cast.ToIntE(raw)
	if err != nil || seconds < 0 {
		return strata.WaitPolicy{}, errors.New(errors.BadInput, "timeout must be a non negative whole number of seconds, got %q", raw)
	}
	return strata.BlockingFor(time.Duration(seconds) * time.Second), nil
}

// snapshotPolicy resolves the wait policy of a snapshot request. The wait
// query param defaults to true.
func snapshotPolicy(r *http.Request) (strata.WaitPolicy, error) {
	raw := r.URL.Query().Get("wait")
	if raw == "" {
		return strata.Blocking(), nil
	}
	wait, err := cast.ToBoolE(raw)
	if err != nil {
		return strata.WaitPolicy{}, errors.New(errors.BadInput, "wait must be a boolean, got %q", raw)
	}
	if !wait {
		return strata.Background(), nil
	}
	return strata.Blocking(), nil
}

// snapshotPriority resolves the optional priority query param of recover and
// upload requests
func snapshotPriority(r *http.Request) (strata.SnapshotPriority, error) {
	return strata.ParseSnapshotPriority(r.URL.Query().Get("priority"))
}
