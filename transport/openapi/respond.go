package openapi

import (
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stratabase/strata/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// envelope is the wire form of every response. Time is elapsed milliseconds.
type envelope struct {
	Result any     `json:"result,omitempty"`
	Status any     `json:"status"`
	Time   float64 `json:"time"`
}

type statusError struct {
	Error string `json:"error"`
}

func elapsedMillis(started time.Time) float64 {
	return float64(time.Since(started)) / float64(time.Millisecond)
}

func writeEnvelope(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// respondOk writes the 200 envelope around a result payload
func respondOk(w http.ResponseWriter, started time.Time, result any) {
	writeEnvelope(w, http.StatusOK, envelope{
		Result: result,
		Status: "ok",
		Time:   elapsedMillis(started),
	})
}

// respondAccepted writes the 202 envelope for work continuing in the background
func respondAccepted(w http.ResponseWriter, started time.Time) {
	writeEnvelope(w, http.StatusAccepted, envelope{
		Status: "accepted",
		Time:   elapsedMillis(started),
	})
}

// respondError maps the error code onto the http status and writes the
// failure envelope
func respondError(w http.ResponseWriter, started time.Time, err error) {
	status := http.StatusInternalServerError
	e := errors.Extract(err)
	if code := int(e.Code); code >= 400 && code < 600 {
		status = code
	}
	message := "internal error"
	if len(e.Messages) > 0 {
		message = e.Messages[0]
	} else if e.Err != nil {
		message = e.Err.Error()
	}
	writeEnvelope(w, status, envelope{
		Status: statusError{Error: message},
		Time:   elapsedMillis(started),
	})
}
