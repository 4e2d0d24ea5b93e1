package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net"

	"github.com/jon4hz/jellyfetch/internal/database"
	"github.com/jon4hz/jellyfetch/internal/debrid"
	"github.com/jon4hz/jellyfetch/internal/mediaserver"
	"github.com/jon4hz/jellyfetch/internal/metadata"
	"github.com/jon4hz/jellyfetch/internal/ratelimit"
	"github.com/jon4hz/jellyfetch/internal/scraper"
)

// ErrorKind is how the pipeline reacts to a failure.
type ErrorKind int

const (
	// Transient failures leave the item in its state for the next tick.
	Transient ErrorKind = iota
	// RateLimited is transient and also flags over-usage.
	RateLimited
	// NotFound is a definitive miss, or success for removals.
	NotFound
	// Parse failures drop the offending record.
	Parse
	// FatalItem blacklists the item.
	FatalItem
	// FatalProcess stops all work until the process is healthy again.
	FatalProcess
)

func (k ErrorKind) String() string {
	switch k {
	case Transient:
		return "transient"
	case RateLimited:
		return "rate_limited"
	case NotFound:
		return "not_found"
	case Parse:
		return "parse"
	case FatalItem:
		return "fatal_item"
	case FatalProcess:
		return "fatal_process"
	}
	return "unknown"
}

var (
	// ErrUnresolvableID blacklists items that never got an external id.
	ErrUnresolvableID = errors.New("unresolvable external id")
	// ErrUnknownVersion blacklists items whose version profile is not configured.
	ErrUnknownVersion = errors.New("unknown version profile")
	// ErrDegraded is returned by the health gate.
	ErrDegraded = errors.New("pipeline degraded")
)

// Classify maps err onto the error taxonomy.
func Classify(err error) ErrorKind {
	if err == nil {
		return Transient
	}

	var se *ratelimit.StatusError
	if errors.As(err, &se) {
		switch {
		case se.RateLimited():
			return RateLimited
		case se.NotFound():
			return NotFound
		case se.Transient():
			return Transient
		}
		return FatalItem
	}

	switch {
	case errors.Is(err, ErrDegraded):
		return FatalProcess
	case errors.Is(err, ErrUnresolvableID), errors.Is(err, ErrUnknownVersion):
		return FatalItem
	case errors.Is(err, debrid.ErrNotFound),
		errors.Is(err, database.ErrNotFound),
		errors.Is(err, metadata.ErrNotFound),
		errors.Is(err, scraper.ErrNoResults):
		return NotFound
	case errors.Is(err, mediaserver.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, database.ErrLocked),
		errors.Is(err, database.ErrStale):
		return Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return Parse
	}
	return Transient
}
