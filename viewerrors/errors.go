// Package viewerrors provides error handling for the view runtime core.
//
// It re-exports github.com/cockroachdb/errors, which gives every error
// created through this package a stack trace and PII-safe formatting, and
// defines the sentinel error kinds the core dispatches on (spec §7).
package viewerrors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping, re-exported from cockroachdb/errors.
var (
	New      = crdb.New
	Newf     = crdb.Newf
	Wrap     = crdb.Wrap
	Wrapf    = crdb.Wrapf
	Is       = crdb.Is
	As       = crdb.As
	Errorf   = crdb.Errorf
	WithHint = crdb.WithHint
)

// Sentinel errors for the dispatch error kinds named in spec §7.
var (
	// ErrRouteNotFound means the router found no matching route.
	ErrRouteNotFound = crdb.New("route not found")

	// ErrForbidden marks a request refused by a middleware or view. The
	// controller has no separate 403 path: an ErrForbidden goes through
	// the same 500 handler chain as any other middleware or view error.
	ErrForbidden = crdb.New("forbidden")

	// ErrHandlerException wraps any uncaught failure inside a view
	// handler or middleware body.
	ErrHandlerException = crdb.New("handler exception")

	// ErrServerStop is the cancellation reason broadcast to every live
	// runtime on shutdown. It is never logged as an error.
	ErrServerStop = crdb.New("server stop")

	// ErrTransportClosed marks a best-effort send to a closed
	// connection; it is never propagated to the caller.
	ErrTransportClosed = crdb.New("transport closed")
)

// IsRouteNotFound reports whether err is or wraps ErrRouteNotFound.
func IsRouteNotFound(err error) bool { return crdb.Is(err, ErrRouteNotFound) }

// IsForbidden reports whether err is or wraps ErrForbidden.
func IsForbidden(err error) bool { return crdb.Is(err, ErrForbidden) }

// IsServerStop reports whether err is or wraps ErrServerStop.
func IsServerStop(err error) bool { return crdb.Is(err, ErrServerStop) }

// IsTransportClosed reports whether err is or wraps ErrTransportClosed.
func IsTransportClosed(err error) bool { return crdb.Is(err, ErrTransportClosed) }
