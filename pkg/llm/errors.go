package llm

import "errors"

var (
	// ErrUpstreamTimeout indicates the endpoint did not answer within the
	// per-attempt deadline, across all configured retries.
	ErrUpstreamTimeout = errors.New("inference endpoint timed out")

	// ErrUpstream indicates the endpoint answered with an error (bad status,
	// malformed payload). Not retried: the same request would fail the same
	// way.
	ErrUpstream = errors.New("inference endpoint error")

	// ErrUpstreamUnavailable indicates the endpoint could not be reached at
	// all, after one immediate retry.
	ErrUpstreamUnavailable = errors.New("inference endpoint unavailable")
)
