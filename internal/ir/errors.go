package ir

import "errors"

// Error kind sentinels. Wrap with fmt.Errorf("...: %w", ErrX) at the point
// of failure and recover the kind with errors.Is downstream — callers map
// kinds to HTTP status codes, never strings.
var (
	// ErrMalformedRequest means ingress parsing failed against the
	// protocol the transformer claims to speak. The caller returns 4xx.
	ErrMalformedRequest = errors.New("malformed request")

	// ErrUpstreamProtocolViolation means an upstream SSE frame or JSON
	// body was syntactically invalid or missing a mandatory field. The
	// offending frame is dropped and the stream continues.
	ErrUpstreamProtocolViolation = errors.New("upstream protocol violation")

	// ErrToolArgumentMalformed means tool_calls[i].function.arguments
	// failed to parse as JSON during client formatting. Never fatal —
	// callers fall back to {"raw_arguments": "..."}.
	ErrToolArgumentMalformed = errors.New("tool argument malformed")

	// ErrClientDisconnect means the client aborted the connection or a
	// write to it failed.
	ErrClientDisconnect = errors.New("client disconnected")

	// ErrInternalInvariant is the only fatal kind: the IR was
	// self-inconsistent in a way that should never happen given valid
	// input. Callers treat it as 5xx.
	ErrInternalInvariant = errors.New("internal invariant violated")
)
