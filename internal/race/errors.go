package race

import "errors"

// Sentinel errors returned by the engine's entry points. Callers map
// these to their own surfaces (HTTP status codes, CLI exit messages)
// using errors.Is().
//
// Event-store and profile-lookup failures are deliberately absent: they
// are recovered inside the pipeline and degrade the answer's context
// instead of failing the request.
var (
	// ErrInvalidInput indicates a malformed request (missing ids, empty
	// query text, unknown timezone). Raised before any external call.
	ErrInvalidInput = errors.New("invalid query input")

	// ErrUnauthorized indicates a circle membership failure. Fatal, no
	// retry: the caller may not see this circle's data.
	ErrUnauthorized = errors.New("unauthorized circle access")

	// ErrEmbedding indicates the embedding call failed or returned an
	// empty vector. Fatal: retrieval cannot proceed without it.
	ErrEmbedding = errors.New("embedding generation failed")

	// ErrRetrieval indicates the vector-index query failed. Fatal: a
	// grounded answer is impossible without semantic matches.
	ErrRetrieval = errors.New("upstream retrieval failed")

	// ErrGeneration indicates the chat-completion call failed after a
	// context was successfully assembled.
	ErrGeneration = errors.New("answer generation failed")
)
