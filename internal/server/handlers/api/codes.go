package api

const (
	// Generic request/server errors
	CodeInvalidRequest = "E_INVALID_REQUEST" // bad or invalid request
	CodeRateLimited    = "E_RATE_LIMITED"    // rate limit exceeded
	CodeInternalError  = "E_INTERNAL_ERROR"  // internal server error
	CodeAccessDenied   = "E_ACCESS_DENIED"   // access denied

	// Upload session errors
	CodeSessionNotFound   = "E_SESSION_NOT_FOUND"  // the upload session does not exist.
	CodeSessionExpired    = "E_SESSION_EXPIRED"    // the upload session lapsed past its TTL and cannot be resumed.
	CodeInvalidTransition = "E_INVALID_TRANSITION" // the session is not in a state that allows the requested operation.
	CodeIncompleteUpload  = "E_INCOMPLETE_UPLOAD"  // finalize was requested before every chunk was received.
	CodeChunkOutOfRange   = "E_CHUNK_OUT_OF_RANGE" // the chunk index or size does not fit the session's chunk map.
	CodeAssemblyFailed    = "E_ASSEMBLY_FAILED"    // the server failed to assemble the final object.

	// Streaming errors
	CodeChunkNotAvailable   = "E_CHUNK_NOT_AVAILABLE"   // a chunk needed to serve the byte range has not been uploaded yet.
	CodeRangeNotSatisfiable = "E_RANGE_NOT_SATISFIABLE" // the requested byte range falls outside the file.
)
