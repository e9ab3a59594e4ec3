package inference

import "errors"

// ErrNotInitialized is returned when a generation is requested before the
// gateway's readiness check has completed. Callers should treat it as
// transient and re-check Status rather than retrying blindly.
var ErrNotInitialized = errors.New("inference gateway not initialized")

// ErrMalformedOutput is returned when the model's response cannot be parsed
// into the expected structure. It is recoverable: the caller skips the
// current cycle's verdict instead of failing hard.
var ErrMalformedOutput = errors.New("malformed model output")
