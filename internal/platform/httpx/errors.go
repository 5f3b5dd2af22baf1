package httpx

import "errors"

// ErrEmptyBody marks a request with no JSON body. Handlers with optional
// payloads check for it and continue with defaults.
var ErrEmptyBody = errors.New("empty request body")
