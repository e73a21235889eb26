package dcrdlc

import "errors"

// ErrInvalidSignature is returned when an adaptor or regular signature fails
// verification. Higher layers test with errors.Is; the wrapped message
// carries the specifics.
var ErrInvalidSignature = errors.New("signature verification failed")
