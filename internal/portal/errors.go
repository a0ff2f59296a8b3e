package portal

import "errors"

var (
	// ErrCaptureNotFound means neither the network listener nor the DOM
	// fallback produced a selection manifest.
	ErrCaptureNotFound = errors.New("selection manifest not captured")

	// ErrMalformedManifest means the captured payload could not be
	// repaired into a parseable descriptor array.
	ErrMalformedManifest = errors.New("malformed selection manifest")

	// ErrRetrievalFailed means the register/fetch exchange did not yield
	// a usable document response.
	ErrRetrievalFailed = errors.New("document retrieval failed")

	// ErrBinaryResponse means the fetch phase returned a binary document
	// format instead of HTML, a protocol mismatch requiring fallback.
	ErrBinaryResponse = errors.New("binary response where HTML expected")
)
