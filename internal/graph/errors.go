package graph

import "errors"

var (
	// ErrMalformedGraph marks structural violations: cycles, dangling tensor
	// references, duplicate producers, or shape/type inconsistencies.
	ErrMalformedGraph = errors.New("malformed graph")

	// ErrVersionMismatch marks a serialized graph whose format version is not
	// supported by this build.
	ErrVersionMismatch = errors.New("unsupported graph format version")
)
