package vault

import "errors"

// ErrAlreadyPresent indicates that an ingest was attempted for a digest that
// already has a vault entry. The caller should treat this as the duplicate
// case rather than an ingest failure.
var ErrAlreadyPresent = errors.New("vault entry already present")

// ErrLinkUnsupported indicates that no configured link strategy succeeded
// for a given target.
var ErrLinkUnsupported = errors.New("no usable link strategy for target")
