package filesystem

import "errors"

// ErrCloneUnsupported indicates that the underlying filesystem doesn't
// provide a copy-on-write clone primitive.
var ErrCloneUnsupported = errors.New("filesystem does not support clone")

// ErrCloneCrossDevice indicates that the clone source and destination
// reside on different devices.
var ErrCloneCrossDevice = errors.New("clone source and destination on different devices")
