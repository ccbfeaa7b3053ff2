package bufferpool

import "errors"

// errBufferPoolFull fires when every frame is pinned and the clock sweep
// finds nothing to evict — the caller is expected to release pins and
// retry or abort (spec.md §7).
var errBufferPoolFull = errors.New("buffer pool full: no unpinned frame available")
