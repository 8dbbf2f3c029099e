package vectorstore

import "errors"

// ErrStoreUnreachable indicates the vector store did not answer within the readiness timeout.
var ErrStoreUnreachable = errors.New("vector store unreachable")
