package badger

import (
	"fmt"

	"github.com/poiesic/baler/core"
)

// vectorPrefix namespaces stored vectors.
const vectorPrefix = "vec"

// makeVectorKey generates a key for a stored vector by ID.
func makeVectorKey(id core.ID) []byte {
	return []byte(fmt.Sprintf("%s:%d", vectorPrefix, id))
}

// vectorKeyPrefix matches every stored vector key.
func vectorKeyPrefix() []byte {
	return []byte(vectorPrefix + ":")
}
