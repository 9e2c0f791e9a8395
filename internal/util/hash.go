package util

import (
	"fmt"
	"hash/fnv"
)

// ConnTag computes a short, stable tag from a connection's endpoint pair.
// It is used only to correlate log lines and does not need to be reversible.
func ConnTag(local, remote string) Tagged {
	h := fnv.New32a()
	h.Write([]byte(local))
	h.Write([]byte(remote))
	return Tagged(fmt.Sprintf("%08x", h.Sum32()))
}
