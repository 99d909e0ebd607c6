// Package uuid provides job and point identifiers.
package uuid

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// pointPrefixRunes is how much chunk text feeds the point identity.
const pointPrefixRunes = 100

// PointNamespace scopes name-based point IDs so they never collide with IDs
// minted for other purposes.
var PointNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("site-rag/points"))

// Generator creates UUIDv7 job IDs.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a time-ordered UUIDv7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// PointID derives the vector point ID for a chunk. The same URL, chunk index
// and leading text always map to the same UUIDv5, so re-indexing a page
// overwrites its points instead of duplicating them.
func PointID(sourceURL string, index int, text string) string {
	runes := []rune(text)
	if len(runes) > pointPrefixRunes {
		runes = runes[:pointPrefixRunes]
	}
	name := sourceURL + "_" + strconv.Itoa(index) + "_" + string(runes)
	return uuid.NewSHA1(PointNamespace, []byte(name)).String()
}
