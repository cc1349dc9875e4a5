// Package segment tracks provider connections ("segments") within a session:
// their identifiers and their lifecycle from live to retired.
package segment

import (
	"fmt"
	"sync/atomic"
)

// Generator issues segment IDs for one session.
type Generator struct {
	sessionID string
	counter   uint64
}

func New(sessionID string) *Generator {
	return &Generator{sessionID: sessionID}
}

// Next returns "<sessionId>-seg-N" with N starting at 1.
func (g *Generator) Next() string {
	n := atomic.AddUint64(&g.counter, 1)
	return fmt.Sprintf("%s-seg-%d", g.sessionID, n)
}

// Count returns how many IDs have been issued.
func (g *Generator) Count() int {
	return int(atomic.LoadUint64(&g.counter))
}
