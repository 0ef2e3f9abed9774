package filesystem

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"
)

// Handle is one open of a node. Handles on exclusive nodes are unique for
// as long as they are open.
type Handle struct {
	ID      uint64    // wire file handle
	Session uuid.UUID // correlates log lines for one open..release span
	Opened  time.Time
	node    *Node
}

func (h *Handle) Node() *Node {
	return h.node
}

// Held returns how long the handle has been open
func (h *Handle) Held() time.Duration {
	return time.Since(h.Opened)
}

// HandleTable maps file handles to open nodes
type HandleTable struct {
	lastFH  atomic.Uint64
	handles *xsync.Map[uint64, *Handle]
}

func NewHandleTable() *HandleTable {
	return &HandleTable{handles: xsync.NewMap[uint64, *Handle]()}
}

// Open registers a new handle for node. Exclusive nodes that are already
// open fail with [luxfs.ErrExclusive].
func (t *HandleTable) Open(node *Node) (*Handle, error) {
	if err := node.acquire(); err != nil {
		return nil, fmt.Errorf("%s: %w", node.Path(), err)
	}
	h := &Handle{
		ID:      t.lastFH.Add(1),
		Session: uuid.New(),
		Opened:  time.Now(),
		node:    node,
	}
	t.handles.Store(h.ID, h)
	return h, nil
}

// Lookup returns the handle for fh
func (t *HandleTable) Lookup(fh uint64) (*Handle, bool) {
	return t.handles.Load(fh)
}

// Close releases fh. Unknown handles are ignored and reported as false.
func (t *HandleTable) Close(fh uint64) bool {
	h, ok := t.handles.LoadAndDelete(fh)
	if !ok {
		return false
	}
	h.node.release()
	return true
}

// Len returns the number of open handles
func (t *HandleTable) Len() int {
	return t.handles.Size()
}
