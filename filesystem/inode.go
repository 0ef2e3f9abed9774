package filesystem

import (
	"sync"
	"sync/atomic"

	"github.com/brettbedarf/luxfs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

type Inode struct {
	// Low-level fuse wire protocol attributes; Only access directly if
	// handling locks manually
	fuseAttr  *fuse.Attr
	handler   luxfs.FileHandler // nil for directories; bound once at creation
	exclusive bool              // at most one open handle at a time
	openers   atomic.Int32      // live open handles
	mu        sync.RWMutex
}

func NewInode(attr *fuse.Attr, handler luxfs.FileHandler, exclusive bool) *Inode {
	return &Inode{
		fuseAttr:  attr,
		handler:   handler,
		exclusive: exclusive,
	}
}

// CopyAttr returns a thread-safe copy of the inode's attributes
func (n *Inode) CopyAttr() fuse.Attr {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return *n.fuseAttr
}

// Handler returns the read handler, nil for directories
func (n *Inode) Handler() luxfs.FileHandler {
	return n.handler
}

func (n *Inode) IsDir() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.fuseAttr.Mode&uint32(DirAttr) == uint32(DirAttr)
}

func (n *Inode) Exclusive() bool {
	return n.exclusive
}

// Openers returns the number of live open handles
func (n *Inode) Openers() int {
	return int(n.openers.Load())
}

// acquire registers a new opener, failing if the inode is exclusive and
// already held
func (n *Inode) acquire() error {
	if !n.exclusive {
		n.openers.Add(1)
		return nil
	}
	if !n.openers.CompareAndSwap(0, 1) {
		return luxfs.ErrExclusive
	}
	return nil
}

func (n *Inode) release() {
	n.openers.Add(-1)
}
