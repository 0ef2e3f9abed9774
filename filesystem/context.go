package filesystem

import (
	"github.com/brettbedarf/luxfs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// NodeContext wraps a read-locked [Node] (plus any upstream locks).
// Children access within the context uses lock-free xsync.Map operations.
// Calling NodeContext.Close() unwinds all unlocking/cleanup callbacks in reverse order.
// Do NOT invoke locking methods on the raw Node while this context is
// active. Use only the snapshot helpers below.
//
// NOTE: NodeContext itself is **not** thread-safe meaning references
// to it should not be shared between goroutines
type NodeContext struct {
	node     *Node
	closeFns []func()
}

// NewNodeContext RLocks the Node and returns a new NodeContext for safe access
func NewNodeContext(node *Node) *NodeContext {
	node.mu.RLock()
	ctx := &NodeContext{node: node}
	ctx.AddClose(node.mu.RUnlock)
	return ctx
}

// Name returns the node's immutable Name.
func (ctx *NodeContext) Name() string {
	return ctx.node.name
}

func (ctx *NodeContext) NodeID() uint64 {
	return ctx.node.NodeID()
}

// Attr returns a snapshot of the fuse attributes.
func (ctx *NodeContext) Attr() fuse.Attr {
	return ctx.node.CopyAttr()
}

func (ctx *NodeContext) IsDir() bool {
	return ctx.node.IsDir()
}

// Handler returns the bound read handler, nil for directories
func (ctx *NodeContext) Handler() luxfs.FileHandler {
	return ctx.node.handler
}

// ParentID returns the parent's NodeID; root is its own parent
func (ctx *NodeContext) ParentID() uint64 {
	if ctx.node.parent == nil {
		return ctx.node.NodeID()
	}
	return ctx.node.parent.NodeID()
}

// IterChildren visits children in name order. Each child is read-locked
// before fn is invoked and unlocked automatically after it returns.
func (ctx *NodeContext) IterChildren(fn func(ctx *NodeContext)) {
	for _, name := range ctx.node.ChildNames() {
		child, ok := ctx.node.GetChild(name)
		if !ok {
			continue
		}
		nc := NewNodeContext(child)
		fn(nc)
		nc.Close()
	}
}

// AddClose pushes a cleanup callback (e.g., unlock) onto the end of the stack.
func (ctx *NodeContext) AddClose(fn func()) {
	ctx.closeFns = append(ctx.closeFns, fn)
}

// Close unwinds all cleanup callbacks in reverse order.
// Safe to call even if ctx is nil or no locks were acquired; it is
// a no-op in those cases, so you can `defer ctx.Close()` unconditionally.
//
// Example:
//
//	ctx := fs.GetChildCtx(parentID, name)
//	defer ctx.Close()
func (ctx *NodeContext) Close() {
	if ctx == nil {
		return
	}
	for i := len(ctx.closeFns) - 1; i >= 0; i-- {
		ctx.closeFns[i]()
	}
	ctx.closeFns = nil
}
