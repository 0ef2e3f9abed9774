package filesystem

import (
	"slices"
	"strings"
	"sync"

	"github.com/brettbedarf/luxfs"
	"github.com/puzpuzpuz/xsync/v4"
)

type Node struct {
	name     string                    // Name of the node (last part of the path). Immutable
	parent   *Node                     // Protected by mu
	mu       sync.RWMutex              // Protects the fields above
	children *xsync.Map[string, *Node] // thread-safe map of child nodes by name
	*Inode
}

// NewNode creates a detached Node.
//
// NOTE: Parent node is responsible for adding itself to the returned Node's
// Parent ref when linking as its child
func NewNode(name string, inode *Inode) *Node {
	return &Node{
		Inode:    inode,
		name:     name,
		children: xsync.NewMap[string, *Node](),
	}
}

// NodeID returns the wire identifier of the node, which is its inode number
func (n *Node) NodeID() uint64 {
	n.Inode.mu.RLock()
	defer n.Inode.mu.RUnlock()
	return n.fuseAttr.Ino
}

// Name returns the node's immutable Name.
func (n *Node) Name() string {
	return n.name
}

func (n *Node) Kind() luxfs.NodeKind {
	if n.IsDir() {
		return luxfs.DirNode
	}
	return luxfs.FileNode
}

// Path returns the path of the node relative from root.
// If the node is the root, returns "". Detached nodes return their own name.
func (n *Node) Path() string {
	var parts []string
	for cur := n; cur != nil && !cur.IsRoot(); cur = cur.Parent() {
		parts = append(parts, cur.name)
	}
	slices.Reverse(parts)
	return strings.Join(parts, "/")
}

// Parent returns the parent node, nil for root and detached nodes
func (n *Node) Parent() *Node {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.parent
}

// addChild links child under n. Only the FileSystem builder calls this.
func (n *Node) addChild(child *Node) {
	n.children.Store(child.name, child)

	child.mu.Lock()
	defer child.mu.Unlock()
	child.parent = n
}

// GetChild returns a child node.
// Safe to call when Node is already locked
func (n *Node) GetChild(name string) (child *Node, ok bool) {
	return n.children.Load(name)
}

// ChildNames returns the children's names in sorted order
func (n *Node) ChildNames() []string {
	names := make([]string, 0, n.children.Size())
	n.children.Range(func(name string, _ *Node) bool {
		names = append(names, name)
		return true
	})
	slices.Sort(names)
	return names
}

func (n *Node) IsRoot() bool {
	return n.Parent() == nil && n.NodeID() == rootID
}

var _ luxfs.NodeInfo = (*Node)(nil)
