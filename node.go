package luxfs

// NodeKind distinguishes directories from leaf files
type NodeKind uint8

const (
	DirNode NodeKind = iota
	FileNode
)

func (k NodeKind) String() string {
	switch k {
	case DirNode:
		return "dir"
	case FileNode:
		return "file"
	default:
		return "unknown"
	}
}

// NodeInfo provides read-only access to node information for external consumers
type NodeInfo interface {
	// Name returns the node's name (last path component)
	Name() string

	// NodeID returns the node identifier used on the wire
	NodeID() uint64

	// Path returns the full path to the node relative to root
	Path() string

	Kind() NodeKind

	// Exclusive reports whether at most one open handle may exist at a time
	Exclusive() bool
}
