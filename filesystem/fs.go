// Package filesystem holds the in-memory namespace served by luxfs: a root
// directory, one directory per server instance and its leaf files.
package filesystem

import (
	"fmt"
	"os"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"github.com/brettbedarf/luxfs"
	"github.com/brettbedarf/luxfs/config"
	"github.com/brettbedarf/luxfs/internal/util"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/puzpuzpuz/xsync/v4"
)

const rootID = fuse.FUSE_ROOT_ID

type FileSystem struct {
	cfg          *config.Config
	root         *Node                     // Root of node tree
	srvDir       *Node                     // Directory named after the server instance
	lastIno      atomic.Uint64             // Last fuse Attr.Ino assigned; also the node's wire ID
	nodeRegistry *xsync.Map[uint64, *Node] // maps NodeIDs to Nodes
	handles      *HandleTable
	sealed       atomic.Bool // set once Build completes; no nodes are added after
}

// NewFS returns a FileSystem holding only the root directory
func NewFS(cfg *config.Config) *FileSystem {
	rootAttr := newDefaultAttr(rootID)
	rootAttr.Mode = uint32(DirAttr) | RootPerms
	rootAttr.Nlink = 2

	rootNode := NewNode("", NewInode(rootAttr, nil, false))

	fs := FileSystem{
		cfg:          cfg,
		root:         rootNode,
		nodeRegistry: xsync.NewMap[uint64, *Node](),
		handles:      NewHandleTable(),
	}
	fs.lastIno.Store(rootID)
	fs.nodeRegistry.Store(rootID, rootNode)
	return &fs
}

// Build creates the full namespace: root, a directory named cfg.SrvName and
// one leaf per file spec. The tree is sealed before it is returned, so it
// either exists completely or not at all.
func Build(cfg *config.Config, files []luxfs.FileSpec) (*FileSystem, error) {
	logger := util.GetLogger("FS.Build")

	if cfg.SrvName == "" || strings.ContainsRune(cfg.SrvName, '/') {
		return nil, fmt.Errorf("invalid server directory name %q", cfg.SrvName)
	}

	fs := NewFS(cfg)
	dir, err := fs.AddDirNode(luxfs.DirSpec{Path: cfg.SrvName, Perms: DirPerms})
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", cfg.SrvName, err)
	}
	fs.srvDir = dir

	for _, spec := range files {
		if _, err := fs.AddFileNode(dir, spec); err != nil {
			return nil, fmt.Errorf("create %s/%s: %w", cfg.SrvName, spec.Name, err)
		}
	}

	fs.sealed.Store(true)
	logger.Debug().Str("dir", cfg.SrvName).Int("files", len(files)).Msg("File tree built")
	return fs, nil
}

// Root returns the root node
func (fs *FileSystem) Root() *Node {
	return fs.root
}

// SrvDir returns the server instance directory, nil before Build
func (fs *FileSystem) SrvDir() *Node {
	return fs.srvDir
}

func (fs *FileSystem) RootCtx() *NodeContext {
	return NewNodeContext(fs.root)
}

// Sealed reports whether the namespace is closed to new nodes
func (fs *FileSystem) Sealed() bool {
	return fs.sealed.Load()
}

// AddFileNode creates a leaf under parent with its handler bound for life.
// If a node already exists with the same name it returns an error.
func (fs *FileSystem) AddFileNode(parent *Node, spec luxfs.FileSpec) (*Node, error) {
	logger := util.GetLogger("FS.AddFileNode")

	if fs.sealed.Load() {
		return nil, luxfs.ErrSealed
	}
	if parent == nil || !parent.IsDir() {
		return nil, fmt.Errorf("parent of %q is not a directory", spec.Name)
	}
	if spec.Name == "" || strings.ContainsRune(spec.Name, '/') {
		return nil, fmt.Errorf("invalid file name %q", spec.Name)
	}
	if spec.Handler == nil {
		return nil, fmt.Errorf("file %q has no handler", spec.Name)
	}
	if _, ok := parent.GetChild(spec.Name); ok {
		return nil, fmt.Errorf("file already exists at path %s", path.Join(parent.Path(), spec.Name))
	}

	attr := newDefaultAttr(fs.lastIno.Add(1))
	attr.Mode = uint32(FileAttr) | (spec.Perms & 0o777)

	node := NewNode(spec.Name, NewInode(attr, spec.Handler, spec.Exclusive))
	parent.addChild(node)
	fs.nodeRegistry.Store(attr.Ino, node)
	logger.Debug().Str("path", node.Path()).Bool("exclusive", spec.Exclusive).Msg("Added new file node")
	return node, nil
}

// AddDirNode recursively adds all missing directories starting at root
// in the request's path and returns the leaf.
// It is equivalent to calling `mkdir -p` from a shell and similarly will only create
// directories that do not already exist and will not error if the leaf already exists.
func (fs *FileSystem) AddDirNode(req luxfs.DirSpec) (*Node, error) {
	logger := util.GetLogger("FS.AddDirNode")

	if fs.sealed.Load() {
		return nil, luxfs.ErrSealed
	}

	cur := fs.root
	newCnt := 0
	for _, name := range strings.Split(strings.Trim(path.Clean("/"+req.Path), "/"), "/") {
		if name == "" {
			continue
		}
		if child, ok := cur.GetChild(name); ok {
			if !child.IsDir() {
				return nil, fmt.Errorf("%s is not a directory", child.Path())
			}
			cur = child
			continue
		}
		attr := newDefaultAttr(fs.lastIno.Add(1))
		attr.Mode = uint32(DirAttr) | (req.Perms & 0o777)
		attr.Nlink = 2
		node := NewNode(name, NewInode(attr, nil, false))

		cur.addChild(node)
		fs.nodeRegistry.Store(attr.Ino, node)
		newCnt++
		cur = node
	}
	if newCnt > 0 {
		logger.Debug().Str("path", req.Path).Int("created", newCnt).Msg("Created new dir(s)")
	}

	return cur, nil
}

/* Node registry */

// GetNode returns the node registered under nodeID
func (fs *FileSystem) GetNode(nodeID uint64) (*Node, bool) {
	return fs.nodeRegistry.Load(nodeID)
}

// GetNodeCtx returns a locked NodeContext with its Close() wired up
// If the node does not exist, returns nil
func (fs *FileSystem) GetNodeCtx(nodeID uint64) (ctx *NodeContext) {
	logger := util.GetLogger("FS.GetNodeCtx")
	logger.Trace().Uint64("nodeID", nodeID).Msg("GetNodeCtx called")

	if node, ok := fs.nodeRegistry.Load(nodeID); ok {
		return NewNodeContext(node)
	}
	logger.Debug().Uint64("nodeID", nodeID).Msg("No node found")
	return
}

// GetChildCtx finds a child by name and returns a locked NodeContext
// with its Close() wired up.
// If the parent or child do not exist, returns nil
//
// Caller is responsible for closing the context when done `defer ctx.Close()`.
func (fs *FileSystem) GetChildCtx(parentID uint64, name string) (ctx *NodeContext) {
	logger := util.GetLogger("FS.GetChildCtx")
	logger.Trace().Uint64("parentID", parentID).Str("name", name).Msg("GetChildCtx called")

	parent, ok := fs.nodeRegistry.Load(parentID)
	if !ok {
		logger.Debug().Uint64("parentID", parentID).Str("name", name).Msg("No parent found")
		return
	}
	if child, ok := parent.GetChild(name); ok {
		return NewNodeContext(child)
	}
	return
}

/* File handles */

// OpenHandle associates a new file handle with a node.
// Exclusive nodes admit one handle at a time.
func (fs *FileSystem) OpenHandle(nodeID uint64) (*Handle, error) {
	node, ok := fs.nodeRegistry.Load(nodeID)
	if !ok {
		return nil, luxfs.ErrNotFound
	}
	return fs.handles.Open(node)
}

func (fs *FileSystem) LookupHandle(fh uint64) (*Handle, bool) {
	return fs.handles.Lookup(fh)
}

// CloseHandle is called on release; reports whether fh was open
func (fs *FileSystem) CloseHandle(fh uint64) bool {
	return fs.handles.Close(fh)
}

// OpenHandles returns the number of live handles
func (fs *FileSystem) OpenHandles() int {
	return fs.handles.Len()
}

// newDefaultAttr returns the default attributes for a new node
// NOTE: Make sure to set the Mode field appropriately
func newDefaultAttr(ino uint64) *fuse.Attr {
	now := time.Now()
	return &fuse.Attr{
		Ino:   ino,
		Nlink: 1,
		Owner: fuse.Owner{
			Uid: uint32(os.Getuid()),
			Gid: uint32(os.Getgid()),
		},
		Atime:     uint64(now.Unix()),
		Mtime:     uint64(now.Unix()),
		Ctime:     uint64(now.Unix()),
		Atimensec: uint32(now.Nanosecond()),
		Mtimensec: uint32(now.Nanosecond()),
		Ctimensec: uint32(now.Nanosecond()),
		Blksize:   4096, // preferred size for fs ops
	}
}
