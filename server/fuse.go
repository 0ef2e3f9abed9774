package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/brettbedarf/luxfs"
	"github.com/brettbedarf/luxfs/config"
	"github.com/brettbedarf/luxfs/filesystem"
	"github.com/brettbedarf/luxfs/internal/metrics"
	"github.com/brettbedarf/luxfs/internal/util"
	"github.com/hanwen/go-fuse/v2/fuse"
)

var (
	// ENOTCONN is returned for every request that arrives after Stop
	ENOTCONN = fuse.Status(syscall.ENOTCONN)
	// EBUSY is returned when an exclusive file is already held open
	EBUSY = fuse.Status(syscall.EBUSY)
)

const (
	maxNameLen = 255
	blockSize  = 4096
	accessWOK  = 0x2 // W_OK in access(2) masks
)

// FuseRaw implements the low-level FUSE wire protocol
// It serves as protocol adapter between the FUSE and core filesystem
// See https://www.man7.org/linux//man-pages/man4/fuse.4.html
//
// Every request takes a read lock on gate for its whole duration. Stop takes
// the write lock, so once it returns no request is in flight and all later
// requests fail with ENOTCONN.
type FuseRaw struct {
	fuse.RawFileSystem
	fs      *filesystem.FileSystem
	cfg     *config.Config
	metrics *metrics.Collector

	gate    sync.RWMutex
	stopped bool
}

func NewFuseRaw(fs *filesystem.FileSystem, cfg *config.Config, m *metrics.Collector) *FuseRaw {
	return &FuseRaw{
		RawFileSystem: fuse.NewDefaultRawFileSystem(),
		fs:            fs,
		cfg:           cfg,
		metrics:       m,
	}
}

// enter admits a request unless the dispatcher is stopped. Callers must
// call leave when enter returns true.
func (r *FuseRaw) enter() bool {
	r.gate.RLock()
	if r.stopped {
		r.gate.RUnlock()
		return false
	}
	return true
}

func (r *FuseRaw) leave() {
	r.gate.RUnlock()
}

// Stop waits for in-flight requests and refuses new ones
func (r *FuseRaw) Stop() {
	r.gate.Lock()
	defer r.gate.Unlock()
	r.stopped = true
}

func (r *FuseRaw) Stopped() bool {
	r.gate.RLock()
	defer r.gate.RUnlock()
	return r.stopped
}

func (r *FuseRaw) Init(s *fuse.Server) {
	logger := util.GetLogger("Fuse.Init")
	logger.Debug().Msg("FUSE initialized")
}

func (r *FuseRaw) OnUnmount() {
	logger := util.GetLogger("Fuse.OnUnmount")
	logger.Info().Msg("FUSE unmounted")
}

func (r *FuseRaw) String() string {
	return "FuseRaw"
}

// Access called when the kernel wants to know if the user has permission to access the node.
// If the 'default_permissions' mount option is given, this method is not called.
func (r *FuseRaw) Access(cancel <-chan struct{}, input *fuse.AccessIn) fuse.Status {
	if !r.enter() {
		return ENOTCONN
	}
	defer r.leave()

	ctx := r.fs.GetNodeCtx(input.NodeId)
	if ctx == nil {
		return fuse.ENOENT
	}
	defer ctx.Close()

	if input.Mask&accessWOK != 0 {
		return fuse.EACCES
	}
	return fuse.OK
}

// Lookup is called by the kernel when the VFS wants to know
// about a file inside a directory. Many lookup calls can
// occur in parallel, but only one call happens for each (dir,
// name) pair.
func (r *FuseRaw) Lookup(cancel <-chan struct{}, header *fuse.InHeader, name string, out *fuse.EntryOut) fuse.Status {
	logger := util.GetLogger("Fuse.Lookup")
	logger.Trace().Uint64("parent", header.NodeId).Str("name", name).Msg("Lookup called")

	if !r.enter() {
		return ENOTCONN
	}
	defer r.leave()

	ctx := r.fs.GetChildCtx(header.NodeId, name)
	if ctx == nil {
		return fuse.ENOENT
	}
	defer ctx.Close()

	out.NodeId = ctx.NodeID()
	out.Attr = ctx.Attr()
	out.SetAttrTimeout(seconds(r.cfg.AttrTimeout))
	out.SetEntryTimeout(seconds(r.cfg.EntryTimeout))
	return fuse.OK
}

// Forget is called when the kernel discards entries from its
// dentry cache. The tree is static and node IDs are never reused, so there
// is nothing to release.
func (r *FuseRaw) Forget(nodeid, nlookup uint64) {
	logger := util.GetLogger("Fuse.Forget")
	logger.Trace().Uint64("nodeID", nodeid).Uint64("nlookup", nlookup).Msg("Forget called")
}

func (r *FuseRaw) GetAttr(cancel <-chan struct{}, input *fuse.GetAttrIn, out *fuse.AttrOut) fuse.Status {
	if !r.enter() {
		return ENOTCONN
	}
	defer r.leave()

	ctx := r.fs.GetNodeCtx(input.NodeId)
	if ctx == nil {
		return fuse.ENOENT
	}
	defer ctx.Close()

	out.Attr = ctx.Attr()
	out.SetTimeout(seconds(r.cfg.AttrTimeout))
	return fuse.OK
}

// Open admits read-only opens of leaf files. Exclusive files that are
// already open fail with EBUSY.
func (r *FuseRaw) Open(cancel <-chan struct{}, input *fuse.OpenIn, out *fuse.OpenOut) fuse.Status {
	logger := util.GetLogger("Fuse.Open")

	if !r.enter() {
		return ENOTCONN
	}
	defer r.leave()

	if input.Flags&(syscall.O_WRONLY|syscall.O_RDWR|syscall.O_TRUNC|syscall.O_APPEND) != 0 {
		logger.Debug().Uint64("nodeID", input.NodeId).Uint32("flags", input.Flags).Msg("Write open refused")
		return fuse.EPERM
	}

	ctx := r.fs.GetNodeCtx(input.NodeId)
	if ctx == nil {
		return fuse.ENOENT
	}
	isDir := ctx.IsDir()
	ctx.Close()
	if isDir {
		return fuse.EISDIR
	}

	h, err := r.fs.OpenHandle(input.NodeId)
	if err != nil {
		st := toStatus(err)
		if st == EBUSY {
			r.metrics.RecordOpenRejected()
		}
		logger.Debug().Err(err).Uint64("nodeID", input.NodeId).Msg("Open refused")
		return st
	}
	r.metrics.SetOpenHandles(r.fs.OpenHandles())

	out.Fh = h.ID
	if r.cfg.DirectIO {
		out.OpenFlags |= fuse.FOPEN_DIRECT_IO
	}
	logger.Debug().
		Str("path", h.Node().Path()).
		Uint64("fh", h.ID).
		Str("session", h.Session.String()).
		Msg("Opened")
	return fuse.OK
}

// Read calls the file's handler once and returns the requested window of its
// output. Device failures surface as EIO to this request only.
func (r *FuseRaw) Read(cancel <-chan struct{}, input *fuse.ReadIn, buf []byte) (fuse.ReadResult, fuse.Status) {
	logger := util.GetLogger("Fuse.Read")

	if !r.enter() {
		return nil, ENOTCONN
	}
	defer r.leave()

	h, ok := r.fs.LookupHandle(input.Fh)
	if !ok {
		return nil, fuse.EBADF
	}
	node := h.Node()
	handler := node.Handler()
	if handler == nil {
		return nil, fuse.EISDIR
	}

	ctx, stop := cancelContext(cancel)
	defer stop()

	data, err := handler.HandleRead(ctx)
	r.metrics.RecordRead(node.Name(), err)
	if err != nil {
		logger.Warn().Err(err).Str("path", node.Path()).Str("session", h.Session.String()).Msg("Read failed")
		return nil, fuse.EIO
	}

	size := int(input.Size)
	if len(buf) < size {
		size = len(buf)
	}
	off := input.Offset
	if off >= uint64(len(data)) {
		return fuse.ReadResultData(nil), fuse.OK
	}
	end := min(off+uint64(size), uint64(len(data)))
	return fuse.ReadResultData(data[off:end]), fuse.OK
}

// Release ends a session. It runs even after Stop so handle state stays
// consistent while the kernel drains.
func (r *FuseRaw) Release(cancel <-chan struct{}, input *fuse.ReleaseIn) {
	logger := util.GetLogger("Fuse.Release")
	if h, ok := r.fs.LookupHandle(input.Fh); ok && r.fs.CloseHandle(input.Fh) {
		logger.Debug().
			Uint64("fh", input.Fh).
			Str("session", h.Session.String()).
			Dur("held", h.Held()).
			Msg("Released")
	}
	r.metrics.SetOpenHandles(r.fs.OpenHandles())
}

func (r *FuseRaw) OpenDir(cancel <-chan struct{}, input *fuse.OpenIn, out *fuse.OpenOut) fuse.Status {
	if !r.enter() {
		return ENOTCONN
	}
	defer r.leave()

	ctx := r.fs.GetNodeCtx(input.NodeId)
	if ctx == nil {
		return fuse.ENOENT
	}
	isDir := ctx.IsDir()
	ctx.Close()
	if !isDir {
		return fuse.ENOTDIR
	}

	h, err := r.fs.OpenHandle(input.NodeId)
	if err != nil {
		return toStatus(err)
	}
	out.Fh = h.ID
	return fuse.OK
}

// ReadDir lists ".", ".." and then the children in name order, resuming at
// input.Offset.
func (r *FuseRaw) ReadDir(cancel <-chan struct{}, input *fuse.ReadIn, out *fuse.DirEntryList) fuse.Status {
	logger := util.GetLogger("Fuse.ReadDir")
	logger.Trace().Uint64("nodeID", input.NodeId).Uint64("offset", input.Offset).Msg("ReadDir called")

	if !r.enter() {
		return ENOTCONN
	}
	defer r.leave()

	ctx := r.fs.GetNodeCtx(input.NodeId)
	if ctx == nil {
		return fuse.ENOENT
	}
	defer ctx.Close()
	if !ctx.IsDir() {
		return fuse.ENOTDIR
	}

	entries := dirEntries(ctx)
	for i := input.Offset; i < uint64(len(entries)); i++ {
		if !out.AddDirEntry(entries[i]) {
			// buffer full; kernel asks again from the next offset
			break
		}
	}
	return fuse.OK
}

func dirEntries(ctx *filesystem.NodeContext) []fuse.DirEntry {
	entries := []fuse.DirEntry{
		{Name: ".", Mode: uint32(filesystem.DirAttr), Ino: ctx.NodeID()},
		{Name: "..", Mode: uint32(filesystem.DirAttr), Ino: ctx.ParentID()},
	}
	ctx.IterChildren(func(child *filesystem.NodeContext) {
		attr := child.Attr()
		entries = append(entries, fuse.DirEntry{Name: child.Name(), Mode: attr.Mode, Ino: attr.Ino})
	})
	return entries
}

func (r *FuseRaw) ReleaseDir(input *fuse.ReleaseIn) {
	r.fs.CloseHandle(input.Fh)
}

func (r *FuseRaw) StatFs(cancel <-chan struct{}, input *fuse.InHeader, out *fuse.StatfsOut) fuse.Status {
	if !r.enter() {
		return ENOTCONN
	}
	defer r.leave()

	out.Bsize = blockSize
	out.Frsize = blockSize
	out.NameLen = maxNameLen
	out.Files = uint64(len(r.fs.Root().ChildNames()) + len(r.fs.SrvDir().ChildNames()) + 1)
	return fuse.OK
}

/* The namespace is read-only */

func (r *FuseRaw) SetAttr(cancel <-chan struct{}, input *fuse.SetAttrIn, out *fuse.AttrOut) fuse.Status {
	return r.refuse("SetAttr", input.NodeId)
}

func (r *FuseRaw) Mknod(cancel <-chan struct{}, input *fuse.MknodIn, name string, out *fuse.EntryOut) fuse.Status {
	return r.refuse("Mknod", input.NodeId)
}

func (r *FuseRaw) Mkdir(cancel <-chan struct{}, input *fuse.MkdirIn, name string, out *fuse.EntryOut) fuse.Status {
	return r.refuse("Mkdir", input.NodeId)
}

func (r *FuseRaw) Unlink(cancel <-chan struct{}, header *fuse.InHeader, name string) fuse.Status {
	return r.refuse("Unlink", header.NodeId)
}

func (r *FuseRaw) Rmdir(cancel <-chan struct{}, header *fuse.InHeader, name string) fuse.Status {
	return r.refuse("Rmdir", header.NodeId)
}

func (r *FuseRaw) Rename(cancel <-chan struct{}, input *fuse.RenameIn, oldName string, newName string) fuse.Status {
	return r.refuse("Rename", input.NodeId)
}

func (r *FuseRaw) Link(cancel <-chan struct{}, input *fuse.LinkIn, filename string, out *fuse.EntryOut) fuse.Status {
	return r.refuse("Link", input.NodeId)
}

func (r *FuseRaw) Symlink(cancel <-chan struct{}, header *fuse.InHeader, pointedTo string, linkName string, out *fuse.EntryOut) fuse.Status {
	return r.refuse("Symlink", header.NodeId)
}

func (r *FuseRaw) SetXAttr(cancel <-chan struct{}, input *fuse.SetXAttrIn, attr string, data []byte) fuse.Status {
	return r.refuse("SetXAttr", input.NodeId)
}

func (r *FuseRaw) RemoveXAttr(cancel <-chan struct{}, header *fuse.InHeader, attr string) fuse.Status {
	return r.refuse("RemoveXAttr", header.NodeId)
}

func (r *FuseRaw) Create(cancel <-chan struct{}, input *fuse.CreateIn, name string, out *fuse.CreateOut) fuse.Status {
	return r.refuse("Create", input.NodeId)
}

func (r *FuseRaw) Write(cancel <-chan struct{}, input *fuse.WriteIn, data []byte) (uint32, fuse.Status) {
	return 0, r.refuse("Write", input.NodeId)
}

func (r *FuseRaw) Fallocate(cancel <-chan struct{}, input *fuse.FallocateIn) fuse.Status {
	return r.refuse("Fallocate", input.NodeId)
}

func (r *FuseRaw) CopyFileRange(cancel <-chan struct{}, input *fuse.CopyFileRangeIn) (uint32, fuse.Status) {
	return 0, r.refuse("CopyFileRange", input.NodeId)
}

func (r *FuseRaw) refuse(op string, nodeID uint64) fuse.Status {
	logger := util.GetLogger("Fuse." + op)
	logger.Debug().Uint64("nodeID", nodeID).Msg("Mutation refused")
	if r.Stopped() {
		return ENOTCONN
	}
	return toStatus(fmt.Errorf("%s: %w", op, luxfs.ErrNotPermitted))
}

// toStatus maps filesystem errors onto wire statuses
func toStatus(err error) fuse.Status {
	switch {
	case err == nil:
		return fuse.OK
	case errors.Is(err, luxfs.ErrNotFound):
		return fuse.ENOENT
	case errors.Is(err, luxfs.ErrExclusive):
		return EBUSY
	case errors.Is(err, luxfs.ErrNotPermitted), errors.Is(err, luxfs.ErrSealed):
		return fuse.EPERM
	default:
		return fuse.EIO
	}
}

// cancelContext returns a context that is canceled when the kernel
// interrupts the request or when stop is called
func cancelContext(cancel <-chan struct{}) (context.Context, context.CancelFunc) {
	ctx, stop := context.WithCancel(context.Background())
	if cancel == nil {
		return ctx, stop
	}
	go func() {
		select {
		case <-cancel:
			stop()
		case <-ctx.Done():
		}
	}()
	return ctx, stop
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

var _ fuse.RawFileSystem = (*FuseRaw)(nil)
