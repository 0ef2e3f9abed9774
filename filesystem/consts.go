package filesystem

import "syscall"

type SysAttrType uint32

const (
	DirAttr  SysAttrType = syscall.S_IFDIR
	FileAttr SysAttrType = syscall.S_IFREG
)

// Default permission bits for the namespace
const (
	RootPerms uint32 = 0o555
	DirPerms  uint32 = 0o555
)
