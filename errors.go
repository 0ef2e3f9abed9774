package luxfs

import "errors"

var (
	ErrNotFound     = errors.New("file does not exist")
	ErrExclusive    = errors.New("exclusive use file already open")
	ErrNotPermitted = errors.New("operation not permitted")
	ErrSealed       = errors.New("file tree is sealed")
)
