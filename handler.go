// Package luxfs contains core domain types and interfaces for the luxfs
// sensor filesystem
package luxfs

import "context"

// FileHandler produces the contents of a synthetic file. Instances are 1:1
// with a leaf Node and are bound when the tree is built.
//
// HandleRead is called once per read request and must return the complete
// current contents; the dispatcher slices the result by offset and size.
type FileHandler interface {
	HandleRead(ctx context.Context) ([]byte, error)
}

// HandlerFunc adapts an ordinary function to a [FileHandler]
type HandlerFunc func(ctx context.Context) ([]byte, error)

func (f HandlerFunc) HandleRead(ctx context.Context) ([]byte, error) {
	return f(ctx)
}
