package luxfs

// FileSpec describes one leaf file to create under the server directory.
// Specs are consumed once when the tree is built.
type FileSpec struct {
	Name      string
	Perms     uint32 // i.e. 0444
	Exclusive bool   // at most one concurrent opener
	Handler   FileHandler
}

// DirSpec describes a directory node
type DirSpec struct {
	Path  string
	Perms uint32 // i.e. 0555
}
