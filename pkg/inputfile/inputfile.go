// Package inputfile tags filesystem paths flowing through the build graph
// with the tools that have already consumed them and whether the chain of
// transformations that produced them was entirely up to date.
package inputfile

import "path/filepath"

// File is a value object for one path in a project's input pool. It is
// immutable after creation except for the set of tools that have consumed
// it, which only ever grows.
type File struct {
	// Path is the absolute filesystem path.
	Path string

	// Parents is the chain of files whose transformation produced this one.
	// Nil for files that originate from plan evaluation or that start a
	// fresh chain (output extension differs from input extension).
	Parents []*File

	// UpToDate is true iff the task that produced this file was skipped
	// because its prior output was still valid. Set directly from the
	// worker's skip decision; it is never derived from Parents.
	UpToDate bool

	toolsUsed map[string]struct{}
}

// New creates a file with no tools consumed yet.
func New(path string) *File {
	return &File{
		Path:      path,
		UpToDate:  false,
		toolsUsed: make(map[string]struct{}),
	}
}

// Derived creates a file produced by running a tool over parents. If
// sameExt is true the new file chains to parents (for provenance only);
// upToDate is taken directly from the worker's skip decision regardless.
func Derived(path string, parents []*File, sameExt bool, upToDate bool) *File {
	f := &File{
		Path:      path,
		UpToDate:  upToDate,
		toolsUsed: make(map[string]struct{}),
	}
	if sameExt {
		f.Parents = parents
	}
	return f
}

// Ext returns the file extension, including the empty string for
// extensionless files.
func (f *File) Ext() string {
	return filepath.Ext(f.Path)
}

// UseTool marks toolName as having consumed this file. Calling it twice for
// the same tool is a caller bug; it panics rather than silently tolerating
// double-consumption, since the scheduler invariant is that no tool ever
// consumes an input twice.
func (f *File) UseTool(toolName string) {
	if _, used := f.toolsUsed[toolName]; used {
		panic("inputfile: " + f.Path + " already consumed by tool " + toolName)
	}
	f.toolsUsed[toolName] = struct{}{}
}

// WasToolUsed reports whether toolName has already consumed this file.
func (f *File) WasToolUsed(toolName string) bool {
	_, used := f.toolsUsed[toolName]
	return used
}

// Pool is an ordered set of files for one extension within a project. Order
// matters for fingerprinting and for deterministic dispatch order.
type Pool struct {
	files []*File
	index map[string]int
}

// NewPool creates an empty ordered file pool.
func NewPool() *Pool {
	return &Pool{index: make(map[string]int)}
}

// Add appends f to the pool unless a file with the same path is already
// present.
func (p *Pool) Add(f *File) {
	if _, ok := p.index[f.Path]; ok {
		return
	}
	p.index[f.Path] = len(p.files)
	p.files = append(p.files, f)
}

// Remove deletes the file at path from the pool, if present.
func (p *Pool) Remove(path string) {
	i, ok := p.index[path]
	if !ok {
		return
	}
	p.files = append(p.files[:i], p.files[i+1:]...)
	delete(p.index, path)
	for path, idx := range p.index {
		if idx > i {
			p.index[path] = idx - 1
		}
	}
}

// Files returns the ordered slice of files currently in the pool. Callers
// must not mutate the returned slice.
func (p *Pool) Files() []*File {
	return p.files
}

// Len returns the number of files currently in the pool.
func (p *Pool) Len() int {
	return len(p.files)
}

// Unconsumed returns the files in the pool that toolName has not yet used.
func (p *Pool) Unconsumed(toolName string) []*File {
	var out []*File
	for _, f := range p.files {
		if !f.WasToolUsed(toolName) {
			out = append(out, f)
		}
	}
	return out
}
