package vfs

import (
	"io/fs"
	"os"
	"strings"
	"sync"
)

// Op identifies a filesystem operation for fault matching.
type Op string

const (
	OpReadFile Op = "readfile"
	OpWrite    Op = "write"
	OpOpenFile Op = "openfile"
	OpReadDir  Op = "readdir"
	OpMkdirAll Op = "mkdirall"
	OpStat     Op = "stat"
	OpExists   Op = "exists"
	OpRemove   Op = "remove"
	OpRename   Op = "rename"
)

// Rule fails matching operations deterministically.
//
// A rule matches when the operation equals Op and the path contains Path
// (empty Path matches every path). The first Skip matches are let through,
// then the rule fires, returning Err wrapped in an [fs.PathError]. Times
// limits how often the rule fires; zero means unlimited.
type Rule struct {
	Op   Op
	Path string
	Err  error

	// Skip lets the first N matches succeed before the rule fires.
	Skip int

	// Times caps how often the rule fires. Zero means no cap.
	Times int

	// Torn makes a firing write rule leave a half-written temp file
	// next to the destination, simulating a crash mid-write.
	Torn bool

	fired int
}

// Flaky wraps an [FS] and injects deterministic failures for testing.
//
// Unlike random fault injection, every failure is placed by the test:
// install a [Rule] per operation to break, run the scenario, then inspect
// [Flaky.Fired] to verify the rule actually triggered.
type Flaky struct {
	fs FS

	mu    sync.Mutex
	rules []*Rule
}

// NewFlaky creates a Flaky filesystem wrapping the given [FS].
func NewFlaky(fs FS) *Flaky {
	return &Flaky{fs: fs}
}

// Fail installs a rule. Rules are consulted in installation order and the
// first matching rule that is due decides the outcome.
func (f *Flaky) Fail(r *Rule) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.rules = append(f.rules, r)
}

// Reset removes all rules.
func (f *Flaky) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.rules = nil
}

// Fired reports how many times the given rule has fired.
func (f *Flaky) Fired(r *Rule) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return r.fired
}

// check returns the rule that fires for this operation, or nil.
func (f *Flaky) check(op Op, path string) *Rule {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, r := range f.rules {
		if r.Op != op {
			continue
		}

		if r.Path != "" && !strings.Contains(path, r.Path) {
			continue
		}

		if r.Skip > 0 {
			r.Skip--

			continue
		}

		if r.Times > 0 && r.fired >= r.Times {
			continue
		}

		r.fired++

		return r
	}

	return nil
}

func pathError(op Op, path string, err error) error {
	return &fs.PathError{Op: string(op), Path: path, Err: err}
}

func (f *Flaky) ReadFile(path string) ([]byte, error) {
	if r := f.check(OpReadFile, path); r != nil {
		return nil, pathError(OpReadFile, path, r.Err)
	}

	return f.fs.ReadFile(path)
}

func (f *Flaky) WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	if r := f.check(OpWrite, path); r != nil {
		if r.Torn && len(data) > 1 {
			// Leave the stray temp a crash between write and rename
			// would leave. The destination is untouched.
			tmp := path + ".tmp-torn"
			if err := os.WriteFile(tmp, data[:len(data)/2], perm); err != nil {
				return err
			}
		}

		return pathError(OpWrite, path, r.Err)
	}

	return f.fs.WriteFileAtomic(path, data, perm)
}

func (f *Flaky) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	if r := f.check(OpOpenFile, path); r != nil {
		return nil, pathError(OpOpenFile, path, r.Err)
	}

	return f.fs.OpenFile(path, flag, perm)
}

func (f *Flaky) ReadDir(path string) ([]os.DirEntry, error) {
	if r := f.check(OpReadDir, path); r != nil {
		return nil, pathError(OpReadDir, path, r.Err)
	}

	return f.fs.ReadDir(path)
}

func (f *Flaky) MkdirAll(path string, perm os.FileMode) error {
	if r := f.check(OpMkdirAll, path); r != nil {
		return pathError(OpMkdirAll, path, r.Err)
	}

	return f.fs.MkdirAll(path, perm)
}

func (f *Flaky) Stat(path string) (os.FileInfo, error) {
	if r := f.check(OpStat, path); r != nil {
		return nil, pathError(OpStat, path, r.Err)
	}

	return f.fs.Stat(path)
}

func (f *Flaky) Exists(path string) (bool, error) {
	if r := f.check(OpExists, path); r != nil {
		return false, pathError(OpExists, path, r.Err)
	}

	return f.fs.Exists(path)
}

func (f *Flaky) Remove(path string) error {
	if r := f.check(OpRemove, path); r != nil {
		return pathError(OpRemove, path, r.Err)
	}

	return f.fs.Remove(path)
}

func (f *Flaky) Rename(oldpath, newpath string) error {
	if r := f.check(OpRename, oldpath); r != nil {
		return pathError(OpRename, oldpath, r.Err)
	}

	return f.fs.Rename(oldpath, newpath)
}

// Compile-time interface check.
var _ FS = (*Flaky)(nil)
