// Package storage implements the narrow disk-manager collaborator
// interface spec.md §6 defines (the buffer pool lives in package
// bufferpool): create/destroy/open/close a
// file, read/write a fixed-size page by number, and allocate a fresh page
// number. Everything above this (heap layout, B+-tree layout, replacement
// policy sophistication) is out of scope for this package.
//
// Grounded on the teacher's util/fileutil.go (Seek+ReadAt/WriteAt idiom)
// generalized from ad-hoc path-joining functions into a handle-based
// DiskManager, since the teacher's free functions don't track open file
// descriptors the way spec.md's `open_file(name) -> fd` contract requires.
package storage

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

// FD is an opaque file descriptor handed out by DiskManager.
type FD int

// DiskManager owns every open OS file for one database directory.
type DiskManager struct {
	mu      sync.Mutex
	dir     string
	files   map[FD]*os.File
	byName  map[string]FD
	nextFD  FD
	sizeCap int64 // page size given at construction; AllocatePage takes its own pageSize and does not read it
}

// NewDiskManager creates a DiskManager rooted at dir. dir must already
// exist.
func NewDiskManager(dir string, pageSize int) *DiskManager {
	return &DiskManager{
		dir:     dir,
		files:   make(map[FD]*os.File),
		byName:  make(map[string]FD),
		sizeCap: int64(pageSize),
	}
}

func (dm *DiskManager) path(name string) string { return filepath.Join(dm.dir, name) }

// CreateFile creates a new, empty file named name. It is an error to
// create a file that already exists.
func (dm *DiskManager) CreateFile(name string) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	p := dm.path(name)
	if _, err := os.Stat(p); err == nil {
		return errors.Errorf("file %q already exists", name)
	}
	f, err := os.Create(p)
	if err != nil {
		return errors.Wrapf(err, "create file %q", name)
	}
	return f.Close()
}

// DestroyFile removes name from disk. Any open descriptor for it must
// already be closed by the caller.
func (dm *DiskManager) DestroyFile(name string) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if err := os.Remove(dm.path(name)); err != nil {
		return errors.Wrapf(err, "destroy file %q", name)
	}
	return nil
}

// OpenFile opens name and returns a descriptor for subsequent
// read/write/allocate calls.
func (dm *DiskManager) OpenFile(name string) (FD, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if fd, ok := dm.byName[name]; ok {
		return fd, nil
	}
	f, err := os.OpenFile(dm.path(name), os.O_RDWR, 0o644)
	if err != nil {
		return 0, errors.Wrapf(err, "open file %q", name)
	}
	dm.nextFD++
	fd := dm.nextFD
	dm.files[fd] = f
	dm.byName[name] = fd
	return fd, nil
}

// CloseFile releases fd. Safe to call on an already-closed fd.
func (dm *DiskManager) CloseFile(fd FD) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	f, ok := dm.files[fd]
	if !ok {
		return nil
	}
	delete(dm.files, fd)
	for name, id := range dm.byName {
		if id == fd {
			delete(dm.byName, name)
			break
		}
	}
	return f.Close()
}

// ReadPage reads exactly len(buf) bytes from page pageNo of fd.
func (dm *DiskManager) ReadPage(fd FD, pageNo int32, buf []byte) error {
	f, err := dm.handle(fd)
	if err != nil {
		return err
	}
	off := int64(pageNo) * int64(len(buf))
	n, err := f.ReadAt(buf, off)
	if err != nil {
		return errors.Wrapf(err, "read page %d (fd %d)", pageNo, fd)
	}
	if n != len(buf) {
		return errors.Errorf("short read on page %d: got %d want %d", pageNo, n, len(buf))
	}
	return nil
}

// WritePage writes buf to page pageNo of fd, extending the file if needed.
func (dm *DiskManager) WritePage(fd FD, pageNo int32, buf []byte) error {
	f, err := dm.handle(fd)
	if err != nil {
		return err
	}
	off := int64(pageNo) * int64(len(buf))
	n, err := f.WriteAt(buf, off)
	if err != nil {
		return errors.Wrapf(err, "write page %d (fd %d)", pageNo, fd)
	}
	if n != len(buf) {
		return errors.Errorf("short write on page %d: wrote %d want %d", pageNo, n, len(buf))
	}
	return nil
}

// AllocatePage returns the page number one past the current end of file,
// sized in units of pageSize.
func (dm *DiskManager) AllocatePage(fd FD, pageSize int) (int32, error) {
	f, err := dm.handle(fd)
	if err != nil {
		return 0, err
	}
	info, err := f.Stat()
	if err != nil {
		return 0, errors.Wrap(err, "stat file")
	}
	return int32(info.Size() / int64(pageSize)), nil
}

func (dm *DiskManager) handle(fd FD) (*os.File, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	f, ok := dm.files[fd]
	if !ok {
		return nil, errors.Errorf("fd %d not open", fd)
	}
	return f, nil
}
