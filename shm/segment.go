package shm

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// Dir is where POSIX shared memory segments live on Linux.
const Dir = "/dev/shm"

// Segment is a named shared memory region mapped into this process.
// The process that created the segment owns it and is the only one
// allowed to unlink it; readers just map and unmap.
type Segment struct {
	name  string
	path  string
	data  []byte
	owner bool
}

// Path returns the filesystem path of a segment name like "/camshm_frames".
func Path(name string) string {
	return filepath.Join(Dir, strings.TrimPrefix(name, "/"))
}

// Create creates the segment if absent and maps it read-write.
// The size is set once at creation; an existing segment is reused as long
// as it is at least size bytes, so create is idempotent across restarts.
func Create(name string, size int) (*Segment, error) {
	path := Path(name)
	owner := false

	fd, err := unix.Open(path, unix.O_CREAT|unix.O_EXCL|unix.O_RDWR, 0o666)
	if err == nil {
		owner = true
		if err := unix.Ftruncate(fd, int64(size)); err != nil {
			unix.Close(fd)
			unix.Unlink(path)
			return nil, fmt.Errorf("resize %s to %d bytes: %w", path, size, err)
		}
	} else if err == unix.EEXIST {
		fd, err = unix.Open(path, unix.O_RDWR, 0o666)
		if err != nil {
			return nil, fmt.Errorf("open existing %s: %w", path, err)
		}
		var st unix.Stat_t
		if err := unix.Fstat(fd, &st); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
		if st.Size < int64(size) {
			unix.Close(fd)
			return nil, fmt.Errorf("segment %s is %d bytes, need %d", path, st.Size, size)
		}
	} else {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}

	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	unix.Close(fd)
	if err != nil {
		if owner {
			unix.Unlink(path)
		}
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}

	return &Segment{name: name, path: path, data: data, owner: owner}, nil
}

// Open maps an existing segment read-write. Write access is needed even by
// consumers because the wake semaphores live inside the segment.
// Returns ErrNotAvailable while the producing process has not created it yet.
func Open(name string, size int) (*Segment, error) {
	path := Path(name)
	fd, err := unix.Open(path, unix.O_RDWR, 0o666)
	if err != nil {
		if err == unix.ENOENT {
			return nil, fmt.Errorf("segment %s: %w", name, ErrNotAvailable)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if st.Size < int64(size) {
		unix.Close(fd)
		// Producer created the file but has not sized it yet.
		return nil, fmt.Errorf("segment %s is %d of %d bytes: %w", name, st.Size, size, ErrNotAvailable)
	}

	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	unix.Close(fd)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	return &Segment{name: name, path: path, data: data}, nil
}

// Bytes returns the mapped region. The slice stays valid until Close.
func (s *Segment) Bytes() []byte {
	return s.data
}

// Name returns the segment name, e.g. "/camshm_frames".
func (s *Segment) Name() string {
	return s.name
}

// Owner reports whether this process created the segment.
func (s *Segment) Owner() bool {
	return s.owner
}

// Close unmaps the segment. It never unlinks; consumers must leave the
// segment in place for other readers and the producer.
func (s *Segment) Close() error {
	if s.data == nil {
		return nil
	}
	err := unix.Munmap(s.data)
	s.data = nil
	return err
}

// Unlink removes the segment name. Only the owning producer should call
// this, on clean shutdown. Already-mapped consumers keep their mapping.
func (s *Segment) Unlink() error {
	if !s.owner {
		return fmt.Errorf("unlink %s: not the owner", s.name)
	}
	if err := unix.Unlink(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
