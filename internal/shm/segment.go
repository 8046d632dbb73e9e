/*
 *
 * Copyright 2025 gRPC authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package shm

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/google/uuid"
)

// Memory layout constants
const (
	// Magic bytes for segment identification
	SegmentMagic = "SHMPCSEG"

	// Current layout version
	SegmentVersion = uint32(1)

	// Segment header size (aligned to 64 bytes)
	SegmentHeaderSize = 64

	// DefaultDir is where named objects live when /dev/shm is available.
	DefaultDir = "/dev/shm"
)

// Kind identifies what a segment's payload holds.
type Kind uint32

const (
	// KindBuffer is a bounded buffer region.
	KindBuffer Kind = 1
	// KindSemaphore is a counting semaphore.
	KindSemaphore Kind = 2
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindBuffer:
		return "buffer"
	case KindSemaphore:
		return "semaphore"
	default:
		return fmt.Sprintf("kind(%d)", uint32(k))
	}
}

// prefix mirrors the POSIX naming convention on Linux, where shm_open and
// sem_open objects share /dev/shm and semaphores carry a "sem." prefix.
func (k Kind) prefix() string {
	if k == KindSemaphore {
		return "sem."
	}
	return "shm."
}

// SegmentHeader is the fixed header at offset 0 of every segment.
type SegmentHeader struct {
	magic       [8]byte  // 0x00: "SHMPCSEG"
	version     uint32   // 0x08: layout version
	kind        uint32   // 0x0C: Kind
	payloadSize uint64   // 0x10: payload bytes following the header
	creatorPID  uint32   // 0x18: pid of the creating process
	pad         uint32   // 0x1C: padding
	createdAt   int64    // 0x20: creation time, unix nanoseconds
	instance    [16]byte // 0x28: UUID assigned at creation
	reserved    [8]byte  // 0x38-0x3F: reserved/padding to 64B
}

// Magic returns the magic bytes
func (h *SegmentHeader) Magic() [8]byte {
	return h.magic
}

// Version returns the layout version
func (h *SegmentHeader) Version() uint32 {
	return atomic.LoadUint32(&h.version)
}

// Kind returns the payload kind
func (h *SegmentHeader) Kind() Kind {
	return Kind(atomic.LoadUint32(&h.kind))
}

// PayloadSize returns the payload size in bytes
func (h *SegmentHeader) PayloadSize() uint64 {
	return atomic.LoadUint64(&h.payloadSize)
}

// CreatorPID returns the pid of the creating process
func (h *SegmentHeader) CreatorPID() uint32 {
	return atomic.LoadUint32(&h.creatorPID)
}

// CreatedAt returns the creation time
func (h *SegmentHeader) CreatedAt() time.Time {
	return time.Unix(0, atomic.LoadInt64(&h.createdAt))
}

// Instance returns the UUID assigned when the segment was created
func (h *SegmentHeader) Instance() uuid.UUID {
	return uuid.UUID(h.instance)
}

func (h *SegmentHeader) init(kind Kind, payloadSize uint64, instance uuid.UUID) {
	copy(h.magic[:], SegmentMagic)
	h.version = SegmentVersion
	h.kind = uint32(kind)
	h.payloadSize = payloadSize
	h.creatorPID = uint32(os.Getpid())
	h.createdAt = time.Now().UnixNano()
	h.instance = [16]byte(instance)
}

// alignTo64 aligns a size to 64-byte boundary
func alignTo64(size uint64) uint64 {
	return (size + 63) &^ 63
}

// segmentSize returns the mapped size of a segment with the given payload.
func segmentSize(payloadSize uint64) uint64 {
	return alignTo64(SegmentHeaderSize + payloadSize)
}

// ValidateSegmentHeader validates a segment header against the requested
// kind and the size of the mapped file.
func ValidateSegmentHeader(h *SegmentHeader, kind Kind, fileSize int64) error {
	if string(h.magic[:]) != SegmentMagic {
		return fmt.Errorf("%w: bad magic bytes", ErrInvalidSegment)
	}
	if h.Version() != SegmentVersion {
		return fmt.Errorf("%w: unsupported version %d, expected %d", ErrInvalidSegment, h.Version(), SegmentVersion)
	}
	if h.Kind() != kind {
		return fmt.Errorf("%w: found %s, expected %s", ErrKindMismatch, h.Kind(), kind)
	}
	if want := segmentSize(h.PayloadSize()); uint64(fileSize) != want {
		return fmt.Errorf("%w: file size %d does not match payload size %d", ErrInvalidSegment, fileSize, h.PayloadSize())
	}
	return nil
}

// InitFunc initializes the payload of a segment that is being created. It
// runs before the segment becomes visible under its name.
type InitFunc func(payload []byte, instance uuid.UUID) error

// Segment represents a mapped named segment
type Segment struct {
	file *os.File
	mem  []byte
	hdr  *SegmentHeader
	name string
	path string
	kind Kind
}

// Name returns the name the segment was opened with.
func (s *Segment) Name() string { return s.name }

// Path returns the file path backing the segment.
func (s *Segment) Path() string { return s.path }

// Kind returns the segment kind.
func (s *Segment) Kind() Kind { return s.kind }

// Header returns the segment header. It must not be used after Close.
func (s *Segment) Header() *SegmentHeader { return s.hdr }

// Instance returns the UUID assigned when the segment was created.
func (s *Segment) Instance() uuid.UUID { return s.hdr.Instance() }

// Payload returns the mapped payload bytes following the header.
func (s *Segment) Payload() []byte {
	return s.mem[SegmentHeaderSize : SegmentHeaderSize+s.hdr.PayloadSize()]
}

// Close unmaps the memory and closes the file. The named object itself is
// left in place for other processes; see RemoveSegment.
func (s *Segment) Close() error {
	var firstErr error

	// Unmap the memory
	if s.mem != nil {
		if err := unmapMemory(s.mem); err != nil && firstErr == nil {
			firstErr = err
		}
		s.mem = nil
		s.hdr = nil
	}

	// Close the file
	if s.file != nil {
		if err := s.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.file = nil
	}

	return firstErr
}

func newSegment(file *os.File, mem []byte, name, path string, kind Kind) *Segment {
	return &Segment{
		file: file,
		mem:  mem,
		hdr:  (*SegmentHeader)(unsafe.Pointer(&mem[0])),
		name: name,
		path: path,
		kind: kind,
	}
}

// ResolveDir returns dir, or the platform default when dir is empty.
func ResolveDir(dir string) string {
	if dir != "" {
		return dir
	}
	if isDevShmAvailable() {
		return DefaultDir
	}
	// Fallback to temporary directory
	return os.TempDir()
}

// isDevShmAvailable checks if /dev/shm is available
func isDevShmAvailable() bool {
	info, err := os.Stat(DefaultDir)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// ValidateName reports whether name can be used for a named object. A single
// leading slash is accepted, as in POSIX object names.
func ValidateName(name string) error {
	n := strings.TrimPrefix(name, "/")
	if n == "" {
		return fmt.Errorf("empty object name %q", name)
	}
	if strings.ContainsAny(n, "/\x00") || n == "." || n == ".." {
		return fmt.Errorf("invalid object name %q", name)
	}
	return nil
}

// SegmentPath returns the file path of the named object of the given kind.
func SegmentPath(dir string, kind Kind, name string) string {
	return filepath.Join(ResolveDir(dir), kind.prefix()+strings.TrimPrefix(name, "/"))
}

// CreateSegment creates a new named segment and initializes its payload with
// init. It fails with an error wrapping fs.ErrExist if the name is taken.
func CreateSegment(dir string, kind Kind, name string, payloadSize uint64, init InitFunc) (*Segment, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	return createSegment(SegmentPath(dir, kind, name), name, kind, payloadSize, init)
}

// OpenSegment opens an existing named segment. It fails with an error
// wrapping fs.ErrNotExist if no such segment has been created.
func OpenSegment(dir string, kind Kind, name string) (*Segment, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	return openSegment(SegmentPath(dir, kind, name), name, kind)
}

// OpenOrCreateSegment opens the named segment, creating it first if it does
// not exist. created reports whether this call created it. Concurrent callers
// agree on a single creator; the others open the creator's segment.
func OpenOrCreateSegment(dir string, kind Kind, name string, payloadSize uint64, init InitFunc) (seg *Segment, created bool, err error) {
	if err := ValidateName(name); err != nil {
		return nil, false, err
	}
	path := SegmentPath(dir, kind, name)

	seg, err = openSegment(path, name, kind)
	if err == nil {
		return seg, false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, err
	}

	seg, err = createSegment(path, name, kind, payloadSize, init)
	if err == nil {
		return seg, true, nil
	}
	if !errors.Is(err, fs.ErrExist) {
		return nil, false, err
	}

	// Lost the creation race; the winner's segment is complete once linked.
	seg, err = openSegment(path, name, kind)
	if err != nil {
		return nil, false, err
	}
	return seg, false, nil
}

// RemoveSegment unlinks a named segment. Processes that have it mapped keep
// their mapping; the memory is released when the last one closes it.
func RemoveSegment(dir string, kind Kind, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	return os.Remove(SegmentPath(dir, kind, name))
}

// tempPrefix is the name prefix of the private file a segment at path is
// built in before it is linked into place. The rest of the name is the
// random digits added by os.CreateTemp.
func tempPrefix(path string) string {
	return "." + filepath.Base(path) + ".tmp-"
}

// RemoveSegmentTemps removes build files of the named segment left behind
// by creators that died before publishing it, and returns how many it
// removed. A creation running at the same time fails to publish.
func RemoveSegmentTemps(dir string, kind Kind, name string) (int, error) {
	if err := ValidateName(name); err != nil {
		return 0, err
	}
	path := SegmentPath(dir, kind, name)
	parent := filepath.Dir(path)
	entries, err := os.ReadDir(parent)
	if err != nil {
		return 0, err
	}

	prefix := tempPrefix(path)
	removed := 0
	var errs []error
	for _, e := range entries {
		suffix, ok := strings.CutPrefix(e.Name(), prefix)
		if !ok || e.IsDir() || !isDigits(suffix) {
			continue
		}
		if err := os.Remove(filepath.Join(parent, e.Name())); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
			}
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// SegmentExists checks if a named segment exists
func SegmentExists(dir string, kind Kind, name string) bool {
	if ValidateName(name) != nil {
		return false
	}
	_, err := os.Stat(SegmentPath(dir, kind, name))
	return err == nil
}
