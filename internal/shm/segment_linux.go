//go:build linux

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
	"fmt"
	"os"
	"path/filepath"
	"unsafe"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// segmentPerm restricts named objects to processes of the creating user.
const segmentPerm = 0o600

// unmapMemory unmaps a memory-mapped region
var unmapMemory = munmapImpl

// createSegment builds the segment in a private temporary file and links it
// to path. link(2) fails with EEXIST instead of replacing an existing file,
// which makes creation exclusive and publishes a fully initialized segment.
func createSegment(path, name string, kind Kind, payloadSize uint64, init InitFunc) (*Segment, error) {
	totalSize := segmentSize(payloadSize)

	file, err := os.CreateTemp(filepath.Dir(path), tempPrefix(path)+"*")
	if err != nil {
		return nil, fmt.Errorf("failed to create segment file for %s: %w", path, err)
	}
	tmpPath := file.Name()

	// Ensure cleanup on error
	cleanup := func() {
		file.Close()
		os.Remove(tmpPath)
	}

	if err := file.Chmod(segmentPerm); err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to chmod segment file: %w", err)
	}

	// Set the file size
	if err := file.Truncate(int64(totalSize)); err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to resize segment file: %w", err)
	}

	// Memory map the file
	mem, err := mmapFile(file, int(totalSize))
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to mmap segment: %w", err)
	}

	instance := uuid.New()
	hdr := (*SegmentHeader)(unsafe.Pointer(&mem[0]))
	hdr.init(kind, payloadSize, instance)

	if init != nil {
		payload := mem[SegmentHeaderSize : SegmentHeaderSize+payloadSize]
		if err := init(payload, instance); err != nil {
			munmapImpl(mem)
			cleanup()
			return nil, fmt.Errorf("failed to initialize %s %q: %w", kind, name, err)
		}
	}

	// Publish under the final name
	if err := os.Link(tmpPath, path); err != nil {
		munmapImpl(mem)
		cleanup()
		return nil, fmt.Errorf("failed to publish %s %q: %w", kind, name, err)
	}
	os.Remove(tmpPath)

	return newSegment(file, mem, name, path, kind), nil
}

// openSegment opens and validates an existing segment
func openSegment(path, name string, kind Kind) (*Segment, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s %q: %w", kind, name, err)
	}

	// Get file info to determine size
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat segment file: %w", err)
	}

	size := info.Size()
	if size < SegmentHeaderSize {
		file.Close()
		return nil, fmt.Errorf("%w: %s is too small (%d bytes)", ErrInvalidSegment, path, size)
	}

	// Memory map the file
	mem, err := mmapFile(file, int(size))
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to mmap segment: %w", err)
	}

	hdr := (*SegmentHeader)(unsafe.Pointer(&mem[0]))
	if err := ValidateSegmentHeader(hdr, kind, size); err != nil {
		munmapImpl(mem)
		file.Close()
		return nil, fmt.Errorf("%s %q: %w", kind, name, err)
	}

	return newSegment(file, mem, name, path, kind), nil
}

// mmapFile memory maps a file
func mmapFile(file *os.File, size int) ([]byte, error) {
	data, err := unix.Mmap(int(file.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap failed: %w", err)
	}
	return data, nil
}

// munmapImpl unmaps a memory-mapped region
func munmapImpl(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if err := unix.Munmap(data); err != nil {
		return fmt.Errorf("munmap failed: %w", err)
	}
	return nil
}
