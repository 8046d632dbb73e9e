//go:build !linux

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

var unmapMemory = func([]byte) error { return ErrUnsupported }

// createSegment is not supported on this platform
func createSegment(path, name string, kind Kind, payloadSize uint64, init InitFunc) (*Segment, error) {
	return nil, ErrUnsupported
}

// openSegment is not supported on this platform
func openSegment(path, name string, kind Kind) (*Segment, error) {
	return nil, ErrUnsupported
}
