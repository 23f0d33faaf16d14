// go-otaflash
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-otaflash.
//
// go-otaflash is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-otaflash is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-otaflash; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package otaflash

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/ZaparooProject/go-otaflash/frame"
)

// MaxImageSize is the largest image the 32-bit header size field can describe
const MaxImageSize = math.MaxUint32

// Image is a firmware image held in memory. The whole image is needed up front
// because its checksum travels in the header, before any data.
type Image struct {
	path string
	data []byte
}

// NewImage wraps a copy of data.
func NewImage(data []byte) (*Image, error) {
	return LoadImage(bytes.NewReader(data))
}

// LoadImage reads a complete image from r.
func LoadImage(r io.Reader) (*Image, error) {
	return loadImage("", r)
}

// OpenImage reads a complete image from the file at path.
func OpenImage(path string) (*Image, error) {
	f, err := os.Open(path) //nolint:gosec // path is chosen by the operator
	if err != nil {
		return nil, &FileError{Path: path, Err: err}
	}
	defer func() { _ = f.Close() }()

	return loadImage(path, f)
}

func loadImage(path string, r io.Reader) (*Image, error) {
	if r == nil {
		return nil, &FileError{Path: path, Err: fmt.Errorf("%w: nil reader", ErrInvalidParameter)}
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &FileError{Path: path, Err: err}
	}
	if len(data) == 0 {
		return nil, &FileError{Path: path, Err: ErrEmptyImage}
	}
	if int64(len(data)) > MaxImageSize {
		return nil, &FileError{Path: path, Err: fmt.Errorf("%w: %d bytes", ErrImageTooLarge, len(data))}
	}

	return &Image{path: path, data: data}, nil
}

// Path returns the file the image was loaded from, if any.
func (img *Image) Path() string {
	return img.path
}

// Size returns the image length in bytes.
func (img *Image) Size() int {
	return len(img.data)
}

// Checksum returns the whole-image checksum under sum.
func (img *Image) Checksum(sum frame.Checksum) uint32 {
	if sum == nil {
		sum = frame.CRC32IEEE
	}
	return sum(img.data)
}

// Header returns the header payload announcing this image. Reserved words are zero.
func (img *Image) Header(sum frame.Checksum) frame.Header {
	return frame.Header{
		ImageSize:     uint32(len(img.data)), //nolint:gosec // bounded by MaxImageSize at load
		ImageChecksum: img.Checksum(sum),
	}
}

// NumChunks returns how many Data packets of at most size bytes cover the image.
func (img *Image) NumChunks(size int) int {
	if size <= 0 {
		return 0
	}
	return (len(img.data) + size - 1) / size
}

// Chunks splits the image into contiguous slices of at most size bytes, in
// order. Only the last chunk may be shorter. The slices share the image's
// backing array and must not be modified.
func (img *Image) Chunks(size int) [][]byte {
	n := img.NumChunks(size)
	if n == 0 {
		return nil
	}
	chunks := make([][]byte, 0, n)
	for off := 0; off < len(img.data); off += size {
		end := min(off+size, len(img.data))
		chunks = append(chunks, img.data[off:end:end])
	}
	return chunks
}
