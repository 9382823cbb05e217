// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2019 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package bucketfile

import (
	"encoding/binary"

	"github.com/bitmark-inc/hashstore/datafile"
	"github.com/bitmark-inc/hashstore/fault"
)

// currently supported index file version
const Version = 1

// the file magic
var magic = [8]byte{'h', 'a', 's', 'h', 'i', 'n', 'd', 'x'}

// byte sizes for the header fields
const (
	magicSize          = 8
	versionSize        = 4
	appTagSize         = 8
	keyLengthSize      = 4
	saltSize           = 8
	bucketCountSize    = 8
	bucketCapacitySize = 4
	paddingSize        = 4
)

// offsets of the header fields
const (
	magicOffset          = 0
	versionOffset        = magicOffset + magicSize
	appTagOffset         = versionOffset + versionSize
	keyLengthOffset      = appTagOffset + appTagSize
	saltOffset           = keyLengthOffset + keyLengthSize
	bucketCountOffset    = saltOffset + saltSize
	bucketCapacityOffset = bucketCountOffset + bucketCountSize

	// HeaderSize - total bytes before the first bucket
	HeaderSize = bucketCapacityOffset + bucketCapacitySize + paddingSize
)

// Header - decoded index file header
type Header struct {
	AppTag         uint64
	KeyLength      int
	Salt           uint64
	BucketCount    uint64
	BucketCapacity int
}

// pack a header
func packHeader(header Header) [HeaderSize]byte {
	var buffer [HeaderSize]byte
	copy(buffer[magicOffset:], magic[:])
	binary.BigEndian.PutUint32(buffer[versionOffset:], Version)
	binary.BigEndian.PutUint64(buffer[appTagOffset:], header.AppTag)
	binary.BigEndian.PutUint32(buffer[keyLengthOffset:], uint32(header.KeyLength))
	binary.BigEndian.PutUint64(buffer[saltOffset:], header.Salt)
	binary.BigEndian.PutUint64(buffer[bucketCountOffset:], header.BucketCount)
	binary.BigEndian.PutUint32(buffer[bucketCapacityOffset:], uint32(header.BucketCapacity))
	return buffer
}

// unpack and validate a header
func unpackHeader(buffer []byte) (Header, error) {
	header := Header{}

	if len(buffer) < HeaderSize {
		return header, fault.ErrIndexFileCorrupt
	}
	for i := 0; i < magicSize; i += 1 {
		if buffer[magicOffset+i] != magic[i] {
			return header, fault.ErrWrongFileType
		}
	}
	if Version != binary.BigEndian.Uint32(buffer[versionOffset:]) {
		return header, fault.ErrVersionMismatch
	}

	header.AppTag = binary.BigEndian.Uint64(buffer[appTagOffset:])
	header.KeyLength = int(binary.BigEndian.Uint32(buffer[keyLengthOffset:]))
	header.Salt = binary.BigEndian.Uint64(buffer[saltOffset:])
	header.BucketCount = binary.BigEndian.Uint64(buffer[bucketCountOffset:])
	header.BucketCapacity = int(binary.BigEndian.Uint32(buffer[bucketCapacityOffset:]))

	if header.KeyLength <= 0 || header.KeyLength > datafile.MaxKeyLength {
		return header, fault.ErrIndexFileCorrupt
	}
	if 0 == header.BucketCount {
		return header, fault.ErrIndexFileCorrupt
	}
	if header.BucketCapacity <= 0 || header.BucketCapacity > MaxBucketCapacity {
		return header, fault.ErrIndexFileCorrupt
	}

	return header, nil
}

// CheckAgainst - refuse a pair whose headers disagree
func (h Header) CheckAgainst(data datafile.Header) error {
	if h.AppTag != data.AppTag {
		return fault.ErrAppTagMismatch
	}
	if h.KeyLength != data.KeyLength {
		return fault.ErrKeyLengthMismatch
	}
	if h.Salt != data.Salt {
		return fault.ErrSaltMismatch
	}
	return nil
}
