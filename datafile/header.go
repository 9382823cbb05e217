// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2019 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package datafile

import (
	"encoding/binary"

	"github.com/bitmark-inc/hashstore/fault"
)

// currently supported data file version
const Version = 1

// the file magic
var magic = [8]byte{'h', 'a', 's', 'h', 'd', 'a', 't', 'a'}

// byte sizes for the header fields
const (
	magicSize           = 8
	versionSize         = 4
	appTagSize          = 8
	keyLengthSize       = 4
	saltSize            = 8
	committedLengthSize = 8
)

// offsets of the header fields
const (
	magicOffset           = 0
	versionOffset         = magicOffset + magicSize
	appTagOffset          = versionOffset + versionSize
	keyLengthOffset       = appTagOffset + appTagSize
	saltOffset            = keyLengthOffset + keyLengthSize
	committedLengthOffset = saltOffset + saltSize

	// HeaderSize - total bytes before the first record
	HeaderSize = committedLengthOffset + committedLengthSize
)

// Header - decoded data file header
type Header struct {
	AppTag    uint64
	KeyLength int
	Salt      uint64
}

// pack a header, committed length is the current log extent
func packHeader(header Header, committedLength uint64) [HeaderSize]byte {
	var buffer [HeaderSize]byte
	copy(buffer[magicOffset:], magic[:])
	binary.BigEndian.PutUint32(buffer[versionOffset:], Version)
	binary.BigEndian.PutUint64(buffer[appTagOffset:], header.AppTag)
	binary.BigEndian.PutUint32(buffer[keyLengthOffset:], uint32(header.KeyLength))
	binary.BigEndian.PutUint64(buffer[saltOffset:], header.Salt)
	binary.BigEndian.PutUint64(buffer[committedLengthOffset:], committedLength)
	return buffer
}

// unpack and validate a header
func unpackHeader(buffer []byte) (Header, uint64, error) {
	header := Header{}

	if len(buffer) < HeaderSize {
		return header, 0, fault.ErrDataFileCorrupt
	}
	for i := 0; i < magicSize; i += 1 {
		if buffer[magicOffset+i] != magic[i] {
			return header, 0, fault.ErrWrongFileType
		}
	}
	if Version != binary.BigEndian.Uint32(buffer[versionOffset:]) {
		return header, 0, fault.ErrVersionMismatch
	}

	header.AppTag = binary.BigEndian.Uint64(buffer[appTagOffset:])
	header.KeyLength = int(binary.BigEndian.Uint32(buffer[keyLengthOffset:]))
	header.Salt = binary.BigEndian.Uint64(buffer[saltOffset:])
	committedLength := binary.BigEndian.Uint64(buffer[committedLengthOffset:])

	if header.KeyLength <= 0 || header.KeyLength > MaxKeyLength {
		return header, 0, fault.ErrDataFileCorrupt
	}
	if committedLength < HeaderSize {
		return header, 0, fault.ErrDataFileCorrupt
	}

	return header, committedLength, nil
}
