// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2019 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package datafile

import (
	"github.com/bitmark-inc/hashstore/util"
)

// record tag bytes
const (
	TagData  = byte('D')
	TagSpill = byte('S')
)

// record field sizes
const (
	tagSize         = 1
	valueLengthSize = 4
	checksumSize    = 8
	entryCountSize  = 2
	EntrySize       = 2 * util.Uint48Size // exported for the bucket codec
	prevSpillSize   = util.Uint48Size
)

// limits
const (
	MaxKeyLength    = 1 << 16        // sanity bound, keys are normally short digests
	MaxValueLength  = 1 << 30        // practical record size limit
	MaxSpillEntries = 1 << 16        // limited by the uint16 count field
	MaxFileLength   = util.MaxUint48 // offsets are stored as 48 bit values
)

// offsets within a data record
const (
	dataTagOffset         = 0
	dataValueLengthOffset = dataTagOffset + tagSize
	dataChecksumOffset    = dataValueLengthOffset + valueLengthSize
	dataKeyOffset         = dataChecksumOffset + checksumSize

	// DataRecordOverhead - fixed bytes before the key of a data record
	DataRecordOverhead = dataKeyOffset
)

// offsets within a spill record
const (
	spillTagOffset        = 0
	spillEntryCountOffset = spillTagOffset + tagSize
	spillEntriesOffset    = spillEntryCountOffset + entryCountSize

	// SpillRecordOverhead - fixed bytes of a spill record excluding its entries
	SpillRecordOverhead = spillEntriesOffset + prevSpillSize
)

// Entry - one slot entry as stored in buckets and spill records
//
// Hash is the truncated 48 bit form of the key's placement hash and
// Offset is the data log position of the record holding the full key
type Entry struct {
	Hash   uint64
	Offset uint64
}

// DataRecordSize - total record bytes for a value of the given length
func DataRecordSize(keyLength int, valueLength int) uint64 {
	return uint64(DataRecordOverhead) + uint64(keyLength) + uint64(valueLength)
}

// SpillRecordSize - total record bytes for a spill of n entries
func SpillRecordSize(n int) uint64 {
	return uint64(SpillRecordOverhead) + uint64(n)*EntrySize
}

// PackEntries - pack a slot entry array
func PackEntries(buffer []byte, entries []Entry) {
	for i, entry := range entries {
		util.PutUint48(buffer[i*EntrySize:], entry.Hash)
		util.PutUint48(buffer[i*EntrySize+util.Uint48Size:], entry.Offset)
	}
}

// UnpackEntries - unpack a slot entry array
func UnpackEntries(buffer []byte, count int) []Entry {
	entries := make([]Entry, count)
	for i := 0; i < count; i += 1 {
		entries[i].Hash = util.Uint48(buffer[i*EntrySize:])
		entries[i].Offset = util.Uint48(buffer[i*EntrySize+util.Uint48Size:])
	}
	return entries
}
