// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2019 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package bucketfile

import (
	"encoding/binary"

	"github.com/bitmark-inc/hashstore/datafile"
	"github.com/bitmark-inc/hashstore/fault"
	"github.com/bitmark-inc/hashstore/util"
)

// bucket field sizes
const (
	slotCountSize = 2
	spillHeadSize = util.Uint48Size
)

// MaxBucketCapacity - slot count must fit the uint16 count field
const MaxBucketCapacity = 1<<16 - 1

// Bucket - decoded form of one on-disk bucket
//
// Slots holds only the live entries, in insertion order; the on-disk
// array is fixed at the file's bucket capacity
type Bucket struct {
	Index     uint64
	Slots     []datafile.Entry
	SpillHead uint64
}

// BucketSize - on-disk bytes of one bucket at the given capacity
func BucketSize(capacity int) int {
	return slotCountSize + capacity*datafile.EntrySize + spillHeadSize
}

// pack a bucket into its fixed size on-disk form
func packBucket(bucket *Bucket, capacity int) ([]byte, error) {
	if len(bucket.Slots) > capacity {
		return nil, fault.ErrIndexFileCorrupt
	}

	buffer := make([]byte, BucketSize(capacity))
	binary.BigEndian.PutUint16(buffer, uint16(len(bucket.Slots)))
	datafile.PackEntries(buffer[slotCountSize:], bucket.Slots)
	util.PutUint48(buffer[slotCountSize+capacity*datafile.EntrySize:], bucket.SpillHead)
	return buffer, nil
}

// unpack an on-disk bucket
func unpackBucket(buffer []byte, index uint64, capacity int) (*Bucket, error) {
	if len(buffer) != BucketSize(capacity) {
		return nil, fault.ErrIndexFileCorrupt
	}

	count := int(binary.BigEndian.Uint16(buffer))
	if count > capacity {
		return nil, fault.ErrIndexFileCorrupt
	}

	bucket := &Bucket{
		Index:     index,
		Slots:     datafile.UnpackEntries(buffer[slotCountSize:], count),
		SpillHead: util.Uint48(buffer[slotCountSize+capacity*datafile.EntrySize:]),
	}
	return bucket, nil
}
