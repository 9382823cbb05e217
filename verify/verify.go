// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2019 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package verify - offline store audit
//
// Walks the whole data log, recomputes every record checksum and
// confirms each key is reachable from its computed bucket, directly or
// through the spill chain.  A second pass checks the index the other
// way round: every slot must resolve to a matching record.  Both files
// are opened read-only and never modified; runtime is proportional to
// the data log size, this is a diagnostic tool, not a hot path.
package verify

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/bitmark-inc/hashstore/bucketfile"
	"github.com/bitmark-inc/hashstore/datafile"
	"github.com/bitmark-inc/hashstore/fault"
	"github.com/bitmark-inc/hashstore/keyhash"
)

// Progress - optional callback reporting bytes walked so far
type Progress func(done uint64, total uint64)

// Verify - audit a store pair
func Verify(dataPath string, indexPath string) (*Report, error) {
	return VerifyWithProgress(dataPath, indexPath, nil)
}

// VerifyWithProgress - audit a store pair, reporting progress at most
// once per second
func VerifyWithProgress(dataPath string, indexPath string, progress Progress) (*Report, error) {

	data, err := datafile.Open(dataPath, true)
	if nil != err {
		return nil, err
	}
	defer data.Close()

	index, err := bucketfile.Open(indexPath, true)
	if nil != err {
		return nil, err
	}
	defer index.Close()

	err = index.Header().CheckAgainst(data.Header())
	if nil != err {
		return nil, err
	}

	v := &verifier{
		data:     data,
		index:    index,
		salt:     data.Header().Salt,
		progress: progress,
		limiter:  rate.NewLimiter(rate.Every(time.Second), 1),
		report: &Report{
			DataPath:        dataPath,
			IndexPath:       indexPath,
			AppTag:          data.Header().AppTag,
			KeyLength:       data.Header().KeyLength,
			Salt:            data.Header().Salt,
			BucketCount:     index.BucketCount(),
			BucketCapacity:  index.BucketCapacity(),
			CommittedLength: data.CommittedLength(),
			FillHistogram:   make([]uint64, index.BucketCapacity()+1),
		},
	}

	err = v.walkLog()
	if nil != err {
		return v.report, err
	}
	err = v.walkBuckets()
	if nil != err {
		return v.report, err
	}

	if nil != progress {
		progress(v.report.CommittedLength, v.report.CommittedLength)
	}
	return v.report, nil
}

type verifier struct {
	data     *datafile.File
	index    *bucketfile.File
	salt     uint64
	report   *Report
	progress Progress
	limiter  *rate.Limiter
}

// pass 1: every committed record parses, checksums and is reachable
func (v *verifier) walkLog() error {

	committed := v.data.CommittedLength()
	offset := uint64(datafile.HeaderSize)

	for offset < committed {
		if nil != v.progress && v.limiter.Allow() {
			v.progress(offset, committed)
		}

		tag, err := v.data.ReadTag(offset)
		if nil != err {
			return fault.ErrDataFileCorrupt
		}

		switch tag {

		case datafile.TagData:
			key, value, checksum, err := v.data.ReadDataUnchecked(offset)
			if nil != err {
				return fault.ErrDataFileCorrupt
			}

			if checksum != v.data.Checksum(key, value) {
				v.report.ChecksumFailures = append(v.report.ChecksumFailures, offset)
			}

			v.report.RecordCount += 1
			v.report.KeyBytes += uint64(len(key))
			v.report.ValueBytes += uint64(len(value))

			reachable, err := v.isReachable(key, offset)
			if nil != err {
				return err
			}
			if !reachable {
				unreachable := make([]byte, len(key))
				copy(unreachable, key)
				v.report.UnreachableKeys = append(v.report.UnreachableKeys, unreachable)
			}

			offset += datafile.DataRecordSize(len(key), len(value))

		case datafile.TagSpill:
			entries, _, err := v.data.ReadSpill(offset)
			if nil != err {
				return fault.ErrDataFileCorrupt
			}
			v.report.SpillCount += 1
			v.report.SpillBytes += datafile.SpillRecordSize(len(entries))
			offset += datafile.SpillRecordSize(len(entries))

		default:
			return fault.ErrDataFileCorrupt
		}
	}

	return nil
}

// is the record at the given offset reachable from its bucket
func (v *verifier) isReachable(key []byte, offset uint64) (bool, error) {

	hash := keyhash.Sum(v.salt, key)
	truncated := keyhash.Truncate(hash)

	bucket, err := v.index.ReadBucket(v.index.BucketIndex(hash))
	if nil != err {
		return false, err
	}

	for _, slot := range bucket.Slots {
		if slot.Hash == truncated && slot.Offset == offset {
			return true, nil
		}
	}

	spill := bucket.SpillHead
	for 0 != spill {
		entries, prevSpill, err := v.data.ReadSpill(spill)
		if nil != err {
			return false, nil
		}
		for _, slot := range entries {
			if slot.Hash == truncated && slot.Offset == offset {
				return true, nil
			}
		}
		if prevSpill >= spill {
			return false, nil
		}
		spill = prevSpill
	}

	return false, nil
}

// pass 2: every index entry resolves to a matching record
func (v *verifier) walkBuckets() error {

	committed := v.data.CommittedLength()

	for bucketIndex := uint64(0); bucketIndex < v.index.BucketCount(); bucketIndex += 1 {
		bucket, err := v.index.ReadBucket(bucketIndex)
		if nil != err {
			return fault.ErrIndexFileCorrupt
		}

		v.report.FillHistogram[len(bucket.Slots)] += 1

		v.checkSlots(bucket.Slots, bucketIndex, committed)

		spill := bucket.SpillHead
		for 0 != spill {
			if spill >= committed {
				v.report.BrokenChains += 1
				break
			}
			entries, prevSpill, err := v.data.ReadSpill(spill)
			if nil != err {
				v.report.BrokenChains += 1
				break
			}
			v.checkSlots(entries, bucketIndex, committed)
			if 0 != prevSpill && prevSpill >= spill {
				v.report.BrokenChains += 1
				break
			}
			spill = prevSpill
		}
	}

	return nil
}

// confirm each slot points to a record with a matching key
func (v *verifier) checkSlots(slots []datafile.Entry, bucketIndex uint64, committed uint64) {

	for _, slot := range slots {
		if slot.Offset >= committed {
			v.report.DanglingSlots = append(v.report.DanglingSlots, Slot{Bucket: bucketIndex, Offset: slot.Offset})
			continue
		}

		key, err := v.data.ReadDataKey(slot.Offset)
		if nil != err {
			v.report.DanglingSlots = append(v.report.DanglingSlots, Slot{Bucket: bucketIndex, Offset: slot.Offset})
			continue
		}

		hash := keyhash.Sum(v.salt, key)
		if keyhash.Truncate(hash) != slot.Hash || v.index.BucketIndex(hash) != bucketIndex {
			v.report.DanglingSlots = append(v.report.DanglingSlots, Slot{Bucket: bucketIndex, Offset: slot.Offset})
		}
	}
}
