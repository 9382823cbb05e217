// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2019 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package verify

import (
	"fmt"
	"strings"
)

// Slot - location of one index entry, for fault reporting
type Slot struct {
	Bucket uint64
	Offset uint64
}

// Report - result of one offline verification run
type Report struct {
	DataPath  string
	IndexPath string

	AppTag         uint64
	KeyLength      int
	Salt           uint64
	BucketCount    uint64
	BucketCapacity int

	CommittedLength uint64

	RecordCount uint64
	KeyBytes    uint64
	ValueBytes  uint64

	SpillCount uint64
	SpillBytes uint64

	// FillHistogram[n] = buckets with n direct slots in use
	FillHistogram []uint64

	// keys present in the data log but not reachable from the index
	UnreachableKeys [][]byte

	// index entries that do not resolve to a matching record
	DanglingSlots []Slot

	// records whose stored checksum does not match their content
	ChecksumFailures []uint64

	// spill chains that do not strictly point backwards
	BrokenChains uint64
}

// Ok - true when no inconsistency was found
func (r *Report) Ok() bool {
	return 0 == len(r.UnreachableKeys) &&
		0 == len(r.DanglingSlots) &&
		0 == len(r.ChecksumFailures) &&
		0 == r.BrokenChains
}

// String - human readable summary, one field per line
func (r *Report) String() string {
	s := strings.Builder{}

	fmt.Fprintf(&s, "data file:        %s\n", r.DataPath)
	fmt.Fprintf(&s, "index file:       %s\n", r.IndexPath)
	fmt.Fprintf(&s, "application tag:  %#016x\n", r.AppTag)
	fmt.Fprintf(&s, "key length:       %d\n", r.KeyLength)
	fmt.Fprintf(&s, "salt:             %#016x\n", r.Salt)
	fmt.Fprintf(&s, "buckets:          %d × %d slots\n", r.BucketCount, r.BucketCapacity)
	fmt.Fprintf(&s, "committed length: %d\n", r.CommittedLength)
	fmt.Fprintf(&s, "records:          %d\n", r.RecordCount)
	fmt.Fprintf(&s, "key bytes:        %d\n", r.KeyBytes)
	fmt.Fprintf(&s, "value bytes:      %d\n", r.ValueBytes)
	fmt.Fprintf(&s, "spill records:    %d (%d bytes)\n", r.SpillCount, r.SpillBytes)

	fmt.Fprintf(&s, "bucket fill:\n")
	for n, count := range r.FillHistogram {
		if 0 != count {
			fmt.Fprintf(&s, "  %3d slots: %d bucket(s)\n", n, count)
		}
	}

	if r.Ok() {
		fmt.Fprintf(&s, "status:           ok\n")
	} else {
		fmt.Fprintf(&s, "status:           CORRUPT\n")
		fmt.Fprintf(&s, "  unreachable keys:  %d\n", len(r.UnreachableKeys))
		fmt.Fprintf(&s, "  dangling slots:    %d\n", len(r.DanglingSlots))
		fmt.Fprintf(&s, "  checksum failures: %d\n", len(r.ChecksumFailures))
		fmt.Fprintf(&s, "  broken chains:     %d\n", r.BrokenChains)
	}

	return s.String()
}
