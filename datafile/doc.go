// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2019 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package datafile - the append-only data log
//
// The data log is the source of truth for all key/value content.  It
// starts with a fixed header and is followed by variable length
// records identified by a tag byte:
//
//   data record:  'D' ++ value length ++ checksum ++ key ++ value
//   spill record: 'S' ++ entry count ++ {hash,offset} array ++ previous spill offset
//
// A record's file offset is its permanent identity; records are never
// rewritten or deleted.  The header carries the committed length: the
// extent of the log the bucket index is allowed to reference.  Bytes
// past the committed length are uncommitted appends and are discarded
// by recovery after an interrupted commit.
//
// Notes:
// 1. all integers are big endian
// 2. offsets and slot hashes are stored as 48 bit values
// 3. the checksum is the salted hash of key ++ value
package datafile
