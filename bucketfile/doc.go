// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2019 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package bucketfile - the fixed size bucket index
//
// A static hash table over the data log.  The file is a header
// followed by a fixed number of equal size buckets; the bucket count
// is chosen at creation time from the expected key count and a target
// load factor and never changes.  Each bucket holds a small number of
// {hash,offset} slots; overflow beyond the on-disk capacity is chained
// through spill records appended to the data log, newest first.
//
// Buckets are addressed by hash(salt, key) mod bucket count.  The
// header repeats the key length, salt and application tag of the data
// file so a mismatched pair is refused at open time.
//
// Notes:
// 1. all integers are big endian
// 2. bucket layout: count ++ capacity * {hash,offset} ++ spill head offset
// 3. a spill head of zero means the bucket has no overflow chain
package bucketfile
