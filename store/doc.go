// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2019 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package store - the key/value store coordinator
//
// A store is a pair of files: an append-only data log holding every
// key/value record and a fixed size bucket index mapping salted key
// hashes to data log offsets.  Keys are write-once: a key, once
// inserted, is immutable for the life of the file pair.  There is no
// delete, no in-place update and no range scan.
//
// Inserts go to an in-memory pending buffer and are immediately
// visible to fetches on the same handle.  A background task drains the
// buffer in batches: records are appended to the data log, affected
// buckets are rewritten under protection of a recovery log holding
// their pre-images, so an interrupted batch is rolled back to the last
// committed state on the next open.  Flush blocks until everything
// inserted before the call is durable.
//
// Concurrency: one designated writer performs all inserts; any number
// of readers may fetch in parallel with each other and with the
// writer.  Fetch never blocks on a commit.
package store
