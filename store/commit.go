// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2019 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package store

import (
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/bitmark-inc/hashstore/bucketfile"
	"github.com/bitmark-inc/hashstore/datafile"
	"github.com/bitmark-inc/hashstore/keyhash"
	"github.com/bitmark-inc/hashstore/recovery"
)

// the background commit task
type committer struct {
	store *Store
}

// Run - drain the pending buffer periodically or on demand
func (c *committer) Run(args interface{}, shutdown <-chan struct{}) {

	s := c.store
	ticker := time.NewTicker(s.conf.SyncInterval)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-shutdown:
			break loop
		case <-s.kick:
		case <-ticker.C:
		}
		c.attempt()
	}

	// final drain so a clean close loses nothing
	c.attempt()
}

// one commit attempt with failure accounting
func (c *committer) attempt() {

	s := c.store
	if 0 != atomic.LoadUint32(&s.degraded) {
		return
	}

	n, err := s.commit()
	if nil != err {
		s.failures += 1
		s.log.Errorf("commit failed: %s", err)
		if s.failures >= maxCommitAttempts {
			atomic.StoreUint32(&s.degraded, 1)
			s.log.Criticalf("store degraded after %d consecutive commit failures", s.failures)
		}
		s.broadcast() // wake flush waiters so they can observe the failure
		return
	}
	s.failures = 0
	if n > 0 {
		s.log.Debugf("committed %d entries", n)
	}
}

// commit - make one batch of pending inserts durable
//
// ordering: recovery pre-images durable → data appends durable →
// committed length advanced → bucket writes durable → commit marker →
// buffer entries retired
func (s *Store) commit() (int, error) {

	s.RLock()
	n := len(s.pending)
	entries := s.pending[:n]
	s.RUnlock()
	if 0 == n {
		return 0, nil
	}

	startLength := s.data.CommittedLength()

	// heal any orphaned appends from an earlier failed attempt
	if s.data.AppendLength() != startLength {
		err := s.data.Truncate(startLength)
		if nil != err {
			return 0, err
		}
	}

	header := s.data.Header()
	rlog, err := recovery.Begin(s.recoveryPath, header.AppTag, header.Salt, startLength)
	if nil != err {
		return 0, err
	}

	// load each affected bucket once and log its pre-image
	hashes := make([]uint64, n)
	buckets := make(map[uint64]*bucketfile.Bucket)
	images := make(map[uint64][]byte)
	salt := header.Salt
	for i := 0; i < n; i += 1 {
		hashes[i] = keyhash.Sum(salt, []byte(entries[i].key))
		bucketIndex := s.index.BucketIndex(hashes[i])
		if _, ok := buckets[bucketIndex]; ok {
			continue
		}
		image, err := s.index.ReadBucketImage(bucketIndex)
		if nil != err {
			rlog.Discard()
			return 0, err
		}
		bucket, err := s.index.DecodeBucket(bucketIndex, image)
		if nil != err {
			rlog.Discard()
			return 0, err
		}
		err = rlog.WritePreImage(bucketIndex, image)
		if nil != err {
			rlog.Discard()
			return 0, err
		}
		buckets[bucketIndex] = bucket
		images[bucketIndex] = image
	}

	// nothing on disk is modified before this point
	err = rlog.Sync()
	if nil != err {
		rlog.Discard()
		return 0, err
	}

	// append records in arrival order, spilling full buckets to the log
	capacity := s.index.BucketCapacity()
	for i := 0; i < n; i += 1 {
		offset, err := s.data.AppendData([]byte(entries[i].key), entries[i].value)
		if nil != err {
			return 0, s.abortAppend(rlog, startLength, err)
		}

		bucket := buckets[s.index.BucketIndex(hashes[i])]
		if len(bucket.Slots) == capacity {
			spillOffset, err := s.data.AppendSpill(bucket.Slots, bucket.SpillHead)
			if nil != err {
				return 0, s.abortAppend(rlog, startLength, err)
			}
			bucket.SpillHead = spillOffset
			bucket.Slots = nil
		}
		bucket.Slots = append(bucket.Slots, datafile.Entry{
			Hash:   keyhash.Truncate(hashes[i]),
			Offset: offset,
		})
	}

	err = s.data.Sync()
	if nil != err {
		return 0, s.abortAppend(rlog, startLength, err)
	}

	// the index may now reference the new records
	err = s.data.SetCommittedLength(s.data.AppendLength())
	if nil != err {
		return 0, s.rollback(rlog, images, startLength, err)
	}

	for _, bucket := range buckets {
		err = s.index.WriteBucket(bucket)
		if nil != err {
			return 0, s.rollback(rlog, images, startLength, err)
		}
	}
	err = s.index.Sync()
	if nil != err {
		return 0, s.rollback(rlog, images, startLength, err)
	}

	err = rlog.Mark()
	if nil != err {
		return 0, s.rollback(rlog, images, startLength, err)
	}
	rlog.Discard()

	s.retire(n)
	return n, nil
}

// undo appends that never became visible; buckets were not touched so
// the recovery log can simply be dropped
func (s *Store) abortAppend(rlog *recovery.Log, startLength uint64, cause error) error {
	err := s.data.Truncate(startLength)
	if nil != err {
		// heal at the start of the next attempt instead
		s.log.Errorf("abort: truncate failed: %s", err)
	}
	rlog.Discard()
	return cause
}

// in-process rollback of a partially applied batch
//
// if the rollback itself fails the recovery log is kept on disk so the
// next open can finish the job, and the store degrades immediately
func (s *Store) rollback(rlog *recovery.Log, images map[uint64][]byte, startLength uint64, cause error) error {

	s.log.Warnf("rolling back failed commit: %s", cause)

	for bucketIndex, image := range images {
		err := s.index.WriteBucketImage(bucketIndex, image)
		if nil != err {
			return s.rollbackFailed(rlog, err, cause)
		}
	}
	err := s.index.Sync()
	if nil != err {
		return s.rollbackFailed(rlog, err, cause)
	}
	err = s.data.Truncate(startLength)
	if nil != err {
		return s.rollbackFailed(rlog, err, cause)
	}
	err = s.data.SetCommittedLength(startLength)
	if nil != err {
		return s.rollbackFailed(rlog, err, cause)
	}

	rlog.Discard()
	return cause
}

func (s *Store) rollbackFailed(rlog *recovery.Log, err error, cause error) error {
	s.log.Criticalf("rollback failed: %s: recovery log kept for next open", err)
	rlog.Abandon()
	atomic.StoreUint32(&s.degraded, 1)
	s.broadcast()
	return cause
}

// retire - drop committed entries from the pending buffer
func (s *Store) retire(n int) {

	s.Lock()
	for i := 0; i < n; i += 1 {
		entry := s.pending[i]
		delete(s.pendingKeys, entry.key)
		s.pendingBytes -= len(entry.key) + len(entry.value)
		s.cache.Set(entry.key, entry.value, gocache.DefaultExpiration)
	}
	s.pending = append([]pendingEntry(nil), s.pending[n:]...)
	s.committedSeq += uint64(n)
	notify := s.commitNotify
	s.commitNotify = make(chan struct{})
	s.Unlock()

	close(notify)
}

// wake all flush waiters
func (s *Store) broadcast() {
	s.Lock()
	notify := s.commitNotify
	s.commitNotify = make(chan struct{})
	s.Unlock()
	close(notify)
}
