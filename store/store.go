// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2019 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package store

import (
	"bytes"
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/bitmark-inc/logger"

	"github.com/bitmark-inc/hashstore/background"
	"github.com/bitmark-inc/hashstore/bucketfile"
	"github.com/bitmark-inc/hashstore/datafile"
	"github.com/bitmark-inc/hashstore/fault"
	"github.com/bitmark-inc/hashstore/keyhash"
	"github.com/bitmark-inc/hashstore/recovery"
)

// one buffered insert
type pendingEntry struct {
	key   string
	value []byte
}

// Store - an open data/index file pair
//
// a handle owns its files; separate stores on separate file pairs are
// fully independent
type Store struct {
	sync.RWMutex // guards the pending buffer and sequence numbers

	log          *logger.L
	data         *datafile.File
	index        *bucketfile.File
	recoveryPath string
	conf         Config

	pending      []pendingEntry
	pendingKeys  map[string][]byte
	pendingBytes int
	insertedSeq  uint64
	committedSeq uint64
	commitNotify chan struct{} // closed and replaced after every commit attempt

	cache *gocache.Cache

	kick      chan struct{}
	processes *background.T

	failures int    // consecutive commit failures, committer task only
	degraded uint32 // atomic flag, set when commits keep failing
	closed   bool
}

// Info - snapshot of a store's shape and state
type Info struct {
	KeyLength       int
	AppTag          uint64
	Salt            uint64
	BucketCount     uint64
	BucketCapacity  int
	CommittedLength uint64
	AppendLength    uint64
	Pending         int
	Degraded        bool
}

// the recovery log sits beside the data file
func recoveryPath(dataPath string) string {
	return dataPath + ".recover"
}

// Create - create a new store pair and open it
//
// fails if either file already exists
func Create(dataPath string, indexPath string, conf Config) (*Store, error) {

	conf, err := conf.normalise()
	if nil != err {
		return nil, err
	}

	salt, err := keyhash.NewSalt()
	if nil != err {
		return nil, err
	}

	data, err := datafile.Create(dataPath, conf.AppTag, conf.KeyLength, salt)
	if nil != err {
		return nil, err
	}

	index, err := bucketfile.Create(indexPath, bucketfile.Header{
		AppTag:         conf.AppTag,
		KeyLength:      conf.KeyLength,
		Salt:           salt,
		BucketCount:    conf.bucketCount(),
		BucketCapacity: conf.BucketCapacity,
	})
	if nil != err {
		data.Close()
		return nil, err
	}

	return newStore(data, index, recoveryPath(dataPath), conf), nil
}

// Open - open an existing store pair
//
// rolls back an interrupted commit if a recovery log is present; only
// the Sync fields of conf are used, the shape comes from the headers
func Open(dataPath string, indexPath string, conf Config) (*Store, error) {

	data, err := datafile.Open(dataPath, false)
	if nil != err {
		return nil, err
	}

	index, err := bucketfile.Open(indexPath, false)
	if nil != err {
		data.Close()
		return nil, err
	}

	err = index.Header().CheckAgainst(data.Header())
	if nil != err {
		data.Close()
		index.Close()
		return nil, err
	}

	log := logger.New("store")

	err = recovery.Restore(recoveryPath(dataPath), data, index, log)
	if nil != err {
		data.Close()
		index.Close()
		return nil, err
	}

	// discard orphaned appends left past the committed length
	if data.AppendLength() > data.CommittedLength() {
		log.Warnf("open: %s: discarding %d orphaned bytes", dataPath, data.AppendLength()-data.CommittedLength())
		err = data.Truncate(data.CommittedLength())
		if nil != err {
			data.Close()
			index.Close()
			return nil, err
		}
	}

	if 0 == conf.SyncSize {
		conf.SyncSize = DefaultSyncSize
	}
	if 0 == conf.SyncInterval {
		conf.SyncInterval = DefaultSyncInterval
	}
	conf.KeyLength = data.Header().KeyLength
	conf.AppTag = data.Header().AppTag
	conf.BucketCapacity = index.BucketCapacity()

	return newStore(data, index, recoveryPath(dataPath), conf), nil
}

// assemble a store and start its commit task
func newStore(data *datafile.File, index *bucketfile.File, recoveryPath string, conf Config) *Store {

	s := &Store{
		log:          logger.New("store"),
		data:         data,
		index:        index,
		recoveryPath: recoveryPath,
		conf:         conf,
		pendingKeys:  make(map[string][]byte),
		commitNotify: make(chan struct{}),
		cache:        gocache.New(defaultCacheExpiry, defaultCacheSweep),
		kick:         make(chan struct{}, 1),
	}
	s.log.Infof("open: data: %s  index: %s  buckets: %d × %d",
		data.Path(), index.Path(), index.BucketCount(), index.BucketCapacity())

	s.processes = background.Start(background.Processes{
		&committer{store: s},
	}, nil)

	return s
}

// Fetch - look up one key
//
// sees pending inserts from this handle before they are durable
func (s *Store) Fetch(key []byte) ([]byte, error) {

	if len(key) != s.conf.KeyLength {
		return nil, fault.ErrKeyWrongLength
	}

	s.RLock()
	if s.closed {
		s.RUnlock()
		return nil, fault.ErrStoreClosed
	}
	if value, ok := s.pendingKeys[string(key)]; ok {
		s.RUnlock()
		return duplicate(value), nil
	}
	s.RUnlock()

	if value, ok := s.cache.Get(string(key)); ok {
		return duplicate(value.([]byte)), nil
	}

	value, err := s.fetchCommitted(key)
	if nil != err {
		return nil, err
	}
	s.cache.Set(string(key), value, gocache.DefaultExpiration)
	return duplicate(value), nil
}

// the store's buffers are never shared with callers: a caller mutating
// a fetched value must not poison the cache or the pending buffer
func duplicate(value []byte) []byte {
	return append([]byte(nil), value...)
}

// Has - true if the key is visible on this handle
func (s *Store) Has(key []byte) (bool, error) {
	_, err := s.Fetch(key)
	if fault.ErrKeyNotFound == err {
		return false, nil
	} else if nil != err {
		return false, err
	}
	return true, nil
}

// read the committed files only, ignoring the pending buffer
func (s *Store) fetchCommitted(key []byte) ([]byte, error) {

	hash := keyhash.Sum(s.data.Header().Salt, key)
	truncated := keyhash.Truncate(hash)
	committed := s.data.CommittedLength()

	bucket, err := s.index.ReadBucket(s.index.BucketIndex(hash))
	if nil != err {
		return nil, err
	}

	value, found := s.scanSlots(bucket.Slots, truncated, committed, key)
	if found {
		return value, nil
	}

	// walk the spill chain, newest first; each link points strictly
	// backwards so the walk is finite
	spill := bucket.SpillHead
	for 0 != spill && spill < committed {
		entries, prevSpill, err := s.data.ReadSpill(spill)
		if nil != err {
			// unreadable chain is a miss here, the verifier reports it
			s.log.Errorf("fetch: spill %d unreadable: %s", spill, err)
			break
		}
		value, found = s.scanSlots(entries, truncated, committed, key)
		if found {
			return value, nil
		}
		if prevSpill >= spill {
			s.log.Errorf("fetch: spill chain not monotonic at %d", spill)
			break
		}
		spill = prevSpill
	}

	return nil, fault.ErrKeyNotFound
}

// check each candidate slot, confirming by full key comparison
func (s *Store) scanSlots(slots []datafile.Entry, truncated uint64, committed uint64, key []byte) ([]byte, bool) {
	for _, slot := range slots {
		if slot.Hash != truncated || slot.Offset >= committed {
			continue
		}
		k, v, err := s.data.ReadData(slot.Offset)
		if nil != err {
			// a bad offset is a miss on the hot path
			continue
		}
		if bytes.Equal(k, key) {
			return v, true
		}
	}
	return nil, false
}

// Insert - buffer one key/value pair for the next commit
//
// the pair is immediately visible to Fetch on this handle; duplicate
// keys are a caller error
func (s *Store) Insert(key []byte, value []byte) error {

	if 0 != atomic.LoadUint32(&s.degraded) {
		return fault.ErrStoreDegraded
	}
	if len(key) != s.conf.KeyLength {
		return fault.ErrKeyWrongLength
	}
	if len(value) > datafile.MaxValueLength {
		return fault.ErrValueTooLong
	}

	s.RLock()
	if s.closed {
		s.RUnlock()
		return fault.ErrStoreClosed
	}
	_, isDuplicate := s.pendingKeys[string(key)]
	s.RUnlock()
	if isDuplicate {
		return fault.ErrDuplicateKey
	}

	// a key already committed is also a duplicate
	_, err := s.fetchCommitted(key)
	if nil == err {
		return fault.ErrDuplicateKey
	} else if fault.ErrKeyNotFound != err {
		return err
	}

	// private copy: a caller mutating its slice after Insert must not
	// change what gets committed
	value = duplicate(value)

	s.Lock()
	if s.closed {
		s.Unlock()
		return fault.ErrStoreClosed
	}
	if _, ok := s.pendingKeys[string(key)]; ok {
		s.Unlock()
		return fault.ErrDuplicateKey
	}

	entry := pendingEntry{
		key:   string(key),
		value: value,
	}
	s.pending = append(s.pending, entry)
	s.pendingKeys[entry.key] = value
	s.pendingBytes += len(key) + len(value)
	s.insertedSeq += 1
	trigger := s.pendingBytes >= s.conf.SyncSize
	s.Unlock()

	if trigger {
		s.requestCommit()
	}
	return nil
}

// Flush - block until everything inserted before the call is durable
//
// a zero timeout waits indefinitely
func (s *Store) Flush(timeout time.Duration) error {

	s.RLock()
	if s.closed {
		s.RUnlock()
		return fault.ErrStoreClosed
	}
	target := s.insertedSeq
	done := s.committedSeq
	notify := s.commitNotify
	s.RUnlock()

	// no commit will ever run once the store has degraded, so there is
	// no wakeup to wait for
	if 0 != atomic.LoadUint32(&s.degraded) {
		return fault.ErrStoreDegraded
	}
	if done >= target {
		return nil
	}
	s.requestCommit()

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	for {
		select {
		case <-notify:
			if 0 != atomic.LoadUint32(&s.degraded) {
				return fault.ErrStoreDegraded
			}
			s.RLock()
			done = s.committedSeq
			notify = s.commitNotify
			s.RUnlock()
			if done >= target {
				return nil
			}
		case <-timer:
			// pending entries stay queued for the next attempt
			return fault.ErrCommitTimeout
		}
	}
}

// Info - current shape and state
func (s *Store) Info() Info {
	s.RLock()
	pending := len(s.pending)
	s.RUnlock()

	header := s.data.Header()
	return Info{
		KeyLength:       header.KeyLength,
		AppTag:          header.AppTag,
		Salt:            header.Salt,
		BucketCount:     s.index.BucketCount(),
		BucketCapacity:  s.index.BucketCapacity(),
		CommittedLength: s.data.CommittedLength(),
		AppendLength:    s.data.AppendLength(),
		Pending:         pending,
		Degraded:        0 != atomic.LoadUint32(&s.degraded),
	}
}

// Close - stop the commit task and release both files
//
// a final commit attempt drains the pending buffer first
func (s *Store) Close() error {

	s.Lock()
	if s.closed {
		s.Unlock()
		return fault.ErrStoreClosed
	}
	s.closed = true
	s.Unlock()

	s.processes.Stop()

	err := s.data.Close()
	e := s.index.Close()
	if nil == err {
		err = e
	}
	s.log.Info("closed")
	return err
}

// wake the commit task without blocking
func (s *Store) requestCommit() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}
