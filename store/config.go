// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2019 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package store

import (
	"math"
	"time"

	"github.com/bitmark-inc/hashstore/bucketfile"
	"github.com/bitmark-inc/hashstore/datafile"
	"github.com/bitmark-inc/hashstore/fault"
)

// tunable defaults
const (
	DefaultLoadFactor     = 0.5
	DefaultBucketCapacity = 16
	DefaultSyncSize       = 256 * 1024 // pending bytes that trigger a commit
	DefaultSyncInterval   = 1 * time.Second
)

// read cache behaviour
const (
	defaultCacheExpiry = 2 * time.Minute
	defaultCacheSweep  = 1 * time.Minute
)

// consecutive commit failures before the store degrades
const maxCommitAttempts = 3

// Config - store creation parameters and commit policy
//
// the shape fields (KeyLength, AppTag, EstimatedKeys, LoadFactor,
// BucketCapacity) are fixed at create time and recorded in the file
// headers; only the Sync thresholds matter when opening an existing
// store
type Config struct {
	KeyLength      int
	AppTag         uint64
	EstimatedKeys  uint64
	LoadFactor     float64
	BucketCapacity int
	SyncSize       int
	SyncInterval   time.Duration
}

// apply defaults and validate
func (conf Config) normalise() (Config, error) {

	if conf.KeyLength <= 0 || conf.KeyLength > datafile.MaxKeyLength {
		return conf, fault.ErrInvalidKeyLength
	}
	if 0 == conf.EstimatedKeys {
		return conf, fault.ErrInvalidEstimatedKeys
	}
	if 0 == conf.LoadFactor {
		conf.LoadFactor = DefaultLoadFactor
	}
	if conf.LoadFactor < 0 || conf.LoadFactor >= 1 {
		return conf, fault.ErrInvalidLoadFactor
	}
	if 0 == conf.BucketCapacity {
		conf.BucketCapacity = DefaultBucketCapacity
	}
	if conf.BucketCapacity < 0 || conf.BucketCapacity > bucketfile.MaxBucketCapacity {
		return conf, fault.ErrInvalidBucketCapacity
	}
	if 0 == conf.SyncSize {
		conf.SyncSize = DefaultSyncSize
	}
	if 0 == conf.SyncInterval {
		conf.SyncInterval = DefaultSyncInterval
	}
	return conf, nil
}

// number of buckets needed for the estimated keys at the target load
// factor, fixed for the life of the store
func (conf Config) bucketCount() uint64 {
	slots := float64(conf.EstimatedKeys) / conf.LoadFactor
	n := uint64(math.Ceil(slots / float64(conf.BucketCapacity)))
	if 0 == n {
		n = 1
	}
	return n
}
