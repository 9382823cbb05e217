// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2019 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package keyhash - salted key hashing for the store
//
// All key placement and all record integrity checks derive from one
// seeded FarmHash.  The seed (salt) is chosen at store creation time,
// recorded in both file headers and must match across the pair, so
// bucket positions from one store can never be assumed valid in
// another.
package keyhash

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/dgryski/go-farm"
)

// TruncatedMask - bucket slots store only the low 48 bits of a hash
const TruncatedMask = uint64(1)<<48 - 1

// NewSalt - generate a random non-zero hash seed for a new store
func NewSalt() (uint64, error) {
	buffer := make([]byte, 8)
	for {
		_, err := rand.Read(buffer)
		if nil != err {
			return 0, err
		}
		salt := binary.BigEndian.Uint64(buffer)
		if 0 != salt {
			return salt, nil
		}
	}
}

// Sum - the placement hash of a key
func Sum(salt uint64, key []byte) uint64 {
	return farm.Hash64WithSeed(key, salt)
}

// Truncate - reduce a full hash to the 48 bit form stored in slots
//
// collisions after truncation are resolved by full key comparison,
// never by hash alone
func Truncate(hash uint64) uint64 {
	return hash & TruncatedMask
}

// Checksum - integrity check value over a key and its value
//
// seeded so a record copied between stores with different salts is
// detected as corrupt
func Checksum(salt uint64, key []byte, value []byte) uint64 {
	return farm.Hash64WithSeeds(value, Sum(salt, key), salt)
}
