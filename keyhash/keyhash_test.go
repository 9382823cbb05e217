// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2019 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keyhash_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bitmark-inc/hashstore/keyhash"
)

func TestSumIsDeterministic(t *testing.T) {
	const salt = 0x1234567890abcdef

	key := []byte("aaaa")
	h1 := keyhash.Sum(salt, key)
	h2 := keyhash.Sum(salt, key)
	assert.Equal(t, h1, h2, "hash is not deterministic")
}

func TestSumDependsOnSalt(t *testing.T) {
	key := []byte("aaaa")
	h1 := keyhash.Sum(1, key)
	h2 := keyhash.Sum(2, key)
	assert.NotEqual(t, h1, h2, "hash ignores salt")
}

func TestTruncate(t *testing.T) {
	h := keyhash.Truncate(0xffffffffffffffff)
	assert.Equal(t, uint64(0x0000ffffffffffff), h, "wrong truncation")
	assert.Equal(t, keyhash.TruncatedMask, h, "mask mismatch")
}

func TestChecksumDetectsChange(t *testing.T) {
	const salt = 99

	key := []byte("aaaa")
	c1 := keyhash.Checksum(salt, key, []byte("one"))
	c2 := keyhash.Checksum(salt, key, []byte("two"))
	assert.NotEqual(t, c1, c2, "checksum ignores value")

	c3 := keyhash.Checksum(salt, []byte("bbbb"), []byte("one"))
	assert.NotEqual(t, c1, c3, "checksum ignores key")
}

func TestNewSalt(t *testing.T) {
	s1, err := keyhash.NewSalt()
	assert.Nil(t, err, "salt generation failed")
	assert.NotEqual(t, uint64(0), s1, "zero salt")

	s2, err := keyhash.NewSalt()
	assert.Nil(t, err, "salt generation failed")
	assert.NotEqual(t, s1, s2, "salts are not random")
}
