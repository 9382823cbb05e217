// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2019 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package util

// Uint48Size - bytes used by a 48 bit big endian value
const Uint48Size = 6

// MaxUint48 - largest value representable in 48 bits
const MaxUint48 = uint64(1)<<48 - 1

// PutUint48 - store the low 48 bits of a value as big endian
//
// panics if the buffer is too short, higher bits are discarded
func PutUint48(buffer []byte, value uint64) {
	_ = buffer[5] // bounds check
	buffer[0] = byte(value >> 40)
	buffer[1] = byte(value >> 32)
	buffer[2] = byte(value >> 24)
	buffer[3] = byte(value >> 16)
	buffer[4] = byte(value >> 8)
	buffer[5] = byte(value)
}

// Uint48 - retrieve a 48 bit big endian value
func Uint48(buffer []byte) uint64 {
	_ = buffer[5] // bounds check
	return uint64(buffer[0])<<40 |
		uint64(buffer[1])<<32 |
		uint64(buffer[2])<<24 |
		uint64(buffer[3])<<16 |
		uint64(buffer[4])<<8 |
		uint64(buffer[5])
}
