// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2019 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// error instances
//
// Provides a single instance of errors to allow easy comparison
package fault

// error base
type GenericError string

// to allow for different classes of errors
type CorruptError GenericError
type ExistsError GenericError
type InvalidError GenericError
type NotFoundError GenericError
type ProcessError GenericError
type TimeoutError GenericError

// common errors - keep in alphabetic order
var (
	ErrAppTagMismatch        = InvalidError("application tag mismatch between data and index files")
	ErrBucketOutOfRange      = ProcessError("bucket index is out of range")
	ErrChecksumMismatch      = CorruptError("record checksum mismatch")
	ErrCommitTimeout         = TimeoutError("commit timeout")
	ErrDataFileCorrupt       = CorruptError("data file is corrupt")
	ErrDuplicateKey          = ExistsError("duplicate key")
	ErrIndexFileCorrupt      = CorruptError("index file is corrupt")
	ErrInvalidBucketCapacity = InvalidError("bucket capacity is invalid")
	ErrInvalidEstimatedKeys  = InvalidError("estimated key count is invalid")
	ErrInvalidKeyLength      = InvalidError("key length is invalid")
	ErrInvalidLoadFactor     = InvalidError("load factor is invalid")
	ErrKeyLengthMismatch     = InvalidError("key length mismatch between data and index files")
	ErrKeyNotFound           = NotFoundError("key not found")
	ErrKeyWrongLength        = InvalidError("key has wrong length for this store")
	ErrReadOnly              = ProcessError("file is open read-only")
	ErrRecordOutOfRange      = ProcessError("record offset is out of range")
	ErrRecoveryLogCorrupt    = CorruptError("recovery log is corrupt")
	ErrSaltMismatch          = InvalidError("hash salt mismatch between data and index files")
	ErrSpillTooBig           = ProcessError("too many entries for one spill record")
	ErrStoreAlreadyExists    = ExistsError("store files already exist")
	ErrStoreClosed           = ProcessError("store is closed")
	ErrStoreDegraded         = ProcessError("store is degraded: commits are failing")
	ErrStoreNotFound         = NotFoundError("store files not found")
	ErrValueTooLong          = InvalidError("value length exceeds record limit")
	ErrVersionMismatch       = InvalidError("file format version mismatch")
	ErrWrongFileType         = InvalidError("file has wrong magic for this store")
)

// the error interface base method
func (e GenericError) Error() string { return string(e) }

// the error interface methods
func (e CorruptError) Error() string  { return string(e) }
func (e ExistsError) Error() string   { return string(e) }
func (e InvalidError) Error() string  { return string(e) }
func (e NotFoundError) Error() string { return string(e) }
func (e ProcessError) Error() string  { return string(e) }
func (e TimeoutError) Error() string  { return string(e) }

// determine the class of an error
func IsErrCorrupt(e error) bool  { _, ok := e.(CorruptError); return ok }
func IsErrExists(e error) bool   { _, ok := e.(ExistsError); return ok }
func IsErrInvalid(e error) bool  { _, ok := e.(InvalidError); return ok }
func IsErrNotFound(e error) bool { _, ok := e.(NotFoundError); return ok }
func IsErrProcess(e error) bool  { _, ok := e.(ProcessError); return ok }
func IsErrTimeout(e error) bool  { _, ok := e.(TimeoutError); return ok }
