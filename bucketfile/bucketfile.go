// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2019 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package bucketfile

import (
	"os"
	"sync"

	"github.com/bitmark-inc/hashstore/fault"
)

// number of reader/writer locks striped across the buckets
const lockStripes = 64

// File - an open bucket index
//
// bucket writes are writer-exclusive; reads take a striped read lock
// so a bucket's bytes are never observed half-written
type File struct {
	path       string
	file       *os.File
	header     Header
	bucketSize int
	locks      [lockStripes]sync.RWMutex
	readOnly   bool
}

// Create - create a new index with all buckets empty
//
// fails if the file already exists
func Create(path string, header Header) (*File, error) {

	if 0 == header.BucketCount {
		return nil, fault.ErrInvalidEstimatedKeys
	}
	if header.BucketCapacity <= 0 || header.BucketCapacity > MaxBucketCapacity {
		return nil, fault.ErrInvalidBucketCapacity
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if os.IsExist(err) {
		return nil, fault.ErrStoreAlreadyExists
	} else if nil != err {
		return nil, err
	}

	f := &File{
		path:       path,
		file:       file,
		header:     header,
		bucketSize: BucketSize(header.BucketCapacity),
	}

	buffer := packHeader(header)
	_, err = file.WriteAt(buffer[:], 0)
	if nil == err {
		// extend with zero filled buckets: a zero bucket is empty
		err = file.Truncate(f.size())
	}
	if nil == err {
		err = file.Sync()
	}
	if nil != err {
		file.Close()
		os.Remove(path)
		return nil, err
	}

	return f, nil
}

// Open - open an existing bucket index
func Open(path string, readOnly bool) (*File, error) {

	flags := os.O_RDWR
	if readOnly {
		flags = os.O_RDONLY
	}
	file, err := os.OpenFile(path, flags, 0600)
	if os.IsNotExist(err) {
		return nil, fault.ErrStoreNotFound
	} else if nil != err {
		return nil, err
	}

	buffer := make([]byte, HeaderSize)
	_, err = file.ReadAt(buffer, 0)
	if nil != err {
		file.Close()
		return nil, fault.ErrIndexFileCorrupt
	}

	header, err := unpackHeader(buffer)
	if nil != err {
		file.Close()
		return nil, err
	}

	f := &File{
		path:       path,
		file:       file,
		header:     header,
		bucketSize: BucketSize(header.BucketCapacity),
		readOnly:   readOnly,
	}

	info, err := file.Stat()
	if nil != err {
		file.Close()
		return nil, err
	}
	if info.Size() != f.size() {
		file.Close()
		return nil, fault.ErrIndexFileCorrupt
	}

	return f, nil
}

// Header - the decoded file header
func (f *File) Header() Header {
	return f.header
}

// Path - the underlying file name
func (f *File) Path() string {
	return f.path
}

// BucketCount - number of buckets, fixed for the life of the store
func (f *File) BucketCount() uint64 {
	return f.header.BucketCount
}

// BucketCapacity - on-disk slots per bucket
func (f *File) BucketCapacity() int {
	return f.header.BucketCapacity
}

// BucketIndex - the bucket a hash maps to
func (f *File) BucketIndex(hash uint64) uint64 {
	return hash % f.header.BucketCount
}

// expected total file size
func (f *File) size() int64 {
	return int64(HeaderSize) + int64(f.header.BucketCount)*int64(f.bucketSize)
}

// file position of one bucket
func (f *File) bucketOffset(index uint64) int64 {
	return int64(HeaderSize) + int64(index)*int64(f.bucketSize)
}

// ReadBucket - fetch and decode one bucket
func (f *File) ReadBucket(index uint64) (*Bucket, error) {
	buffer, err := f.ReadBucketImage(index)
	if nil != err {
		return nil, err
	}
	return unpackBucket(buffer, index, f.header.BucketCapacity)
}

// ReadBucketImage - fetch the raw on-disk bytes of one bucket
//
// used for recovery log pre-images
func (f *File) ReadBucketImage(index uint64) ([]byte, error) {

	if index >= f.header.BucketCount {
		return nil, fault.ErrBucketOutOfRange
	}

	lock := &f.locks[index%lockStripes]
	lock.RLock()
	defer lock.RUnlock()

	buffer := make([]byte, f.bucketSize)
	_, err := f.file.ReadAt(buffer, f.bucketOffset(index))
	if nil != err {
		return nil, err
	}
	return buffer, nil
}

// DecodeBucket - decode raw bucket bytes previously read as an image
func (f *File) DecodeBucket(index uint64, image []byte) (*Bucket, error) {
	if index >= f.header.BucketCount {
		return nil, fault.ErrBucketOutOfRange
	}
	return unpackBucket(image, index, f.header.BucketCapacity)
}

// WriteBucket - encode and store one bucket
func (f *File) WriteBucket(bucket *Bucket) error {

	if f.readOnly {
		return fault.ErrReadOnly
	}
	if bucket.Index >= f.header.BucketCount {
		return fault.ErrBucketOutOfRange
	}

	buffer, err := packBucket(bucket, f.header.BucketCapacity)
	if nil != err {
		return err
	}
	return f.writeImage(bucket.Index, buffer)
}

// WriteBucketImage - store raw bucket bytes
//
// used by recovery to put a pre-image back
func (f *File) WriteBucketImage(index uint64, image []byte) error {

	if f.readOnly {
		return fault.ErrReadOnly
	}
	if index >= f.header.BucketCount {
		return fault.ErrBucketOutOfRange
	}
	if len(image) != f.bucketSize {
		return fault.ErrRecoveryLogCorrupt
	}
	return f.writeImage(index, image)
}

func (f *File) writeImage(index uint64, image []byte) error {
	lock := &f.locks[index%lockStripes]
	lock.Lock()
	defer lock.Unlock()

	_, err := f.file.WriteAt(image, f.bucketOffset(index))
	return err
}

// Sync - force bucket writes to stable storage
func (f *File) Sync() error {
	if f.readOnly {
		return nil
	}
	return f.file.Sync()
}

// Close - release the file handle
func (f *File) Close() error {
	if nil == f.file {
		return fault.ErrStoreClosed
	}
	var err error
	if !f.readOnly {
		err = f.file.Sync()
	}
	e := f.file.Close()
	if nil == err {
		err = e
	}
	f.file = nil
	return err
}
