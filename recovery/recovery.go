// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2019 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package recovery - the commit rollback log
//
// During a commit batch the store writes the pre-image of every bucket
// it is about to modify to a transient log file, together with the
// data log length at the start of the batch and the pair's identifying
// app tag and salt.  A commit marker is
// appended once all bucket writes are durable, then the file is
// removed.  On open, a log with pre-images but no marker means the
// previous process died mid-commit: every recorded bucket is restored
// to its pre-image and the data log is truncated back to its recorded
// length, returning the store to the last committed state.
//
// The log is writer exclusive and never seen by readers.
package recovery

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/bitmark-inc/logger"

	"github.com/bitmark-inc/hashstore/bucketfile"
	"github.com/bitmark-inc/hashstore/datafile"
	"github.com/bitmark-inc/hashstore/fault"
)

// currently supported recovery log version
const Version = 1

// the file magic
var magic = [8]byte{'h', 'a', 's', 'h', 'r', 'e', 'd', 'o'}

// layout sizes
const (
	magicSize       = 8
	versionSize     = 4
	appTagSize      = 8
	saltSize        = 8
	dataLengthSize  = 8
	headerSize      = magicSize + versionSize + appTagSize + saltSize + dataLengthSize
	bucketIndexSize = 8
	imageLengthSize = 4
	entryHeaderSize = bucketIndexSize + imageLengthSize
)

// offsets of the header fields
const (
	appTagOffset     = magicSize + versionSize
	saltOffset       = appTagOffset + appTagSize
	dataLengthOffset = saltOffset + saltSize
)

// bucket index value marking a completed batch
const markerIndex = ^uint64(0)

// Log - the writer side, covering one commit batch
type Log struct {
	path string
	file *os.File
}

// Begin - start a new batch, recording the pair's identity and the
// committed data log length
//
// any previous content is discarded
func Begin(path string, appTag uint64, salt uint64, dataLength uint64) (*Log, error) {

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if nil != err {
		return nil, err
	}

	buffer := make([]byte, headerSize)
	copy(buffer, magic[:])
	binary.BigEndian.PutUint32(buffer[magicSize:], Version)
	binary.BigEndian.PutUint64(buffer[appTagOffset:], appTag)
	binary.BigEndian.PutUint64(buffer[saltOffset:], salt)
	binary.BigEndian.PutUint64(buffer[dataLengthOffset:], dataLength)

	_, err = file.Write(buffer)
	if nil != err {
		file.Close()
		os.Remove(path)
		return nil, err
	}

	return &Log{
		path: path,
		file: file,
	}, nil
}

// WritePreImage - record one bucket's bytes before modification
func (l *Log) WritePreImage(bucketIndex uint64, image []byte) error {

	buffer := make([]byte, entryHeaderSize)
	binary.BigEndian.PutUint64(buffer, bucketIndex)
	binary.BigEndian.PutUint32(buffer[bucketIndexSize:], uint32(len(image)))

	_, err := l.file.Write(buffer)
	if nil == err {
		_, err = l.file.Write(image)
	}
	return err
}

// Sync - force all pre-images to stable storage
//
// must succeed before any bucket write may proceed
func (l *Log) Sync() error {
	return l.file.Sync()
}

// Mark - durably record that the batch completed
func (l *Log) Mark() error {

	buffer := make([]byte, entryHeaderSize)
	binary.BigEndian.PutUint64(buffer, markerIndex)

	_, err := l.file.Write(buffer)
	if nil != err {
		return err
	}
	return l.file.Sync()
}

// Discard - the batch is over, remove the log
func (l *Log) Discard() error {
	err := l.file.Close()
	e := os.Remove(l.path)
	if nil == err {
		err = e
	}
	return err
}

// Abandon - close the log but keep the file
//
// used when an in-process rollback fails: the surviving file lets the
// next open retry the rollback
func (l *Log) Abandon() {
	l.file.Close()
}

// one scanned pre-image
type preImage struct {
	bucketIndex uint64
	image       []byte
}

// Restore - roll back an interrupted commit, if any
//
// called during store open before any reader exists; a missing or
// empty log means the previous shutdown was clean
func Restore(path string, data *datafile.File, index *bucketfile.File, log *logger.L) error {

	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	} else if nil != err {
		return err
	}

	info, err := file.Stat()
	if nil != err {
		file.Close()
		return err
	}

	// crash before the first write of the batch, nothing to undo
	if 0 == info.Size() {
		file.Close()
		return os.Remove(path)
	}

	dataLength, images, complete, err := scan(file, data, index)
	file.Close()
	if nil != err {
		log.Criticalf("recovery log: %s is unusable: %s", path, err)
		return err
	}

	if complete {
		// the batch finished, only the remove was interrupted
		log.Infof("recovery log: %s: batch already committed", path)
		return os.Remove(path)
	}

	log.Warnf("recovery log: %s: rolling back %d bucket(s), data length %d", path, len(images), dataLength)

	for _, p := range images {
		err = index.WriteBucketImage(p.bucketIndex, p.image)
		if nil != err {
			return err
		}
	}
	err = index.Sync()
	if nil != err {
		return err
	}

	err = data.Truncate(dataLength)
	if nil != err {
		return err
	}
	err = data.SetCommittedLength(dataLength)
	if nil != err {
		return err
	}

	log.Infof("recovery log: %s: rollback complete", path)
	return os.Remove(path)
}

// scan the whole log, returning all pre-images and whether the commit
// marker is present
func scan(file *os.File, data *datafile.File, index *bucketfile.File) (uint64, []preImage, bool, error) {

	buffer := make([]byte, headerSize)
	_, err := io.ReadFull(file, buffer)
	if nil != err {
		return 0, nil, false, fault.ErrRecoveryLogCorrupt
	}

	for i := 0; i < magicSize; i += 1 {
		if buffer[i] != magic[i] {
			return 0, nil, false, fault.ErrRecoveryLogCorrupt
		}
	}
	if Version != binary.BigEndian.Uint32(buffer[magicSize:]) {
		return 0, nil, false, fault.ErrRecoveryLogCorrupt
	}

	// a log left behind by a different store pair at the same path
	// must never be replayed
	header := data.Header()
	if header.AppTag != binary.BigEndian.Uint64(buffer[appTagOffset:]) ||
		header.Salt != binary.BigEndian.Uint64(buffer[saltOffset:]) {
		return 0, nil, false, fault.ErrRecoveryLogCorrupt
	}

	dataLength := binary.BigEndian.Uint64(buffer[dataLengthOffset:])
	if dataLength < datafile.HeaderSize {
		return 0, nil, false, fault.ErrRecoveryLogCorrupt
	}

	images := []preImage(nil)
	imageSize := bucketfile.BucketSize(index.BucketCapacity())

	entry := make([]byte, entryHeaderSize)
loop:
	for {
		_, err := io.ReadFull(file, entry)
		if io.EOF == err {
			break loop
		} else if nil != err {
			// a torn entry header: the pre-image set cannot be trusted
			return 0, nil, false, fault.ErrRecoveryLogCorrupt
		}

		bucketIndex := binary.BigEndian.Uint64(entry)
		imageLength := int(binary.BigEndian.Uint32(entry[bucketIndexSize:]))

		if markerIndex == bucketIndex {
			if 0 != imageLength {
				return 0, nil, false, fault.ErrRecoveryLogCorrupt
			}
			return dataLength, images, true, nil
		}

		if bucketIndex >= index.BucketCount() || imageLength != imageSize {
			return 0, nil, false, fault.ErrRecoveryLogCorrupt
		}

		image := make([]byte, imageLength)
		_, err = io.ReadFull(file, image)
		if nil != err {
			// truncated mid pre-image
			return 0, nil, false, fault.ErrRecoveryLogCorrupt
		}

		images = append(images, preImage{
			bucketIndex: bucketIndex,
			image:       image,
		})
	}

	return dataLength, images, false, nil
}
