// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2019 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package datafile

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"sync/atomic"

	"github.com/bitmark-inc/hashstore/fault"
	"github.com/bitmark-inc/hashstore/keyhash"
	"github.com/bitmark-inc/hashstore/util"
)

// size of the append buffer
const writeBufferSize = 256 * 1024

// File - an open data log
//
// append methods are writer-exclusive, read methods may be called
// concurrently with each other and with the appender
type File struct {
	path         string
	file         *os.File
	writer       *bufio.Writer // nil when read-only
	header       Header
	appendOffset uint64
	committed    uint64 // atomic
	readOnly     bool
}

// Create - create a new empty data log
//
// fails if the file already exists
func Create(path string, appTag uint64, keyLength int, salt uint64) (*File, error) {

	if keyLength <= 0 || keyLength > MaxKeyLength {
		return nil, fault.ErrInvalidKeyLength
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if os.IsExist(err) {
		return nil, fault.ErrStoreAlreadyExists
	} else if nil != err {
		return nil, err
	}

	f := &File{
		path: path,
		file: file,
		header: Header{
			AppTag:    appTag,
			KeyLength: keyLength,
			Salt:      salt,
		},
		appendOffset: HeaderSize,
		committed:    HeaderSize,
	}

	buffer := packHeader(f.header, HeaderSize)
	_, err = file.WriteAt(buffer[:], 0)
	if nil == err {
		err = file.Sync()
	}
	if nil == err {
		// position the appender just past the header
		_, err = file.Seek(HeaderSize, io.SeekStart)
	}
	if nil != err {
		file.Close()
		os.Remove(path)
		return nil, err
	}

	f.writer = bufio.NewWriterSize(file, writeBufferSize)
	return f, nil
}

// Open - open an existing data log
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
		return nil, fault.ErrDataFileCorrupt
	}

	header, committedLength, err := unpackHeader(buffer)
	if nil != err {
		file.Close()
		return nil, err
	}

	info, err := file.Stat()
	if nil != err {
		file.Close()
		return nil, err
	}
	if committedLength > uint64(info.Size()) {
		file.Close()
		return nil, fault.ErrDataFileCorrupt
	}

	f := &File{
		path:         path,
		file:         file,
		header:       header,
		appendOffset: uint64(info.Size()),
		committed:    committedLength,
		readOnly:     readOnly,
	}
	if !readOnly {
		// position the appender at the end of the log
		_, err = file.Seek(0, io.SeekEnd)
		if nil != err {
			file.Close()
			return nil, err
		}
		f.writer = bufio.NewWriterSize(file, writeBufferSize)
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

// CommittedLength - the extent of the log the index may reference
func (f *File) CommittedLength() uint64 {
	return atomic.LoadUint64(&f.committed)
}

// AppendLength - the extent of the log including uncommitted appends
func (f *File) AppendLength() uint64 {
	return atomic.LoadUint64(&f.appendOffset)
}

// AppendData - append one key/value record, returns its offset
func (f *File) AppendData(key []byte, value []byte) (uint64, error) {

	if f.readOnly {
		return 0, fault.ErrReadOnly
	}
	if len(key) != f.header.KeyLength {
		return 0, fault.ErrKeyWrongLength
	}
	if len(value) > MaxValueLength {
		return 0, fault.ErrValueTooLong
	}

	size := DataRecordSize(len(key), len(value))
	if f.appendOffset+size > MaxFileLength {
		return 0, fault.ErrRecordOutOfRange
	}

	buffer := make([]byte, DataRecordOverhead)
	buffer[dataTagOffset] = TagData
	binary.BigEndian.PutUint32(buffer[dataValueLengthOffset:], uint32(len(value)))
	binary.BigEndian.PutUint64(buffer[dataChecksumOffset:], keyhash.Checksum(f.header.Salt, key, value))

	offset := f.appendOffset
	_, err := f.writer.Write(buffer)
	if nil == err {
		_, err = f.writer.Write(key)
	}
	if nil == err {
		_, err = f.writer.Write(value)
	}
	if nil != err {
		return 0, err
	}

	atomic.StoreUint64(&f.appendOffset, offset+size)
	return offset, nil
}

// AppendSpill - append one spill record, returns its offset
func (f *File) AppendSpill(entries []Entry, prevSpill uint64) (uint64, error) {

	if f.readOnly {
		return 0, fault.ErrReadOnly
	}
	if len(entries) > MaxSpillEntries {
		return 0, fault.ErrSpillTooBig
	}

	size := SpillRecordSize(len(entries))
	if f.appendOffset+size > MaxFileLength {
		return 0, fault.ErrRecordOutOfRange
	}

	buffer := make([]byte, size)
	buffer[spillTagOffset] = TagSpill
	binary.BigEndian.PutUint16(buffer[spillEntryCountOffset:], uint16(len(entries)))
	PackEntries(buffer[spillEntriesOffset:], entries)
	util.PutUint48(buffer[spillEntriesOffset+len(entries)*EntrySize:], prevSpill)

	offset := f.appendOffset
	_, err := f.writer.Write(buffer)
	if nil != err {
		return 0, err
	}

	atomic.StoreUint64(&f.appendOffset, offset+size)
	return offset, nil
}

// Flush - push buffered appends to the operating system
func (f *File) Flush() error {
	if nil == f.writer {
		return nil
	}
	return f.writer.Flush()
}

// Sync - flush and force appends to stable storage
func (f *File) Sync() error {
	err := f.Flush()
	if nil != err {
		return err
	}
	return f.file.Sync()
}

// SetCommittedLength - durably advance (or roll back) the committed extent
func (f *File) SetCommittedLength(n uint64) error {

	if f.readOnly {
		return fault.ErrReadOnly
	}

	buffer := make([]byte, committedLengthSize)
	binary.BigEndian.PutUint64(buffer, n)
	_, err := f.file.WriteAt(buffer, committedLengthOffset)
	if nil != err {
		return err
	}
	err = f.file.Sync()
	if nil != err {
		return err
	}
	atomic.StoreUint64(&f.committed, n)
	return nil
}

// Truncate - discard all bytes past n, used only by recovery rollback
func (f *File) Truncate(n uint64) error {

	if f.readOnly {
		return fault.ErrReadOnly
	}
	if n < HeaderSize {
		return fault.ErrRecordOutOfRange
	}

	// truncation is always a rollback: buffered appends and any
	// sticky write error are discarded, not flushed
	f.writer.Reset(f.file)

	err := f.file.Truncate(int64(n))
	if nil != err {
		return err
	}
	_, err = f.file.Seek(int64(n), io.SeekStart)
	if nil != err {
		return err
	}
	f.writer.Reset(f.file)
	atomic.StoreUint64(&f.appendOffset, n)
	return nil
}

// ReadTag - the tag byte of the record at offset
func (f *File) ReadTag(offset uint64) (byte, error) {

	if offset < HeaderSize || offset+tagSize > f.CommittedLength() {
		return 0, fault.ErrRecordOutOfRange
	}
	buffer := make([]byte, tagSize)
	_, err := f.file.ReadAt(buffer, int64(offset))
	if nil != err {
		return 0, err
	}
	return buffer[0], nil
}

// ReadDataKey - the key of the data record at offset
//
// reads only the fixed header and key, not the value
func (f *File) ReadDataKey(offset uint64) ([]byte, error) {

	size := uint64(DataRecordOverhead + f.header.KeyLength)
	if offset < HeaderSize || offset+size > f.CommittedLength() {
		return nil, fault.ErrRecordOutOfRange
	}

	buffer := make([]byte, size)
	_, err := f.file.ReadAt(buffer, int64(offset))
	if nil != err {
		return nil, err
	}
	if TagData != buffer[dataTagOffset] {
		return nil, fault.ErrDataFileCorrupt
	}
	return buffer[dataKeyOffset:], nil
}

// ReadData - the complete data record at offset with checksum verification
func (f *File) ReadData(offset uint64) ([]byte, []byte, error) {
	key, value, checksum, err := f.ReadDataUnchecked(offset)
	if nil != err {
		return nil, nil, err
	}
	if checksum != keyhash.Checksum(f.header.Salt, key, value) {
		return nil, nil, fault.ErrChecksumMismatch
	}
	return key, value, nil
}

// ReadDataUnchecked - the data record at offset and its stored checksum
//
// the caller compares the checksum itself; used by the verifier to
// keep walking past a damaged record
func (f *File) ReadDataUnchecked(offset uint64) ([]byte, []byte, uint64, error) {

	committed := f.CommittedLength()
	headerSize := uint64(DataRecordOverhead + f.header.KeyLength)
	if offset < HeaderSize || offset+headerSize > committed {
		return nil, nil, 0, fault.ErrRecordOutOfRange
	}

	buffer := make([]byte, headerSize)
	_, err := f.file.ReadAt(buffer, int64(offset))
	if nil != err {
		return nil, nil, 0, err
	}
	if TagData != buffer[dataTagOffset] {
		return nil, nil, 0, fault.ErrDataFileCorrupt
	}

	valueLength := uint64(binary.BigEndian.Uint32(buffer[dataValueLengthOffset:]))
	if valueLength > MaxValueLength || offset+headerSize+valueLength > committed {
		return nil, nil, 0, fault.ErrDataFileCorrupt
	}
	checksum := binary.BigEndian.Uint64(buffer[dataChecksumOffset:])
	key := buffer[dataKeyOffset:]

	value := make([]byte, valueLength)
	_, err = f.file.ReadAt(value, int64(offset+headerSize))
	if nil != err {
		return nil, nil, 0, err
	}

	return key, value, checksum, nil
}

// Checksum - recompute the integrity check for a key/value pair
func (f *File) Checksum(key []byte, value []byte) uint64 {
	return keyhash.Checksum(f.header.Salt, key, value)
}

// ReadSpill - the spill record at offset
func (f *File) ReadSpill(offset uint64) ([]Entry, uint64, error) {

	committed := f.CommittedLength()
	if offset < HeaderSize || offset+spillEntriesOffset > committed {
		return nil, 0, fault.ErrRecordOutOfRange
	}

	buffer := make([]byte, spillEntriesOffset)
	_, err := f.file.ReadAt(buffer, int64(offset))
	if nil != err {
		return nil, 0, err
	}
	if TagSpill != buffer[spillTagOffset] {
		return nil, 0, fault.ErrDataFileCorrupt
	}

	count := int(binary.BigEndian.Uint16(buffer[spillEntryCountOffset:]))
	rest := uint64(count*EntrySize + prevSpillSize)
	if offset+spillEntriesOffset+rest > committed {
		return nil, 0, fault.ErrDataFileCorrupt
	}

	buffer = make([]byte, rest)
	_, err = f.file.ReadAt(buffer, int64(offset+spillEntriesOffset))
	if nil != err {
		return nil, 0, err
	}

	entries := UnpackEntries(buffer, count)
	prevSpill := util.Uint48(buffer[count*EntrySize:])
	return entries, prevSpill, nil
}

// Close - flush appends and release the file handle
func (f *File) Close() error {
	if nil == f.file {
		return fault.ErrStoreClosed
	}
	var err error
	if !f.readOnly {
		err = f.Sync()
	}
	e := f.file.Close()
	if nil == err {
		err = e
	}
	f.file = nil
	return err
}
