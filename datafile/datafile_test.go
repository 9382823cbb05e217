// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2019 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package datafile_test

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitmark-inc/hashstore/datafile"
	"github.com/bitmark-inc/hashstore/fault"
)

const (
	testAppTag    = 0x626d6b2d74657374 // "bmk-test"
	testKeyLength = 4
	testSalt      = 0x0123456789abcdef
)

func setup(t *testing.T) (string, func()) {
	dir, err := ioutil.TempDir("", "datafile-test")
	require.Nil(t, err, "cannot create test directory")
	return dir, func() {
		os.RemoveAll(dir)
	}
}

func TestCreateOpen(t *testing.T) {
	dir, teardown := setup(t)
	defer teardown()
	path := filepath.Join(dir, "test.dat")

	f, err := datafile.Create(path, testAppTag, testKeyLength, testSalt)
	require.Nil(t, err, "create failed")

	// duplicate create must fail
	_, err = datafile.Create(path, testAppTag, testKeyLength, testSalt)
	assert.Equal(t, fault.ErrStoreAlreadyExists, err, "duplicate create")

	assert.Equal(t, uint64(datafile.HeaderSize), f.CommittedLength(), "wrong initial committed length")
	err = f.Close()
	require.Nil(t, err, "close failed")

	f, err = datafile.Open(path, true)
	require.Nil(t, err, "open failed")
	header := f.Header()
	assert.Equal(t, uint64(testAppTag), header.AppTag, "wrong app tag")
	assert.Equal(t, testKeyLength, header.KeyLength, "wrong key length")
	assert.Equal(t, uint64(testSalt), header.Salt, "wrong salt")
	f.Close()
}

func TestOpenMissing(t *testing.T) {
	dir, teardown := setup(t)
	defer teardown()

	_, err := datafile.Open(filepath.Join(dir, "absent.dat"), true)
	assert.Equal(t, fault.ErrStoreNotFound, err, "wrong error for missing file")
}

func TestOpenWrongMagic(t *testing.T) {
	dir, teardown := setup(t)
	defer teardown()
	path := filepath.Join(dir, "bad.dat")

	err := ioutil.WriteFile(path, make([]byte, datafile.HeaderSize), 0600)
	require.Nil(t, err, "write failed")

	_, err = datafile.Open(path, true)
	assert.Equal(t, fault.ErrWrongFileType, err, "wrong error for bad magic")
}

func TestAppendAndReadData(t *testing.T) {
	dir, teardown := setup(t)
	defer teardown()
	path := filepath.Join(dir, "test.dat")

	f, err := datafile.Create(path, testAppTag, testKeyLength, testSalt)
	require.Nil(t, err, "create failed")
	defer f.Close()

	key := []byte("aaaa")
	value := []byte("first value")

	offset, err := f.AppendData(key, value)
	require.Nil(t, err, "append failed")
	assert.Equal(t, uint64(datafile.HeaderSize), offset, "wrong first offset")

	// wrong length key rejected
	_, err = f.AppendData([]byte("toolongkey"), value)
	assert.Equal(t, fault.ErrKeyWrongLength, err, "over-length key accepted")

	err = f.Sync()
	require.Nil(t, err, "sync failed")
	err = f.SetCommittedLength(f.AppendLength())
	require.Nil(t, err, "set committed length failed")

	k, v, err := f.ReadData(offset)
	require.Nil(t, err, "read failed")
	assert.Equal(t, key, k, "wrong key")
	assert.Equal(t, value, v, "wrong value")

	k, err = f.ReadDataKey(offset)
	require.Nil(t, err, "read key failed")
	assert.Equal(t, key, k, "wrong key")

	tag, err := f.ReadTag(offset)
	require.Nil(t, err, "read tag failed")
	assert.Equal(t, datafile.TagData, tag, "wrong tag")
}

func TestReadUncommitted(t *testing.T) {
	dir, teardown := setup(t)
	defer teardown()
	path := filepath.Join(dir, "test.dat")

	f, err := datafile.Create(path, testAppTag, testKeyLength, testSalt)
	require.Nil(t, err, "create failed")
	defer f.Close()

	offset, err := f.AppendData([]byte("aaaa"), []byte("not yet committed"))
	require.Nil(t, err, "append failed")
	err = f.Sync()
	require.Nil(t, err, "sync failed")

	// committed length was never advanced
	_, _, err = f.ReadData(offset)
	assert.Equal(t, fault.ErrRecordOutOfRange, err, "uncommitted record readable")
}

func TestAppendAndReadSpill(t *testing.T) {
	dir, teardown := setup(t)
	defer teardown()
	path := filepath.Join(dir, "test.dat")

	f, err := datafile.Create(path, testAppTag, testKeyLength, testSalt)
	require.Nil(t, err, "create failed")
	defer f.Close()

	entries := []datafile.Entry{
		{Hash: 0x111111111111, Offset: 40},
		{Hash: 0x222222222222, Offset: 80},
		{Hash: 0x333333333333, Offset: 120},
	}

	offset, err := f.AppendSpill(entries, 0)
	require.Nil(t, err, "append spill failed")
	err = f.Sync()
	require.Nil(t, err, "sync failed")
	err = f.SetCommittedLength(f.AppendLength())
	require.Nil(t, err, "set committed length failed")

	back, prevSpill, err := f.ReadSpill(offset)
	require.Nil(t, err, "read spill failed")
	assert.Equal(t, entries, back, "wrong entries")
	assert.Equal(t, uint64(0), prevSpill, "wrong previous spill")

	tag, err := f.ReadTag(offset)
	require.Nil(t, err, "read tag failed")
	assert.Equal(t, datafile.TagSpill, tag, "wrong tag")
}

func TestTruncateRollsBackAppends(t *testing.T) {
	dir, teardown := setup(t)
	defer teardown()
	path := filepath.Join(dir, "test.dat")

	f, err := datafile.Create(path, testAppTag, testKeyLength, testSalt)
	require.Nil(t, err, "create failed")

	offset, err := f.AppendData([]byte("aaaa"), []byte("1"))
	require.Nil(t, err, "append failed")
	err = f.Sync()
	require.Nil(t, err, "sync failed")
	err = f.SetCommittedLength(f.AppendLength())
	require.Nil(t, err, "set committed length failed")
	committed := f.CommittedLength()

	// uncommitted appends
	_, err = f.AppendData([]byte("bbbb"), []byte("2"))
	require.Nil(t, err, "append failed")
	err = f.Sync()
	require.Nil(t, err, "sync failed")

	err = f.Truncate(committed)
	require.Nil(t, err, "truncate failed")
	assert.Equal(t, committed, f.AppendLength(), "wrong length after truncate")

	err = f.Close()
	require.Nil(t, err, "close failed")

	f, err = datafile.Open(path, false)
	require.Nil(t, err, "reopen failed")
	defer f.Close()
	assert.Equal(t, committed, f.CommittedLength(), "wrong committed length after reopen")
	assert.Equal(t, committed, f.AppendLength(), "wrong append length after reopen")

	k, v, err := f.ReadData(offset)
	require.Nil(t, err, "read failed")
	assert.Equal(t, []byte("aaaa"), k, "wrong key")
	assert.Equal(t, []byte("1"), v, "wrong value")
}

func TestChecksumDetection(t *testing.T) {
	dir, teardown := setup(t)
	defer teardown()
	path := filepath.Join(dir, "test.dat")

	f, err := datafile.Create(path, testAppTag, testKeyLength, testSalt)
	require.Nil(t, err, "create failed")

	offset, err := f.AppendData([]byte("aaaa"), []byte("payload"))
	require.Nil(t, err, "append failed")
	err = f.Sync()
	require.Nil(t, err, "sync failed")
	err = f.SetCommittedLength(f.AppendLength())
	require.Nil(t, err, "set committed length failed")
	err = f.Close()
	require.Nil(t, err, "close failed")

	// flip one byte inside the value
	raw, err := os.OpenFile(path, os.O_RDWR, 0600)
	require.Nil(t, err, "raw open failed")
	valueOffset := int64(offset) + datafile.DataRecordOverhead + testKeyLength
	_, err = raw.WriteAt([]byte{'X'}, valueOffset)
	require.Nil(t, err, "raw write failed")
	raw.Close()

	f, err = datafile.Open(path, true)
	require.Nil(t, err, "reopen failed")
	defer f.Close()

	_, _, err = f.ReadData(offset)
	assert.Equal(t, fault.ErrChecksumMismatch, err, "corruption not detected")
}
