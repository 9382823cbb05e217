// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2019 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package recovery_test

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitmark-inc/logger"

	"github.com/bitmark-inc/hashstore/bucketfile"
	"github.com/bitmark-inc/hashstore/datafile"
	"github.com/bitmark-inc/hashstore/fault"
	"github.com/bitmark-inc/hashstore/fixtures"
	"github.com/bitmark-inc/hashstore/recovery"
)

const (
	testAppTag    = 0x626d6b2d74657374
	testKeyLength = 4
	testSalt      = 42
)

func TestMain(m *testing.M) {
	fixtures.SetupTestLogger()
	rc := m.Run()
	fixtures.TeardownTestLogger()
	os.Exit(rc)
}

type fixture struct {
	dir          string
	data         *datafile.File
	index        *bucketfile.File
	recoveryPath string
	log          *logger.L
}

func setup(t *testing.T) (*fixture, func()) {
	dir, err := ioutil.TempDir("", "recovery-test")
	require.Nil(t, err, "cannot create test directory")

	data, err := datafile.Create(filepath.Join(dir, "test.dat"), testAppTag, testKeyLength, testSalt)
	require.Nil(t, err, "cannot create data file")

	index, err := bucketfile.Create(filepath.Join(dir, "test.idx"), bucketfile.Header{
		AppTag:         testAppTag,
		KeyLength:      testKeyLength,
		Salt:           testSalt,
		BucketCount:    7,
		BucketCapacity: 2,
	})
	require.Nil(t, err, "cannot create index file")

	f := &fixture{
		dir:          dir,
		data:         data,
		index:        index,
		recoveryPath: filepath.Join(dir, "test.rec"),
		log:          logger.New(fixtures.LogCategory),
	}
	return f, func() {
		f.data.Close()
		f.index.Close()
		os.RemoveAll(dir)
	}
}

// commit one record the way the store does, so there is a known good
// committed state to roll back to
func commitOne(t *testing.T, f *fixture, key string, value string) uint64 {
	offset, err := f.data.AppendData([]byte(key), []byte(value))
	require.Nil(t, err, "append failed")
	require.Nil(t, f.data.Sync(), "sync failed")
	require.Nil(t, f.data.SetCommittedLength(f.data.AppendLength()), "commit length failed")

	err = f.index.WriteBucket(&bucketfile.Bucket{
		Index: 3,
		Slots: []datafile.Entry{{Hash: 0x111111111111, Offset: offset}},
	})
	require.Nil(t, err, "bucket write failed")
	require.Nil(t, f.index.Sync(), "index sync failed")
	return offset
}

func TestRestoreWithoutLog(t *testing.T) {
	f, teardown := setup(t)
	defer teardown()

	err := recovery.Restore(f.recoveryPath, f.data, f.index, f.log)
	assert.Nil(t, err, "restore without log failed")
}

func TestRestoreEmptyLog(t *testing.T) {
	f, teardown := setup(t)
	defer teardown()

	require.Nil(t, ioutil.WriteFile(f.recoveryPath, []byte{}, 0600), "write failed")

	err := recovery.Restore(f.recoveryPath, f.data, f.index, f.log)
	assert.Nil(t, err, "restore with empty log failed")
	_, err = os.Stat(f.recoveryPath)
	assert.True(t, os.IsNotExist(err), "empty log not removed")
}

func TestRollback(t *testing.T) {
	f, teardown := setup(t)
	defer teardown()

	offset := commitOne(t, f, "aaaa", "1")
	goodLength := f.data.CommittedLength()
	goodImage, err := f.index.ReadBucketImage(3)
	require.Nil(t, err, "read image failed")

	// start a second batch: pre-image, then "crash" after a bucket write
	log, err := recovery.Begin(f.recoveryPath, testAppTag, testSalt, goodLength)
	require.Nil(t, err, "begin failed")
	require.Nil(t, log.WritePreImage(3, goodImage), "pre-image failed")
	require.Nil(t, log.Sync(), "log sync failed")

	_, err = f.data.AppendData([]byte("bbbb"), []byte("2"))
	require.Nil(t, err, "append failed")
	require.Nil(t, f.data.Sync(), "sync failed")
	require.Nil(t, f.data.SetCommittedLength(f.data.AppendLength()), "commit length failed")

	err = f.index.WriteBucket(&bucketfile.Bucket{
		Index: 3,
		Slots: []datafile.Entry{
			{Hash: 0x111111111111, Offset: offset},
			{Hash: 0x222222222222, Offset: goodLength},
		},
	})
	require.Nil(t, err, "bucket write failed")
	require.Nil(t, f.index.Sync(), "index sync failed")
	log.Abandon() // no marker: simulated crash

	err = recovery.Restore(f.recoveryPath, f.data, f.index, f.log)
	require.Nil(t, err, "restore failed")

	// bucket back to pre-image, data log back to its old length
	image, err := f.index.ReadBucketImage(3)
	require.Nil(t, err, "read image failed")
	assert.Equal(t, goodImage, image, "bucket not restored")
	assert.Equal(t, goodLength, f.data.CommittedLength(), "committed length not restored")
	assert.Equal(t, goodLength, f.data.AppendLength(), "data log not truncated")

	// the first batch's record is intact
	k, v, err := f.data.ReadData(offset)
	require.Nil(t, err, "read failed")
	assert.Equal(t, []byte("aaaa"), k, "wrong key")
	assert.Equal(t, []byte("1"), v, "wrong value")

	_, err = os.Stat(f.recoveryPath)
	assert.True(t, os.IsNotExist(err), "log not removed after rollback")
}

func TestMarkedLogIsDiscarded(t *testing.T) {
	f, teardown := setup(t)
	defer teardown()

	commitOne(t, f, "aaaa", "1")
	goodLength := f.data.CommittedLength()
	image, err := f.index.ReadBucketImage(3)
	require.Nil(t, err, "read image failed")

	log, err := recovery.Begin(f.recoveryPath, testAppTag, testSalt, goodLength)
	require.Nil(t, err, "begin failed")
	require.Nil(t, log.WritePreImage(3, image), "pre-image failed")
	require.Nil(t, log.Sync(), "log sync failed")
	require.Nil(t, log.Mark(), "mark failed")
	log.Abandon() // crash between mark and remove

	// bucket must not be rolled back
	before, err := f.index.ReadBucketImage(3)
	require.Nil(t, err, "read image failed")

	err = recovery.Restore(f.recoveryPath, f.data, f.index, f.log)
	require.Nil(t, err, "restore failed")

	after, err := f.index.ReadBucketImage(3)
	require.Nil(t, err, "read image failed")
	assert.Equal(t, before, after, "completed batch was rolled back")

	_, err = os.Stat(f.recoveryPath)
	assert.True(t, os.IsNotExist(err), "marked log not removed")
}

func TestStaleLogIsRefused(t *testing.T) {
	f, teardown := setup(t)
	defer teardown()

	commitOne(t, f, "aaaa", "1")
	goodLength := f.data.CommittedLength()
	image, err := f.index.ReadBucketImage(3)
	require.Nil(t, err, "read image failed")

	// a leftover log from a recreated pair carries a different salt
	log, err := recovery.Begin(f.recoveryPath, testAppTag, testSalt+1, goodLength)
	require.Nil(t, err, "begin failed")
	require.Nil(t, log.WritePreImage(3, image), "pre-image failed")
	require.Nil(t, log.Sync(), "log sync failed")
	log.Abandon()

	err = recovery.Restore(f.recoveryPath, f.data, f.index, f.log)
	assert.Equal(t, fault.ErrRecoveryLogCorrupt, err, "stale log replayed")
}

func TestTornPreImageIsFatal(t *testing.T) {
	f, teardown := setup(t)
	defer teardown()

	commitOne(t, f, "aaaa", "1")
	goodLength := f.data.CommittedLength()
	image, err := f.index.ReadBucketImage(3)
	require.Nil(t, err, "read image failed")

	log, err := recovery.Begin(f.recoveryPath, testAppTag, testSalt, goodLength)
	require.Nil(t, err, "begin failed")
	require.Nil(t, log.WritePreImage(3, image), "pre-image failed")
	require.Nil(t, log.Sync(), "log sync failed")
	log.Abandon()

	// cut the log mid pre-image
	info, err := os.Stat(f.recoveryPath)
	require.Nil(t, err, "stat failed")
	err = os.Truncate(f.recoveryPath, info.Size()-5)
	require.Nil(t, err, "truncate failed")

	err = recovery.Restore(f.recoveryPath, f.data, f.index, f.log)
	assert.Equal(t, fault.ErrRecoveryLogCorrupt, err, "torn log accepted")
}
