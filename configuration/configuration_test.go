// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2019 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package configuration_test

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bitmark-inc/hashstore/configuration"
	"github.com/bitmark-inc/hashstore/store"
)

const testConfiguration = `
local M = {}

M.data_file = "data/test.dat"
M.index_file = "data/test.key"
M.key_length = 32
M.application_tag = 4660
M.estimated_keys = 500000
M.load_factor = 0.75
M.bucket_capacity = 8
M.sync_size = 65536
M.sync_seconds = 0.25

M.logging = {
    directory = "log",
    file = "test.log",
    size = 1048576,
    count = 20,
    console = false,
    levels = {
        DEFAULT = "info",
    },
}

return M
`

const minimalConfiguration = `
return {
    data_file = "/var/lib/hashstore/test.dat",
    index_file = "/var/lib/hashstore/test.key",
    key_length = 8,
    estimated_keys = 1000,
}
`

func writeConfiguration(t *testing.T, text string) (string, func()) {
	dir, err := ioutil.TempDir("", "configuration-test")
	if nil != err {
		t.Fatalf("tempdir error: %s", err)
	}
	fileName := filepath.Join(dir, "test.conf")
	err = ioutil.WriteFile(fileName, []byte(text), 0600)
	if nil != err {
		os.RemoveAll(dir)
		t.Fatalf("write error: %s", err)
	}
	return fileName, func() {
		os.RemoveAll(dir)
	}
}

func TestGetConfiguration(t *testing.T) {
	fileName, cleanup := writeConfiguration(t, testConfiguration)
	defer cleanup()

	dir := filepath.Dir(fileName)

	config, err := configuration.GetConfiguration(fileName)
	assert.Nil(t, err, "configuration error")

	// relative names resolve against the configuration directory
	assert.Equal(t, filepath.Join(dir, "data/test.dat"), config.DataFile, "wrong data file")
	assert.Equal(t, filepath.Join(dir, "data/test.key"), config.IndexFile, "wrong index file")
	assert.Equal(t, filepath.Join(dir, "log"), config.Logging.Directory, "wrong log directory")

	assert.Equal(t, 32, config.KeyLength, "wrong key length")
	assert.Equal(t, int64(4660), config.ApplicationTag, "wrong application tag")
	assert.Equal(t, int64(500000), config.EstimatedKeys, "wrong estimated keys")
	assert.Equal(t, 0.75, config.LoadFactor, "wrong load factor")
	assert.Equal(t, 8, config.BucketCapacity, "wrong bucket capacity")
	assert.Equal(t, "test.log", config.Logging.File, "wrong log file")
	assert.Equal(t, 20, config.Logging.Count, "wrong log count")
	assert.Equal(t, "info", config.Logging.Levels["DEFAULT"], "wrong log level")

	conf := config.StoreConfig()
	assert.Equal(t, 32, conf.KeyLength, "wrong store key length")
	assert.Equal(t, uint64(4660), conf.AppTag, "wrong store app tag")
	assert.Equal(t, 65536, conf.SyncSize, "wrong sync size")
	assert.Equal(t, 250*time.Millisecond, conf.SyncInterval, "wrong sync interval")
}

func TestConfigurationDefaults(t *testing.T) {
	fileName, cleanup := writeConfiguration(t, minimalConfiguration)
	defer cleanup()

	config, err := configuration.GetConfiguration(fileName)
	assert.Nil(t, err, "configuration error")

	// absolute names pass through untouched
	assert.Equal(t, "/var/lib/hashstore/test.dat", config.DataFile, "wrong data file")

	assert.Equal(t, store.DefaultLoadFactor, config.LoadFactor, "wrong default load factor")
	assert.Equal(t, store.DefaultBucketCapacity, config.BucketCapacity, "wrong default capacity")
	assert.Equal(t, store.DefaultSyncSize, config.SyncSize, "wrong default sync size")
	assert.Equal(t, store.DefaultSyncInterval, config.StoreConfig().SyncInterval, "wrong default interval")
}

func TestConfigurationMissingFiles(t *testing.T) {
	fileName, cleanup := writeConfiguration(t, `return { key_length = 8 }`)
	defer cleanup()

	_, err := configuration.GetConfiguration(fileName)
	assert.NotNil(t, err, "expected configuration error")
}

func TestConfigurationBadLua(t *testing.T) {
	fileName, cleanup := writeConfiguration(t, `this is not lua`)
	defer cleanup()

	_, err := configuration.GetConfiguration(fileName)
	assert.NotNil(t, err, "expected parse error")
}
