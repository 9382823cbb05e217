// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2019 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package configuration - read Lua configuration files
//
// The configuration is a Lua program whose last expression is a table;
// the table is mapped onto the Configuration structure.  Relative file
// names are resolved against the directory holding the configuration
// file.
package configuration

import (
	"errors"
	"path/filepath"
	"time"

	"github.com/yuin/gluamapper"
	lua "github.com/yuin/gopher-lua"

	"github.com/bitmark-inc/logger"

	"github.com/bitmark-inc/hashstore/store"
)

// default values
const (
	defaultLogDirectory = "log"
	defaultLogFile      = "hashstore.log"
	defaultLogCount     = 10          //  number of log files retained
	defaultLogSize      = 1024 * 1024 // rotate when <logfile> exceeds this size
)

// Configuration - the store and logging settings
type Configuration struct {
	DataFile       string               `gluamapper:"data_file" json:"data_file"`
	IndexFile      string               `gluamapper:"index_file" json:"index_file"`
	KeyLength      int                  `gluamapper:"key_length" json:"key_length"`
	ApplicationTag int64                `gluamapper:"application_tag" json:"application_tag"`
	EstimatedKeys  int64                `gluamapper:"estimated_keys" json:"estimated_keys"`
	LoadFactor     float64              `gluamapper:"load_factor" json:"load_factor"`
	BucketCapacity int                  `gluamapper:"bucket_capacity" json:"bucket_capacity"`
	SyncSize       int                  `gluamapper:"sync_size" json:"sync_size"`
	SyncSeconds    float64              `gluamapper:"sync_seconds" json:"sync_seconds"`
	Logging        logger.Configuration `gluamapper:"logging" json:"logging"`
}

// ParseConfigurationFile - read and execute a Lua file and assign
// the results to a configuration structure
func ParseConfigurationFile(fileName string, config interface{}) error {
	L := lua.NewState()
	defer L.Close()

	L.OpenLibs()

	// create the global "arg" table
	// arg[0] = config file
	arg := &lua.LTable{}
	arg.Insert(0, lua.LString(fileName))
	L.SetGlobal("arg", arg)

	// execute configuration
	if err := L.DoFile(fileName); err != nil {
		return err
	}

	mapperOption := gluamapper.Option{
		NameFunc: func(s string) string {
			return s
		},
		TagName: "gluamapper",
	}
	mapper := gluamapper.Mapper{Option: mapperOption}
	err := mapper.Map(L.Get(L.GetTop()).(*lua.LTable), config)
	return err
}

// GetConfiguration - read a configuration file and apply defaults
func GetConfiguration(fileName string) (*Configuration, error) {

	fileName, err := filepath.Abs(filepath.Clean(fileName))
	if nil != err {
		return nil, err
	}

	// absolute path to the main directory
	dataDirectory, _ := filepath.Split(fileName)

	config := &Configuration{
		LoadFactor:     store.DefaultLoadFactor,
		BucketCapacity: store.DefaultBucketCapacity,
		SyncSize:       store.DefaultSyncSize,
		SyncSeconds:    store.DefaultSyncInterval.Seconds(),
		Logging: logger.Configuration{
			Directory: defaultLogDirectory,
			File:      defaultLogFile,
			Size:      defaultLogSize,
			Count:     defaultLogCount,
			Levels: map[string]string{
				logger.DefaultTag: "error",
			},
		},
	}

	err = ParseConfigurationFile(fileName, config)
	if nil != err {
		return nil, err
	}

	if "" == config.DataFile || "" == config.IndexFile {
		return nil, errors.New("configuration must set data_file and index_file")
	}

	// resolve relative names against the configuration directory
	config.DataFile = ensureAbsolute(dataDirectory, config.DataFile)
	config.IndexFile = ensureAbsolute(dataDirectory, config.IndexFile)
	config.Logging.Directory = ensureAbsolute(dataDirectory, config.Logging.Directory)

	return config, nil
}

// StoreConfig - the store creation parameters from this configuration
func (config *Configuration) StoreConfig() store.Config {
	return store.Config{
		KeyLength:      config.KeyLength,
		AppTag:         uint64(config.ApplicationTag),
		EstimatedKeys:  uint64(config.EstimatedKeys),
		LoadFactor:     config.LoadFactor,
		BucketCapacity: config.BucketCapacity,
		SyncSize:       config.SyncSize,
		SyncInterval:   time.Duration(config.SyncSeconds * float64(time.Second)),
	}
}

// ensureAbsolute - prepend the directory to a file name if relative
func ensureAbsolute(directory string, fileName string) string {
	if !filepath.IsAbs(fileName) {
		fileName = filepath.Join(directory, fileName)
	}
	return filepath.Clean(fileName)
}
