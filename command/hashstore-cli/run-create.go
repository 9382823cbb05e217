// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2019 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/urfave/cli"

	"github.com/bitmark-inc/logger"

	"github.com/bitmark-inc/hashstore/store"
)

// fallback logging for runs without a configuration file
var consoleLogging = logger.Configuration{
	Directory: ".",
	File:      "hashstore-cli.log",
	Size:      1048576,
	Count:     10,
	Console:   true,
	Levels: map[string]string{
		logger.DefaultTag: "critical",
	},
}

func runCreate(c *cli.Context) error {

	m := c.App.Metadata["config"].(*metadata)

	if "" == m.data || "" == m.index {
		return fmt.Errorf("both data and index files are required")
	}

	conf := store.Config{
		KeyLength:      c.Int("key-length"),
		AppTag:         c.Uint64("app-tag"),
		EstimatedKeys:  c.Uint64("estimated-keys"),
		LoadFactor:     c.Float64("load-factor"),
		BucketCapacity: c.Int("bucket-capacity"),
	}
	if nil != m.config {
		conf = m.config.StoreConfig()
	}

	logging := consoleLogging
	if nil != m.config {
		logging = m.config.Logging
	}
	err := logger.Initialise(logging)
	if nil != err {
		return err
	}
	defer logger.Finalise()

	s, err := store.Create(m.data, m.index, conf)
	if nil != err {
		return err
	}
	info := s.Info()
	err = s.Close()
	if nil != err {
		return err
	}

	if m.verbose {
		fmt.Fprintf(m.w, "data file:       %s\n", m.data)
		fmt.Fprintf(m.w, "index file:      %s\n", m.index)
		fmt.Fprintf(m.w, "application tag: %#016x\n", info.AppTag)
		fmt.Fprintf(m.w, "key length:      %d\n", info.KeyLength)
		fmt.Fprintf(m.w, "salt:            %#016x\n", info.Salt)
		fmt.Fprintf(m.w, "buckets:         %d × %d slots\n", info.BucketCount, info.BucketCapacity)
	}
	return nil
}
