// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2019 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"

	"github.com/bitmark-inc/hashstore/bucketfile"
	"github.com/bitmark-inc/hashstore/datafile"
)

func runInfo(c *cli.Context) error {

	m := c.App.Metadata["config"].(*metadata)

	if "" == m.data || "" == m.index {
		return fmt.Errorf("both data and index files are required")
	}

	data, err := datafile.Open(m.data, true)
	if nil != err {
		return err
	}
	defer data.Close()

	index, err := bucketfile.Open(m.index, true)
	if nil != err {
		return err
	}
	defer index.Close()

	dataInfo, err := os.Stat(m.data)
	if nil != err {
		return err
	}
	indexInfo, err := os.Stat(m.index)
	if nil != err {
		return err
	}

	header := data.Header()
	fmt.Fprintf(m.w, "data file:        %s (%d bytes)\n", m.data, dataInfo.Size())
	fmt.Fprintf(m.w, "index file:       %s (%d bytes)\n", m.index, indexInfo.Size())
	fmt.Fprintf(m.w, "application tag:  %#016x\n", header.AppTag)
	fmt.Fprintf(m.w, "key length:       %d\n", header.KeyLength)
	fmt.Fprintf(m.w, "salt:             %#016x\n", header.Salt)
	fmt.Fprintf(m.w, "buckets:          %d × %d slots\n", index.BucketCount(), index.BucketCapacity())
	fmt.Fprintf(m.w, "committed length: %d\n", data.CommittedLength())

	if data.CommittedLength() < uint64(dataInfo.Size()) {
		fmt.Fprintf(m.w, "orphaned bytes:   %d\n", uint64(dataInfo.Size())-data.CommittedLength())
	}

	err = index.Header().CheckAgainst(header)
	if nil != err {
		return err
	}
	return nil
}
