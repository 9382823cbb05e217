// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2019 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"

	"github.com/urfave/cli"

	"github.com/bitmark-inc/hashstore/datafile"
)

// colours
const (
	keyColour1   = "\033[1;36m"
	keyColour2   = "\033[1;31m"
	valColour1   = "\033[1;33m"
	valColour2   = "\033[1;34m"
	spillColour1 = "\033[1;35m"
	spillColour2 = "\033[0;35m"
	endColour    = "\033[0m"
)

func runDump(c *cli.Context) error {

	m := c.App.Metadata["config"].(*metadata)

	if "" == m.data {
		return fmt.Errorf("data file is required")
	}

	count := c.Int("count")
	if count < 1 {
		return fmt.Errorf("invalid count: %d", count)
	}
	colour := c.Bool("colour")
	ascii := c.Bool("ascii")

	data, err := datafile.Open(m.data, true)
	if nil != err {
		return err
	}
	defer data.Close()

	ck1 := ""
	ck2 := ""
	cv1 := ""
	cv2 := ""
	cs1 := ""
	cs2 := ""
	ce := ""
	if colour {
		ck1 = keyColour1
		ck2 = keyColour2
		cv1 = valColour1
		cv2 = valColour2
		cs1 = spillColour1
		cs2 = spillColour2
		ce = endColour
	}

	committed := data.CommittedLength()
	offset := c.Uint64("start")
	if 0 == offset {
		offset = datafile.HeaderSize
	}

	i := 0
print_loop:
	for offset < committed && i < count {
		tag, err := data.ReadTag(offset)
		if nil != err {
			return err
		}

		switch tag {

		case datafile.TagData:
			key, value, err := data.ReadData(offset)
			if nil != err {
				return err
			}
			fmt.Fprintf(m.w, "%d: @%d %sKey: %s%x%s\n", i, offset, ck1, ck2, key, ce)
			if ascii {
				prefix := fmt.Sprintf("%d: %sVal: %s", i, cv1, cv2)
				hexDump(m.w, prefix, ce, value)
			} else {
				fmt.Fprintf(m.w, "%d: %sVal: %s%x%s\n", i, cv1, cv2, value, ce)
			}
			offset += datafile.DataRecordSize(len(key), len(value))

		case datafile.TagSpill:
			entries, prevSpill, err := data.ReadSpill(offset)
			if nil != err {
				return err
			}
			fmt.Fprintf(m.w, "%d: @%d %sSpill: %s%d slots ← %d%s\n", i, offset, cs1, cs2, len(entries), prevSpill, ce)
			offset += datafile.SpillRecordSize(len(entries))

		default:
			fmt.Fprintf(m.w, "*** unknown record tag %#02x at %d\n", tag, offset)
			break print_loop
		}
		i += 1
	}

	return nil
}

// dump hex data with an ASCII sidebar
func hexDump(w io.Writer, prefix string, suffix string, data []byte) {
	address := 0
	const bytesPerLine = 32
	for i := 0; i < len(data); i += bytesPerLine {
		fmt.Fprintf(w, "%s%04x  ", prefix, address)
		address += bytesPerLine
		for j := 0; j < bytesPerLine; j += 1 {
			if bytesPerLine/2 == j {
				fmt.Fprintf(w, " ")
			}
			if i+j < len(data) {
				fmt.Fprintf(w, "%02x ", data[i+j])
			} else {
				fmt.Fprintf(w, "   ")
			}
		}
		fmt.Fprintf(w, " |")
		for j := 0; j < bytesPerLine; j += 1 {
			if i+j >= len(data) {
				break
			}
			c := data[i+j]
			if c < 32 || c >= 127 {
				c = '.'
			}
			fmt.Fprintf(w, "%c", c)
		}
		fmt.Fprintf(w, "|%s\n", suffix)
	}
}
