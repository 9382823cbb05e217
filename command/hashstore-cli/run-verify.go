// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2019 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/urfave/cli"

	"github.com/bitmark-inc/hashstore/verify"
)

func runVerify(c *cli.Context) error {

	m := c.App.Metadata["config"].(*metadata)

	if "" == m.data || "" == m.index {
		return fmt.Errorf("both data and index files are required")
	}

	var progress verify.Progress
	if m.verbose {
		progress = func(done uint64, total uint64) {
			percent := float64(100)
			if total > 0 {
				percent = 100 * float64(done) / float64(total)
			}
			fmt.Fprintf(m.e, "\rverify: %d/%d bytes (%5.1f%%)", done, total, percent)
		}
	}

	report, err := verify.VerifyWithProgress(m.data, m.index, progress)
	if m.verbose {
		fmt.Fprintf(m.e, "\n")
	}
	if nil != err {
		// a partial report still helps locate the damage
		if nil != report {
			fmt.Fprintf(m.w, "%s", report)
		}
		return err
	}

	fmt.Fprintf(m.w, "%s", report)
	if !report.Ok() {
		return fmt.Errorf("store is corrupt")
	}
	return nil
}
