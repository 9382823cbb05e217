// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2019 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"io"
	"os"

	"github.com/urfave/cli"

	"github.com/bitmark-inc/exitwithstatus"

	"github.com/bitmark-inc/hashstore/configuration"
)

type metadata struct {
	file    string // configuration file, may be empty
	config  *configuration.Configuration
	data    string // data file from the command line
	index   string // index file from the command line
	verbose bool
	e       io.Writer
	w       io.Writer
}

// set by the linker: go build -ldflags "-X main.version=M.N" ./...
var version = "zero" // do not change this value

func main() {
	// ensure exit handler is first
	defer exitwithstatus.Handler()

	app := cli.NewApp()
	app.Name = "hashstore-cli"
	app.Usage = "inspect and maintain hashstore data/index file pairs"
	app.Version = version
	app.HideVersion = true

	app.Writer = os.Stdout
	app.ErrWriter = os.Stderr

	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "verbose, v",
			Usage: " verbose result",
		},
		cli.StringFlag{
			Name:  "config, c",
			Value: "",
			Usage: " configuration `FILE`",
		},
		cli.StringFlag{
			Name:  "data, d",
			Value: "",
			Usage: " data log `FILE` (instead of --config)",
		},
		cli.StringFlag{
			Name:  "index, i",
			Value: "",
			Usage: " bucket index `FILE` (instead of --config)",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:      "create",
			Usage:     "create a new empty store pair",
			ArgsUsage: "\n   (* = required unless --config is given)",
			Flags: []cli.Flag{
				cli.IntFlag{
					Name:  "key-length, k",
					Value: 0,
					Usage: "*fixed key length `BYTES`",
				},
				cli.Uint64Flag{
					Name:  "app-tag, t",
					Value: 0,
					Usage: " application tag `NUMBER`",
				},
				cli.Uint64Flag{
					Name:  "estimated-keys, n",
					Value: 0,
					Usage: "*expected number of keys `COUNT`",
				},
				cli.Float64Flag{
					Name:  "load-factor, l",
					Value: 0,
					Usage: " target bucket occupancy `FRACTION` (0 < f < 1)",
				},
				cli.IntFlag{
					Name:  "bucket-capacity, b",
					Value: 0,
					Usage: " slots per bucket `COUNT`",
				},
			},
			Action: runCreate,
		},
		{
			Name:   "verify",
			Usage:  "audit a store pair and print a report",
			Action: runVerify,
		},
		{
			Name:   "info",
			Usage:  "display the file headers and sizes",
			Action: runInfo,
		},
		{
			Name:      "dump",
			Usage:     "print committed records from the data log",
			ArgsUsage: "\n   (* = required)",
			Flags: []cli.Flag{
				cli.IntFlag{
					Name:  "count, n",
					Value: 10,
					Usage: " maximum records to output `COUNT`",
				},
				cli.BoolFlag{
					Name:  "colour, g",
					Usage: " display records in colour",
				},
				cli.BoolFlag{
					Name:  "ascii, a",
					Usage: " display printable bytes as ASCII",
				},
				cli.Uint64Flag{
					Name:  "start, s",
					Value: 0,
					Usage: " start at record offset `OFFSET` (0 = first record)",
				},
			},
			Action: runDump,
		},
	}

	app.Before = func(c *cli.Context) error {

		m := &metadata{
			file:    c.GlobalString("config"),
			data:    c.GlobalString("data"),
			index:   c.GlobalString("index"),
			verbose: c.GlobalBool("verbose"),
			e:       app.ErrWriter,
			w:       app.Writer,
		}

		if "" != m.file {
			config, err := configuration.GetConfiguration(m.file)
			if nil != err {
				return err
			}
			m.config = config
			m.data = config.DataFile
			m.index = config.IndexFile
		}

		app.Metadata = map[string]interface{}{
			"config": m,
		}
		return nil
	}

	err := app.Run(os.Args)
	if nil != err {
		exitwithstatus.Message("terminated with error: %s", err)
	}
}
