// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Command pincached drives a pincache.Cache from a line-oriented
// command stream on stdin, for manual testing and scripting.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/SnellerInc/pincache"
	"github.com/SnellerInc/pincache/internal/fsstat"
)

var (
	dashv      bool
	dashn      int
	dashd      string
	configPath string
)

func init() {
	flag.BoolVar(&dashv, "v", false, "verbose logging")
	flag.StringVar(&configPath, "config", "", "path to a YAML config file")
	flag.StringVar(&dashd, "dir", "", "directory backing cached files (overrides config)")
	flag.IntVar(&dashn, "n", 0, "cache capacity, in slots (overrides config, 0 uses config default)")
}

func exitf(f string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, f, args...)
	os.Exit(1)
}

type stderrLogger struct{}

func (stderrLogger) Printf(f string, args ...interface{}) {
	if f[len(f)-1] != '\n' {
		f += "\n"
	}
	fmt.Fprintf(os.Stderr, f, args...)
}

func main() {
	flag.Parse()

	cfg, err := loadConfig(configPath)
	if err != nil {
		exitf("%s\n", err)
	}
	if dashd != "" {
		cfg.Dir = dashd
	}
	if dashn != 0 {
		cfg.Capacity = dashn
	}
	if dashv {
		cfg.Verbose = true
	}

	if err := os.Chdir(cfg.Dir); err != nil {
		exitf("entering cache directory %q: %s\n", cfg.Dir, err)
	}

	var opts []pincache.Option
	if cfg.Verbose {
		opts = append(opts, pincache.WithLogger(stderrLogger{}))
	}
	c, err := pincache.New(cfg.Capacity, opts...)
	if err != nil {
		exitf("%s\n", err)
	}
	defer c.Destroy()

	if free, err := fsstat.Stat("."); err == nil && cfg.Verbose {
		stderrLogger{}.Printf("backing filesystem: %d/%d bytes free", free.Free, free.Total)
	}

	runLoop(c, os.Stdin, os.Stdout)
}

// runLoop reads one command per line from in and writes replies to
// out, until in is exhausted or a "quit" command is read. Recognized
// commands:
//
//	pin <file>...
//	unpin <file>...
//	evict
//	stats
//	quit
func runLoop(c *pincache.Cache, in *os.File, out *os.File) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "pin":
			if err := c.Pin(fields[1:]); err != nil {
				fmt.Fprintf(out, "error: %s\n", err)
				continue
			}
			fmt.Fprintf(out, "ok\n")
		case "unpin":
			if err := c.Unpin(fields[1:]); err != nil {
				fmt.Fprintf(out, "error: %s\n", err)
				continue
			}
			fmt.Fprintf(out, "ok\n")
		case "evict":
			fmt.Fprintf(out, "evicted=%v\n", c.Evict())
		case "stats":
			s := c.Stats()
			fmt.Fprintf(out, "occupied=%d capacity=%d waiters=%d loads=%d evictions=%d flushes=%d\n",
				s.Occupied, s.Capacity, s.Waiters, s.Loads, s.Evictions, s.Flushes)
		case "quit":
			return
		default:
			fmt.Fprintf(out, "error: unknown command %q\n", fields[0])
		}
	}
}
