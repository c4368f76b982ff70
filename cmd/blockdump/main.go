// Copyright (C) 2024 Sneller, Inc.
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

// Command blockdump opens a blockmap store read-only and reports its header
// state, root pointers, free-list sizes, and the contents of its type map.
// Individual physical-map entries are not printed. It is the inspection tool
// for this format, the way cmd/dump is for ion.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/SnellerInc/blockmap"
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("blockdump: ")

	blockSize := flag.Int("blocksize", 0, "block size the store was created with (required; not self-describing until the header is read)")
	configPath := flag.String("config", "", "optional YAML/JSON config file (see Config in config.go)")
	export := flag.String("export", "", "write a zstd-compressed snapshot of every live block's content to this path")
	verify := flag.Bool("verify", false, "print a blake2b-256 digest per logical block for operator comparison across files")
	flag.Parse()

	args := flag.Args()
	if len(args) != 1 || *blockSize <= 0 {
		fmt.Fprintln(os.Stderr, "usage: blockdump -blocksize N [-config file] [-export out] [-verify] <path>")
		os.Exit(2)
	}
	path := args[0]

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("loading config: %s", err)
	}

	osf, err := os.Open(path)
	if err != nil {
		log.Fatalf("open %s: %s", path, err)
	}
	defer osf.Close()
	f := blockmap.NewOSFile(osf)

	st, err := blockmap.Load(f, *blockSize)
	if err != nil {
		log.Fatalf("load %s: %s", path, err)
	}

	printSummary(st, cfg)

	if *verify {
		if err := verifyBlocks(st); err != nil {
			log.Fatalf("verify: %s", err)
		}
	}
	if *export != "" {
		n, err := exportSnapshot(st, *export)
		if err != nil {
			log.Fatalf("export: %s", err)
		}
		log.Printf("wrote %d blocks to %s", n, *export)
	}
}

func printSummary(st *blockmap.Store, cfg *Config) {
	types, physical, streams := st.Roots()
	fmt.Printf("store id:       %s\n", st.StoreID())
	fmt.Printf("block size:     %d\n", st.BlockSize())
	fmt.Printf("state:          %s\n", st.State())
	fmt.Printf("generation:     %d\n", st.Generation())
	fmt.Printf("root types:     %s\n", types)
	fmt.Printf("root physical:  %s\n", physical)
	fmt.Printf("root streams:   %s\n", streams)
	fmt.Printf("max logical:    %s\n", st.MaxLogical())
	fmt.Printf("free logical:   %d\n", st.FreeLogicalCount())
	fmt.Printf("free physical:  %d\n", st.FreePhysicalCount())

	fmt.Println("blocks:")
	st.IterMetadata(func(nr blockmap.LogicalNr, t blockmap.BlockType) {
		name := cfg.typeName(t)
		fmt.Printf("  %s\ttype=%s\n", nr, name)
	})
}
