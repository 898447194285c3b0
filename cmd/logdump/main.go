package main

import (
	"flag"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/pretty"
	"github.com/tidwall/wal"

	"zoneraft/common"
	"zoneraft/dns"
	"zoneraft/raft"
)

// logdump prints the contents of a node's entry WAL: one summary line per
// slot, then the stored interchange JSON. Entries whose command tag is not
// registered still dump cleanly since the raw bytes are shown as stored.
func main() {
	common.InitLogger()

	path := flag.String("path", "", "path to a node's entry WAL directory")
	flag.Parse()

	if *path == "" {
		log.Fatal("-path is required")
	}

	registry := raft.NewRegistry()
	if err := dns.RegisterCommands(registry); err != nil {
		log.Fatalf("Failed to register zone commands: %v", err)
	}

	w, err := wal.Open(*path, nil)
	if err != nil {
		log.Fatalf("Failed to open WAL at %s: %v", *path, err)
	}
	defer w.Close()

	first, err := w.FirstIndex()
	if err != nil {
		log.Fatalf("Failed to read first index: %v", err)
	}
	last, err := w.LastIndex()
	if err != nil {
		log.Fatalf("Failed to read last index: %v", err)
	}
	if last == 0 {
		log.Info("Log is empty")
		return
	}

	for slot := first; slot <= last; slot++ {
		data, err := w.Read(slot)
		if err != nil {
			log.Fatalf("Failed to read slot %d: %v", slot, err)
		}
		entry := raft.DecodeLogEntry(data, registry)
		fmt.Printf("slot %d: %s\n%s", slot, entry, pretty.Pretty(data))
	}
}
