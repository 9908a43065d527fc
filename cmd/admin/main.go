package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	persistlog "github.com/Arnav-102/UrbanPulse/internal/persistence/log"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "state":
			stateCmd(os.Args[2:])
			return
		case "weather":
			weatherCmd(os.Args[2:])
			return
		case "hour":
			hourCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "audit":
			auditCmd(os.Args[2:])
			return
		}
	}
	fmt.Fprintln(os.Stderr, "usage: admin <state|weather|hour|db|audit> [flags]")
	os.Exit(2)
}

// auditCmd prints the applied controls and overrides recorded in the audit log.
func auditCmd(args []string) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	district := fs.String("district", "", "district filter (optional)")
	sinceTick := fs.Uint64("since_tick", 0, "only entries at or after tick")
	_ = fs.Parse(args)

	entries, err := persistlog.ReadAudit(*dataDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read audit:", err)
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	n := 0
	for _, e := range entries {
		if e.Tick < *sinceTick {
			continue
		}
		if d := strings.TrimSpace(*district); d != "" && e.Op.District != d {
			continue
		}
		_ = enc.Encode(e)
		n++
	}
	fmt.Fprintf(os.Stderr, "%d audit entries\n", n)
}
