package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/cuemby/corral/pkg/journal"
	"github.com/cuemby/corral/pkg/types"
)

var (
	journalPath = flag.String("journal", "corrald.db", "Path to the corrald transition journal")
	event       = flag.String("event", "", "Only transitions of this event")
	user        = flag.String("user", "", "Only transitions of this user (requires -event)")
	tail        = flag.Int("tail", 0, "Only the most recent N transitions (ignores filters)")
	asJSON      = flag.Bool("json", false, "Output one JSON object per line")
	countOnly   = flag.Bool("count", false, "Only print the number of recorded transitions")
)

func main() {
	flag.Parse()
	log.SetFlags(0)

	if *user != "" && *event == "" {
		log.Fatal("-user requires -event")
	}
	if _, err := os.Stat(*journalPath); err != nil {
		log.Fatalf("Journal not found at %s", *journalPath)
	}

	// Read-only open works while corrald holds the write lock.
	j, err := journal.OpenReadOnly(*journalPath)
	if err != nil {
		log.Fatalf("Failed to open journal: %v", err)
	}
	defer j.Close()

	if *countOnly {
		n, err := j.Count()
		if err != nil {
			log.Fatalf("Failed to count transitions: %v", err)
		}
		fmt.Println(n)
		return
	}

	transitions, err := load(j)
	if err != nil {
		log.Fatalf("Failed to read journal: %v", err)
	}

	for _, tr := range transitions {
		if *asJSON {
			line, err := json.Marshal(tr)
			if err != nil {
				log.Fatalf("Failed to marshal transition %s: %v", tr.ID, err)
			}
			fmt.Println(string(line))
			continue
		}
		fmt.Printf("%s  %s  %-24s %s -> %s (%s)\n",
			tr.Time.Format(time.RFC3339), tr.ID, tr.Event+"/"+tr.User, tr.From, tr.To, tr.Signal)
	}
}

func load(j *journal.Journal) ([]*types.Transition, error) {
	switch {
	case *tail > 0:
		return j.Tail(*tail)
	case *event != "":
		return j.ListWorld(*event, *user)
	default:
		return j.List()
	}
}
