/*
Package journal persists world transitions to an embedded BoltDB database.

Every transition the state machine commits is recorded here as JSON under
a ULID key, so a cursor walk of the bucket replays lifecycle history in
commit order. The journal is the audit trail behind corral-audit and
survives daemon restarts; it is not consulted for live state, which the
reconciler rebuilds from swarm and the filesystem on startup.

# Usage

Recording is wired through the broker so the state machine never blocks
on disk:

	j, err := journal.Open(cfg.JournalFile())
	if err != nil {
		return err
	}
	defer j.Close()

	w := journal.NewWriter(j, broker)
	w.Start()
	defer w.Stop()

Reading back:

	last, err := j.Tail(20)
	history, err := j.ListWorld("demo", "alice")

The audit tool opens the same file with OpenReadOnly, which skips the
exclusive file lock so it works while the daemon is up.

# See Also

  - pkg/events: broker the writer subscribes to
  - cmd/corral-audit: CLI over List, ListWorld and Tail
*/
package journal
