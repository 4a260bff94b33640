package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// Journal is the write-ahead log that pairs one ledger append with one
// Store mutation so the two commit as a unit even though they live in
// two different durable media (the ledger file and Postgres). Per
// spec.md §4.2 and §3's ledger-is-the-linearization-point invariant,
// every stage transition appends its block first (so the Store row can
// carry that block's hash) and mutates the Store second: record intent,
// append, mutate, then clear the journal entry — a crash at any point
// before the entry is cleared leaves the entry on disk, where the next
// call to Pending reports it.
type Journal struct {
	mu  sync.Mutex
	dir string
	log *zap.Logger
}

// Entry is one journal record. Phase tracks how far the paired
// operation got before a crash, if any.
type Entry struct {
	ID       string          `json:"id"`
	Phase    Phase           `json:"phase"`
	Kind     string          `json:"kind"`     // caller-defined operation name, e.g. "sheet.quality_assessed"
	Mutation json.RawMessage `json:"mutation"` // opaque to Journal; nothing replays it automatically
}

// Phase is where in the {intent, ledger-appended, store-mutated, clear}
// sequence an Entry currently sits.
type Phase string

const (
	PhaseIntent         Phase = "intent"
	PhaseLedgerAppended Phase = "ledger_appended"
	PhaseStoreMutated   Phase = "store_mutated"
)

// NewJournal opens (creating if necessary) the journal directory.
func NewJournal(dir string, log *zap.Logger) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Journal{dir: dir, log: log}, nil
}

func (j *Journal) path(id string) string {
	return filepath.Join(j.dir, id+".json")
}

// BeginIntent records that a paired ledger-append-then-store-mutate is
// about to start. The caller must eventually call Clear, or the entry
// is reported as incomplete work by the next Pending.
func (j *Journal) BeginIntent(id, kind string, mutation json.RawMessage) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.write(Entry{ID: id, Phase: PhaseIntent, Kind: kind, Mutation: mutation})
}

// MarkLedgerAppended records that the ledger append committed; only the
// Store mutation remains.
func (j *Journal) MarkLedgerAppended(id, kind string, mutation json.RawMessage) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.write(Entry{ID: id, Phase: PhaseLedgerAppended, Kind: kind, Mutation: mutation})
}

// MarkStoreMutated records that the Store mutation also committed; only
// cleanup (Clear) remains.
func (j *Journal) MarkStoreMutated(id, kind string, mutation json.RawMessage) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.write(Entry{ID: id, Phase: PhaseStoreMutated, Kind: kind, Mutation: mutation})
}

func (j *Journal) write(e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal journal entry %s: %w", e.ID, err)
	}
	tmp := j.path(e.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write journal entry %s: %w", e.ID, err)
	}
	return os.Rename(tmp, j.path(e.ID))
}

// Clear removes a completed entry's journal record.
func (j *Journal) Clear(id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	err := os.Remove(j.path(id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear journal entry %s: %w", id, err)
	}
	return nil
}

// Pending lists every entry still on disk, in undefined order, for the
// caller to inspect at startup; it does not replay anything. An entry at
// PhaseIntent means the ledger append never ran — safe to discard. An
// entry at PhaseLedgerAppended means the ledger committed but the Store
// mutation did not — only the Store write needs retrying; Mutation holds
// the transition's payload fields, not the appended block. An entry at
// PhaseStoreMutated means both sides committed but Clear never ran —
// the caller only needs to call Clear.
func (j *Journal) Pending() ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	files, err := os.ReadDir(j.dir)
	if err != nil {
		return nil, fmt.Errorf("list journal directory: %w", err)
	}

	var entries []Entry
	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(j.dir, f.Name()))
		if err != nil {
			j.log.Warn("skipping unreadable journal entry", zap.String("file", f.Name()), zap.Error(err))
			continue
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			j.log.Warn("skipping corrupt journal entry", zap.String("file", f.Name()), zap.Error(err))
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}
