package timeline

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"agent-pairtrack/internal/checkpoint"
	"agent-pairtrack/internal/db"
)

const storageKey = "timeline:records"

// noteDebounce batches rapid note edits into one write so typing does not
// rewrite the document on every keystroke.
const noteDebounce = 400 * time.Millisecond

var ErrRecordNotFound = errors.New("record not found")

// Store keeps finished sessions most-recent-first and mirrors every change
// to the durable KV backend as a single JSON document.
type Store struct {
	kv db.KV

	mu        sync.Mutex
	records   []Record
	noteTimer *time.Timer

	// writeMu serializes full-document writes so concurrent saves cannot
	// land out of order.
	writeMu sync.Mutex
}

func NewStore(kv db.KV) *Store {
	return &Store{kv: kv}
}

// Load reads the persisted list. A missing key, unreadable backend or a
// corrupt document all start the store empty; old history is never a reason
// to fail boot.
func (s *Store) Load(ctx context.Context) {
	raw, err := s.kv.Get(ctx, storageKey)
	if errors.Is(err, db.ErrNotFound) {
		return
	}
	if err != nil {
		log.Printf("timeline load failed, starting empty: %v", err)
		return
	}

	var records []Record
	if err := json.Unmarshal(raw, &records); err != nil {
		log.Printf("timeline document corrupt, starting empty: %v", err)
		return
	}

	s.mu.Lock()
	s.records = records
	s.mu.Unlock()
}

// Save prepends the record and persists the whole list.
func (s *Store) Save(ctx context.Context, rec Record) error {
	s.mu.Lock()
	s.records = append([]Record{rec}, s.records...)
	s.mu.Unlock()
	return s.persist(ctx)
}

// Records returns a copy of the list, most recent first.
func (s *Store) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

func (s *Store) Get(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.ID == id {
			return rec, true
		}
	}
	return Record{}, false
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	found := false
	kept := s.records[:0]
	for _, rec := range s.records {
		if rec.ID == id {
			found = true
			continue
		}
		kept = append(kept, rec)
	}
	s.records = kept
	s.mu.Unlock()

	if !found {
		return ErrRecordNotFound
	}
	return s.persist(ctx)
}

// Clear drops the whole history.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.records = nil
	s.mu.Unlock()
	return s.persist(ctx)
}

// AddCheckpoint appends a checkpoint to an existing record, for marks added
// after the session already ended. A checkpoint that is already present is
// skipped so replayed frames stay harmless.
func (s *Store) AddCheckpoint(ctx context.Context, id string, cp checkpoint.Checkpoint) error {
	s.mu.Lock()
	idx := -1
	for i := range s.records {
		if s.records[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return ErrRecordNotFound
	}
	for _, existing := range s.records[idx].Checkpoints {
		if existing.ID == cp.ID {
			s.mu.Unlock()
			return nil
		}
	}
	s.records[idx].Checkpoints = append(s.records[idx].Checkpoints, cp)
	s.mu.Unlock()
	return s.persist(ctx)
}

// AddCheckpointLatest attaches a checkpoint to the newest record. Used when
// a peer marks a checkpoint right as the session ends and the frame arrives
// after finalization.
func (s *Store) AddCheckpointLatest(ctx context.Context, cp checkpoint.Checkpoint) error {
	s.mu.Lock()
	if len(s.records) == 0 {
		s.mu.Unlock()
		return ErrRecordNotFound
	}
	id := s.records[0].ID
	s.mu.Unlock()
	return s.AddCheckpoint(ctx, id, cp)
}

// UpdateCheckpointNote edits a note in place. The in-memory list changes
// immediately; the durable write is debounced.
func (s *Store) UpdateCheckpointNote(recordID, checkpointID, note string) error {
	s.mu.Lock()
	var target *checkpoint.Checkpoint
	for i := range s.records {
		if s.records[i].ID != recordID {
			continue
		}
		for j := range s.records[i].Checkpoints {
			if s.records[i].Checkpoints[j].ID == checkpointID {
				target = &s.records[i].Checkpoints[j]
				break
			}
		}
		break
	}
	if target == nil {
		s.mu.Unlock()
		return ErrRecordNotFound
	}
	target.Note = note

	if s.noteTimer != nil {
		s.noteTimer.Stop()
	}
	s.noteTimer = time.AfterFunc(noteDebounce, func() {
		_ = s.persist(context.Background())
	})
	s.mu.Unlock()
	return nil
}

// Flush forces a debounced note edit to disk. Called when a session
// finalizes and on shutdown; a no-op when nothing is pending. A timer that
// already fired still counts as pending so the write is durable on return.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	pending := s.noteTimer != nil
	if pending {
		s.noteTimer.Stop()
		s.noteTimer = nil
	}
	s.mu.Unlock()

	if !pending {
		return nil
	}
	return s.persist(ctx)
}

// persist writes the full list. One retry covers transient backend errors;
// after that the in-memory list stays ahead of disk until the next write.
func (s *Store) persist(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	records := s.records
	if records == nil {
		records = []Record{}
	}
	raw, err := json.Marshal(records)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if err := s.kv.Set(ctx, storageKey, raw); err != nil {
		log.Printf("timeline write failed, retrying: %v", err)
		if err := s.kv.Set(ctx, storageKey, raw); err != nil {
			log.Printf("timeline write retry failed: %v", err)
			return err
		}
	}
	return nil
}
