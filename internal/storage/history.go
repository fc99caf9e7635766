// Package storage keeps a history of public KMS key findings across runs.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/btree"
	"go.etcd.io/bbolt"

	"github.com/aws-samples/aws-iam-access-analyzer-kms-blog/pkg/finding"
)

// Bucket names in bbolt
var (
	bucketRuns = []byte("runs")
	bucketKeys = []byte("keys")
	bucketMeta = []byte("meta")

	keyCurrentRevision = []byte("current_revision")
)

// ErrKeyNotFound is returned when a key has never been recorded.
var ErrKeyNotFound = errors.New("key not found")

// History records every run and tracks, per key, when it was first and
// last seen public and when it was resolved.
type History struct {
	mu sync.RWMutex

	// In-memory index ordered by ARN
	index *btree.BTreeG[*KeyState]

	db         *bbolt.DB
	currentRev int64
}

// KeyState tracks a key's public exposure in the index.
type KeyState struct {
	ResourceARN  string          `json:"resourceArn"`
	Public       bool            `json:"public"`
	FirstSeenRev int64           `json:"firstSeenRev"`
	LastSeenRev  int64           `json:"lastSeenRev"`
	ResolvedRev  int64           `json:"resolvedRev,omitempty"`
	FirstSeen    time.Time       `json:"firstSeen"`
	LastSeen     time.Time       `json:"lastSeen"`
	Finding      finding.Finding `json:"finding"`
}

// RunRecord is the stored summary of one run.
type RunRecord struct {
	Revision    int64             `json:"revision"`
	StartedAt   time.Time         `json:"startedAt"`
	Status      finding.RunStatus `json:"status"`
	Account     string            `json:"account"`
	Region      string            `json:"region"`
	AnalyzerARN string            `json:"analyzerArn"`
	Keys        int               `json:"keys"`
	Pending     []string          `json:"pending,omitempty"`
	Findings    []string          `json:"findings"`
}

// Open opens or creates the history database at path.
func Open(path string) (*History, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketRuns, bucketKeys, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}

	h := &History{
		index: btree.NewG[*KeyState](32, func(a, b *KeyState) bool {
			return a.ResourceARN < b.ResourceARN
		}),
		db: db,
	}

	if err := h.load(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return h, nil
}

// Close closes the database.
func (h *History) Close() error {
	return h.db.Close()
}

// Record stores the run and updates key exposure. Failed runs are stored
// but leave key state untouched. A previously public key is only marked
// resolved when this run analyzed it, or when a complete key listing no
// longer contains it.
func (h *History) Record(report finding.Report) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rev := h.currentRev + 1
	run := RunRecord{
		Revision:    rev,
		StartedAt:   report.StartedAt,
		Status:      report.Status(),
		Account:     report.Account,
		Region:      report.Region,
		AnalyzerARN: report.AnalyzerARN,
		Keys:        len(report.CustomerKeys),
		Pending:     report.Pending,
		Findings:    finding.ARNs(report.Findings),
	}

	var changed []*KeyState
	if run.Status != finding.RunFailed {
		changed = h.applyReport(report, rev)
	}

	err := h.db.Update(func(tx *bbolt.Tx) error {
		value, err := json.Marshal(run)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketRuns).Put(makeRunKey(rev), value); err != nil {
			return err
		}

		keys := tx.Bucket(bucketKeys)
		for _, state := range changed {
			value, err := json.Marshal(state)
			if err != nil {
				return err
			}
			if err := keys.Put([]byte(state.ResourceARN), value); err != nil {
				return err
			}
		}

		return tx.Bucket(bucketMeta).Put(keyCurrentRevision, int64ToBytes(rev))
	})
	if err != nil {
		// Rebuild the index from disk so it matches what was committed.
		h.index.Clear(false)
		if loadErr := h.load(); loadErr != nil {
			return 0, errors.Join(err, loadErr)
		}
		return 0, fmt.Errorf("record run: %w", err)
	}

	h.currentRev = rev
	return rev, nil
}

// applyReport updates the index and returns the states that changed.
func (h *History) applyReport(report finding.Report, rev int64) []*KeyState {
	seenAt := report.StartedAt
	if seenAt.IsZero() {
		seenAt = time.Now()
	}

	var changed []*KeyState
	for _, f := range report.Findings {
		state, found := h.index.Get(&KeyState{ResourceARN: f.ResourceARN})
		if !found || !state.Public {
			state = &KeyState{
				ResourceARN:  f.ResourceARN,
				FirstSeenRev: rev,
				FirstSeen:    seenAt,
			}
		}
		state.Public = true
		state.ResolvedRev = 0
		state.LastSeenRev = rev
		state.LastSeen = seenAt
		state.Finding = f
		h.index.ReplaceOrInsert(state)
		changed = append(changed, state)
	}

	res := report.Resolution()
	h.index.Ascend(func(state *KeyState) bool {
		if state.Public && res.Resolved(state.ResourceARN) {
			state.Public = false
			state.ResolvedRev = rev
			changed = append(changed, state)
		}
		return true
	})

	return changed
}

// Active returns the findings for keys currently public, ordered by ARN.
func (h *History) Active() []finding.Finding {
	h.mu.RLock()
	defer h.mu.RUnlock()

	active := make([]finding.Finding, 0)
	h.index.Ascend(func(state *KeyState) bool {
		if state.Public {
			active = append(active, state.Finding)
		}
		return true
	})
	return active
}

// Get returns the recorded state of a key.
func (h *History) Get(arn string) (KeyState, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	state, found := h.index.Get(&KeyState{ResourceARN: arn})
	if !found {
		return KeyState{}, fmt.Errorf("%s: %w", arn, ErrKeyNotFound)
	}
	return *state, nil
}

// Runs returns the stored run summaries, oldest first.
func (h *History) Runs() ([]RunRecord, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var runs []RunRecord
	err := h.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRuns).ForEach(func(_, v []byte) error {
			var run RunRecord
			if err := json.Unmarshal(v, &run); err != nil {
				return err
			}
			runs = append(runs, run)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("read runs: %w", err)
	}
	return runs, nil
}

// CurrentRevision returns the revision of the last recorded run.
func (h *History) CurrentRevision() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.currentRev
}

// Compact removes run records older than the last keepRuns runs.
// Key state is kept.
func (h *History) Compact(keepRuns int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	cutoff := h.currentRev - keepRuns
	if cutoff <= 0 {
		return nil
	}

	return h.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketRuns)
		c := bucket.Cursor()

		var toDelete [][]byte
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if parseRunKey(k) <= cutoff {
				toDelete = append(toDelete, k)
			}
		}

		for _, key := range toDelete {
			if err := bucket.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

// load reads the revision and rebuilds the index from disk.
func (h *History) load() error {
	return h.db.View(func(tx *bbolt.Tx) error {
		if data := tx.Bucket(bucketMeta).Get(keyCurrentRevision); data != nil {
			h.currentRev = bytesToInt64(data)
		}

		return tx.Bucket(bucketKeys).ForEach(func(k, v []byte) error {
			var state KeyState
			if err := json.Unmarshal(v, &state); err != nil {
				return fmt.Errorf("decode key %s: %w", k, err)
			}
			h.index.ReplaceOrInsert(&state)
			return nil
		})
	})
}

func makeRunKey(rev int64) []byte {
	return []byte(fmt.Sprintf("%016d", rev))
}

func parseRunKey(key []byte) int64 {
	return bytesToInt64(key)
}

func int64ToBytes(n int64) []byte {
	return []byte(fmt.Sprintf("%d", n))
}

func bytesToInt64(b []byte) int64 {
	var n int64
	_, _ = fmt.Sscanf(string(b), "%d", &n)
	return n
}
