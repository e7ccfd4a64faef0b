// Package decisions journals per-tick decision traces and equity snapshots in a WAL.
package decisions

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/btcagent/internal/domain"
	"github.com/vadiminshakov/gowal"
)

const (
	DefaultDir   = "./state/journal"
	segmentLimit = 1000
	maxSegments  = 100

	traceKeyPrefix  = "trace_"
	equityKeyPrefix = "equity_"
)

var errNotInitialized = errors.New("decision journal is not initialized")

// WALStore persists decision traces and equity snapshots in one WAL.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

// NewWALStore opens or creates the journal under dir.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = DefaultDir
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           traceKeyPrefix,
		SegmentThreshold: segmentLimit,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init decision journal WAL")
	}

	return &WALStore{wal: wal}, nil
}

// SaveTrace appends a tick trace.
func (s *WALStore) SaveTrace(trace domain.DecisionTrace) error {
	if trace.Pair == "" {
		return fmt.Errorf("decision trace pair is required")
	}
	return s.write(traceKeyPrefix+trace.Pair, trace)
}

// SaveEquity appends an equity snapshot.
func (s *WALStore) SaveEquity(snap domain.EquitySnapshot) error {
	if snap.Pair == "" {
		return fmt.Errorf("equity snapshot pair is required")
	}
	return s.write(equityKeyPrefix+snap.Pair, snap)
}

func (s *WALStore) write(key string, v any) error {
	if s == nil || s.wal == nil {
		return errNotInitialized
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "marshal %s", key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	nextIndex := s.wal.CurrentIndex() + 1
	return s.wal.Write(nextIndex, key, payload)
}

// TracesAfter returns traces written after the given WAL index.
func (s *WALStore) TracesAfter(index uint64) ([]domain.DecisionTraceRecord, error) {
	var out []domain.DecisionTraceRecord
	err := s.scan(index, traceKeyPrefix, func(idx uint64, payload []byte) error {
		var trace domain.DecisionTrace
		if err := json.Unmarshal(payload, &trace); err != nil {
			return errors.Wrap(err, "decode decision trace")
		}
		out = append(out, domain.DecisionTraceRecord{Index: idx, Trace: trace})
		return nil
	})
	return out, err
}

// EquityAfter returns equity snapshots written after the given WAL index.
func (s *WALStore) EquityAfter(index uint64) ([]domain.EquitySnapshotRecord, error) {
	var out []domain.EquitySnapshotRecord
	err := s.scan(index, equityKeyPrefix, func(idx uint64, payload []byte) error {
		var snap domain.EquitySnapshot
		if err := json.Unmarshal(payload, &snap); err != nil {
			return errors.Wrap(err, "decode equity snapshot")
		}
		out = append(out, domain.EquitySnapshotRecord{Index: idx, Snapshot: snap})
		return nil
	})
	return out, err
}

// LastTraces returns up to n most recent traces, oldest first.
func (s *WALStore) LastTraces(n int) ([]domain.DecisionTraceRecord, error) {
	all, err := s.TracesAfter(0)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

func (s *WALStore) scan(index uint64, prefix string, fn func(idx uint64, payload []byte) error) error {
	if s == nil || s.wal == nil {
		return errNotInitialized
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	current := s.wal.CurrentIndex()
	for idx := index + 1; idx <= current; idx++ {
		key, payload, err := s.wal.Get(idx)
		if err != nil {
			// evicted segment
			continue
		}
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if err := fn(idx, payload); err != nil {
			return err
		}
	}

	return nil
}

// CurrentIndex returns the latest WAL index stored.
func (s *WALStore) CurrentIndex() uint64 {
	if s == nil || s.wal == nil {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.wal.CurrentIndex()
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errNotInitialized
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
