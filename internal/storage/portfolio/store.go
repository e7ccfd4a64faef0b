// Package portfolio persists the ledger state as a single JSON document.
package portfolio

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/btcagent/internal/domain"
)

const (
	DefaultStateDir = "./state"
	stateFileName   = "portfolio.json"
	stateDirEnv     = "BTCAGENT_STATE_DIR"
)

// ErrCorrupt is returned when the state file exists but cannot be decoded.
var ErrCorrupt = errors.New("portfolio state corrupt")

// Store reads and writes portfolio state atomically.
type Store struct {
	path string
}

// StateDir resolves the state directory, preferring the env override.
func StateDir(configured string) string {
	if dir := os.Getenv(stateDirEnv); dir != "" {
		return dir
	}
	if configured != "" {
		return configured
	}
	return DefaultStateDir
}

// NewStore creates a store under dir.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create state dir")
	}

	return &Store{path: filepath.Join(dir, stateFileName)}, nil
}

// Path returns the location of the state file.
func (s *Store) Path() string {
	return s.path
}

// Load reads the state. It returns (nil, nil) when nothing was saved yet and
// wraps ErrCorrupt when the file cannot be decoded.
func (s *Store) Load() (*domain.PortfolioState, error) {
	payload, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, errors.Wrap(err, "read portfolio state")
	}

	if len(payload) == 0 {
		return nil, nil
	}

	// Fields missing from the document keep their seed values, so "{}" and
	// "null" load as a fresh portfolio rather than a zero-cash one.
	state := domain.DefaultPortfolioState()
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, errors.Wrapf(ErrCorrupt, "decode %s: %v", s.path, err)
	}

	if state.CashUSD < 0 || state.BTC < 0 {
		return nil, errors.Wrapf(ErrCorrupt, "negative balances in %s", s.path)
	}

	return &state, nil
}

// Save writes state to disk atomically via temp file and rename.
func (s *Store) Save(state domain.PortfolioState) error {
	payload, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode portfolio state")
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return errors.Wrap(err, "write portfolio state temp file")
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, "persist portfolio state")
	}

	return nil
}
