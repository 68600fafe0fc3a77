package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"perp-pilot/models"
)

const (
	riskFile     = "risk_state.json"
	positionFile = "position.json"
)

// Store persists RiskState and the open Position as JSON files under one
// directory. Writes are atomic (temp file, fsync, rename) so a crash can
// never leave a partially written file to be read back.
type Store struct {
	dir string
}

// New creates the state directory if needed and returns a store.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// SaveRiskState persists the risk ledger.
func (s *Store) SaveRiskState(state models.RiskState) error {
	return s.writeJSON(riskFile, state)
}

// LoadRiskState loads the persisted ledger. A missing file returns the zero
// state with found=false; a corrupt file also returns the safe zero state but
// reports the corruption so the caller can alert loudly.
func (s *Store) LoadRiskState() (state models.RiskState, found bool, err error) {
	raw, readErr := os.ReadFile(filepath.Join(s.dir, riskFile))
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return models.RiskState{}, false, nil
		}
		return models.RiskState{}, false, fmt.Errorf("store: read risk state: %w", readErr)
	}
	if jsonErr := json.Unmarshal(raw, &state); jsonErr != nil {
		state = models.RiskState{}
		if s.readBackup(riskFile, &state) {
			return state, true, nil
		}
		return models.RiskState{}, false, fmt.Errorf("store: corrupt risk state: %w", jsonErr)
	}
	return state, true, nil
}

// SavePosition persists the open position.
func (s *Store) SavePosition(pos *models.Position) error {
	return s.writeJSON(positionFile, pos)
}

// LoadPosition loads the persisted position, nil when flat. A corrupt file
// returns nil with an error; the caller treats that as flat and alerts.
func (s *Store) LoadPosition() (*models.Position, error) {
	raw, err := os.ReadFile(filepath.Join(s.dir, positionFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: read position: %w", err)
	}
	var pos models.Position
	if err := json.Unmarshal(raw, &pos); err != nil {
		pos = models.Position{}
		if s.readBackup(positionFile, &pos) {
			return &pos, nil
		}
		return nil, fmt.Errorf("store: corrupt position: %w", err)
	}
	return &pos, nil
}

// readBackup recovers the previous good copy kept next to the primary.
func (s *Store) readBackup(name string, v interface{}) bool {
	raw, err := os.ReadFile(filepath.Join(s.dir, name+".bak"))
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, v) == nil
}

// ClearPosition removes the persisted position after a close.
func (s *Store) ClearPosition() error {
	err := os.Remove(filepath.Join(s.dir, positionFile))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("store: clear position: %w", err)
	}
	return nil
}

func (s *Store) writeJSON(name string, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal %s: %w", name, err)
	}
	path := filepath.Join(s.dir, name)
	// Preserve the previous good copy before replacing the primary; loads
	// fall back to it when the primary turns out corrupt.
	if prev, readErr := os.ReadFile(path); readErr == nil {
		_ = os.WriteFile(path+".bak", prev, 0o600)
	}
	return writeFileAtomic(path, b, 0o600)
}

// writeFileAtomic writes data to path atomically (tmp file + fsync + rename).
// The parent directory is also fsynced to harden the rename durability.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}

	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
