package identity

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ruteri/tdx-identity-backend/cryptoutils"
	"github.com/ruteri/tdx-identity-backend/interfaces"
)

const (
	instanceKeyFile = "instance.key"
	recordFile      = "state.json"
)

// Record is the single persisted image of the identity side: the state tag
// plus the keys and workload descriptor committed so far. The owner token is
// never part of it; it is re-derived from the instance key.
type Record struct {
	State    interfaces.State               `json:"state"`
	Operator *interfaces.OperatorRecord     `json:"operator,omitempty"`
	Owner    *interfaces.OwnerRecord        `json:"owner,omitempty"`
	Workload *interfaces.WorkloadDescriptor `json:"workload,omitempty"`
}

// checkConsistency verifies the records present match the state tag. A
// record that claims a state without the data committed by the transitions
// leading there is corrupt.
func (r *Record) checkConsistency() error {
	if !r.State.Valid() {
		return fmt.Errorf("%w: invalid state tag", interfaces.ErrCorruption)
	}
	if r.State >= interfaces.StateOperatorRegistered && r.Operator == nil {
		return fmt.Errorf("%w: state %s without operator record", interfaces.ErrCorruption, r.State)
	}
	if r.State >= interfaces.StateOwnerRegistered && r.Owner == nil {
		return fmt.Errorf("%w: state %s without owner record", interfaces.ErrCorruption, r.State)
	}
	if r.State >= interfaces.StateWorkloadConfigured && r.Workload == nil {
		return fmt.Errorf("%w: state %s without workload descriptor", interfaces.ErrCorruption, r.State)
	}
	if r.State < interfaces.StateOperatorRegistered && r.Operator != nil ||
		r.State < interfaces.StateOwnerRegistered && r.Owner != nil ||
		r.State < interfaces.StateWorkloadConfigured && r.Workload != nil {
		return fmt.Errorf("%w: state %s with records from a later state", interfaces.ErrCorruption, r.State)
	}
	return nil
}

// Store persists the instance key and the state record under a configurable
// root. All writes are atomic via write-temp-then-rename.
type Store struct {
	root string
}

// NewStore creates the persistence root if needed.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Store{root: root}, nil
}

// LoadOrCreateKey returns the persisted instance key, generating and
// persisting a fresh one atomically on first boot.
func (s *Store) LoadOrCreateKey() (cryptoutils.SigningKey, error) {
	path := filepath.Join(s.root, instanceKeyFile)

	seed, err := os.ReadFile(path)
	if err == nil {
		key, err := cryptoutils.SigningKeyFromSeed(seed)
		if err != nil {
			return cryptoutils.SigningKey{}, fmt.Errorf("%w: instance key: %v", interfaces.ErrCorruption, err)
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return cryptoutils.SigningKey{}, fmt.Errorf("read instance key: %w", err)
	}

	seed = make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return cryptoutils.SigningKey{}, fmt.Errorf("generate instance key: %w", err)
	}
	if err := atomicWrite(path, seed, 0o600); err != nil {
		return cryptoutils.SigningKey{}, fmt.Errorf("write instance key: %w", err)
	}
	return cryptoutils.SigningKeyFromSeed(seed)
}

// LoadRecord returns the persisted record, or nil if none exists yet.
// A record that fails to parse or is internally inconsistent is fatal.
func (s *Store) LoadRecord() (*Record, error) {
	path := filepath.Join(s.root, recordFile)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state record: %w", err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("%w: state record: %v", interfaces.ErrCorruption, err)
	}
	if err := record.checkConsistency(); err != nil {
		return nil, err
	}
	return &record, nil
}

// SaveRecord atomically replaces the persisted record.
func (s *Store) SaveRecord(record *Record) error {
	if err := record.checkConsistency(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state record: %w", err)
	}
	return atomicWrite(filepath.Join(s.root, recordFile), data, 0o644)
}

func atomicWrite(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

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
	return os.Rename(tmp.Name(), path)
}
