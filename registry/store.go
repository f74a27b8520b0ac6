package registry

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ruteri/tdx-identity-backend/cryptoutils"
	"github.com/ruteri/tdx-identity-backend/interfaces"
)

// Store persists ledger entries in a SQLite database keyed by instance
// public key. SQLite provides the durable single-writer semantics per key;
// callers serialize read-modify-write sequences on the same key themselves.
type Store struct {
	db *sql.DB
}

// NewStore opens or creates the ledger database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL keeps readers off the writer's back
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS ledger_entries (
		instance_pubkey BLOB PRIMARY KEY,
		quote BLOB NOT NULL,
		operator_pubkey BLOB NOT NULL,
		owner_pubkey BLOB,
		created_at INTEGER NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("exec migration: %w", err)
	}
	return nil
}

// Get retrieves the entry for an instance public key, or
// interfaces.ErrNotFound.
func (s *Store) Get(instance interfaces.Pubkey) (*interfaces.LedgerEntry, error) {
	var (
		quote     []byte
		operator  []byte
		owner     []byte
		createdAt int64
	)
	err := s.db.QueryRow(
		`SELECT quote, operator_pubkey, owner_pubkey, created_at FROM ledger_entries WHERE instance_pubkey = ?`,
		instance.Bytes(),
	).Scan(&quote, &operator, &owner, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger entry: %w", err)
	}

	operatorPk, err := cryptoutils.NewPubkeyFromBytes(operator)
	if err != nil {
		return nil, fmt.Errorf("%w: stored operator key: %v", interfaces.ErrCorruption, err)
	}

	entry := &interfaces.LedgerEntry{
		InstancePubkey: instance,
		Quote:          quote,
		OperatorPubkey: operatorPk,
		CreatedAt:      time.Unix(createdAt, 0).UTC(),
	}
	if owner != nil {
		ownerPk, err := cryptoutils.NewPubkeyFromBytes(owner)
		if err != nil {
			return nil, fmt.Errorf("%w: stored owner key: %v", interfaces.ErrCorruption, err)
		}
		entry.OwnerPubkey = &ownerPk
	}
	return entry, nil
}

// Insert stores a new entry. The caller has already checked for conflicts
// under the per-key lock.
func (s *Store) Insert(entry *interfaces.LedgerEntry) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO ledger_entries (instance_pubkey, quote, operator_pubkey, owner_pubkey, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		entry.InstancePubkey.Bytes(), []byte(entry.Quote), entry.OperatorPubkey.Bytes(), nil, entry.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

// SetOwner fills in the owner key on an existing entry.
func (s *Store) SetOwner(instance interfaces.Pubkey, owner interfaces.Pubkey) error {
	res, err := s.db.Exec(
		`UPDATE ledger_entries SET owner_pubkey = ? WHERE instance_pubkey = ?`,
		owner.Bytes(), instance.Bytes(),
	)
	if err != nil {
		return fmt.Errorf("set owner: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}
