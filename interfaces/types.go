// Package interfaces defines the shared types and contracts between the
// identity service, the registration ledger, and the workload driver,
// without implementation details.
package interfaces

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ruteri/tdx-identity-backend/cryptoutils"
)

type Pubkey = cryptoutils.Pubkey
type Signature = cryptoutils.Signature
type OwnerToken = cryptoutils.OwnerToken

// State is the position of an instance in the delegation progression.
// It only ever moves forward, one step at a time.
type State int

const (
	StateFresh State = iota
	StateOperatorRegistered
	StateOwnerRegistered
	StateWorkloadConfigured
	StateWorkloadExposed
)

var stateNames = map[State]string{
	StateFresh:              "fresh",
	StateOperatorRegistered: "operator_registered",
	StateOwnerRegistered:    "owner_registered",
	StateWorkloadConfigured: "workload_configured",
	StateWorkloadExposed:    "workload_exposed",
}

// String returns the wire name of the state.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// Valid reports whether the state is one of the five defined states.
func (s State) Valid() bool {
	_, ok := stateNames[s]
	return ok
}

// Next returns the successor state. The terminal state is its own successor.
func (s State) Next() State {
	if s >= StateWorkloadExposed {
		return StateWorkloadExposed
	}
	return s + 1
}

// MarshalJSON encodes the state by name.
func (s State) MarshalJSON() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid state %d", int(s))
	}
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a state name.
func (s *State) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for state, n := range stateNames {
		if n == name {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", name)
}

// OperatorRecord is committed by the operator-registration transition.
// The owner token is derived from the operator key and the instance private
// key on demand, never stored.
type OperatorRecord struct {
	OperatorPubkey Pubkey `json:"operator_pubkey"`
}

// OwnerRecord is committed by the owner-registration transition.
type OwnerRecord struct {
	OwnerPubkey Pubkey `json:"owner_pubkey"`
}

// WorkloadDescriptor describes the owner's container workload. VolumeSecret
// is the owner-supplied material the encrypted-volume root key is derived
// from; the instance never learns a key the owner cannot reproduce.
type WorkloadDescriptor struct {
	Image        string            `json:"image"`
	Command      []string          `json:"command"`
	Env          map[string]string `json:"env"`
	Port         uint16            `json:"port"`
	VolumeSecret hexutil.Bytes     `json:"volume_secret"`
}

// Validate checks the descriptor fields the driver depends on.
func (d *WorkloadDescriptor) Validate() error {
	if d.Image == "" {
		return fmt.Errorf("%w: missing image reference", ErrConfigInvalid)
	}
	if d.Port == 0 {
		return fmt.Errorf("%w: missing exposed port", ErrConfigInvalid)
	}
	if len(d.VolumeSecret) == 0 {
		return fmt.Errorf("%w: missing volume secret", ErrConfigInvalid)
	}
	return nil
}

// CanonicalBytes returns the deterministic serialization the owner signs
// over: length-prefixed fields in fixed order, env entries sorted by key.
func (d *WorkloadDescriptor) CanonicalBytes() []byte {
	var out []byte
	appendField := func(f []byte) {
		var l [4]byte
		binary.BigEndian.PutUint32(l[:], uint32(len(f)))
		out = append(out, l[:]...)
		out = append(out, f...)
	}

	appendField([]byte(d.Image))

	var p [2]byte
	binary.BigEndian.PutUint16(p[:], uint16(len(d.Command)))
	out = append(out, p[:]...)
	for _, arg := range d.Command {
		appendField([]byte(arg))
	}

	keys := make([]string, 0, len(d.Env))
	for k := range d.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	binary.BigEndian.PutUint16(p[:], uint16(len(keys)))
	out = append(out, p[:]...)
	for _, k := range keys {
		appendField([]byte(k))
		appendField([]byte(d.Env[k]))
	}

	binary.BigEndian.PutUint16(p[:], d.Port)
	out = append(out, p[:]...)
	appendField(d.VolumeSecret)

	return out
}

// Hash returns the SHA-256 of the canonical serialization.
func (d *WorkloadDescriptor) Hash() [32]byte {
	return sha256.Sum256(d.CanonicalBytes())
}

// LedgerEntry is the registry-side record for one instance.
type LedgerEntry struct {
	InstancePubkey Pubkey        `json:"instance_pubkey"`
	Quote          hexutil.Bytes `json:"quote"`
	OperatorPubkey Pubkey        `json:"operator_pubkey"`
	OwnerPubkey    *Pubkey       `json:"owner_pubkey,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}
