package identity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/tdx-identity-backend/interfaces"
)

func TestLoadOrCreateKeyStable(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	key, err := store.LoadOrCreateKey()
	require.NoError(t, err)
	require.True(t, key.Valid())

	// The same key comes back on every subsequent load.
	again, err := store.LoadOrCreateKey()
	require.NoError(t, err)
	assert.Equal(t, key.Public(), again.Public())
}

func TestLoadOrCreateKeyCorrupt(t *testing.T) {
	root := t.TempDir()
	store, err := NewStore(root)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(root, "instance.key"), []byte("short"), 0o600))

	_, err = store.LoadOrCreateKey()
	assert.ErrorIs(t, err, interfaces.ErrCorruption)
}

func TestRecordRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	// No record yet.
	record, err := store.LoadRecord()
	require.NoError(t, err)
	assert.Nil(t, record)

	key, err := store.LoadOrCreateKey()
	require.NoError(t, err)

	saved := &Record{
		State:    interfaces.StateOperatorRegistered,
		Operator: &interfaces.OperatorRecord{OperatorPubkey: key.Public()},
	}
	require.NoError(t, store.SaveRecord(saved))

	loaded, err := store.LoadRecord()
	require.NoError(t, err)
	assert.Equal(t, saved, loaded)
}

func TestRecordCorruptJSON(t *testing.T) {
	root := t.TempDir()
	store, err := NewStore(root)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(root, "state.json"), []byte("{not json"), 0o644))

	_, err = store.LoadRecord()
	assert.ErrorIs(t, err, interfaces.ErrCorruption)
}

func TestRecordInconsistentState(t *testing.T) {
	root := t.TempDir()
	store, err := NewStore(root)
	require.NoError(t, err)

	// Claims owner_registered but carries no operator or owner record.
	require.NoError(t, os.WriteFile(filepath.Join(root, "state.json"), []byte(`{"state":"owner_registered"}`), 0o644))

	_, err = store.LoadRecord()
	assert.ErrorIs(t, err, interfaces.ErrCorruption)
}

func TestSaveRecordRejectsInconsistent(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	err = store.SaveRecord(&Record{State: interfaces.StateWorkloadConfigured})
	assert.ErrorIs(t, err, interfaces.ErrCorruption)
}
