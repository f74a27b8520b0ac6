package interfaces

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateProgression(t *testing.T) {
	assert.Equal(t, StateOperatorRegistered, StateFresh.Next())
	assert.Equal(t, StateOwnerRegistered, StateOperatorRegistered.Next())
	assert.Equal(t, StateWorkloadConfigured, StateOwnerRegistered.Next())
	assert.Equal(t, StateWorkloadExposed, StateWorkloadConfigured.Next())

	// Terminal state.
	assert.Equal(t, StateWorkloadExposed, StateWorkloadExposed.Next())
}

func TestStateJSONRoundTrip(t *testing.T) {
	for _, state := range []State{StateFresh, StateOperatorRegistered, StateOwnerRegistered, StateWorkloadConfigured, StateWorkloadExposed} {
		data, err := json.Marshal(state)
		require.NoError(t, err)

		var decoded State
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, state, decoded)
	}

	var s State
	assert.Error(t, json.Unmarshal([]byte(`"nonsense"`), &s))
}

func TestDescriptorCanonicalBytes(t *testing.T) {
	desc := WorkloadDescriptor{
		Image:        "alpine",
		Command:      []string{"sh", "-c", "true"},
		Env:          map[string]string{"B": "2", "A": "1"},
		Port:         8080,
		VolumeSecret: []byte("material"),
	}

	// Stable across map iteration order.
	assert.Equal(t, desc.CanonicalBytes(), desc.CanonicalBytes())
	assert.Equal(t, desc.Hash(), desc.Hash())

	// Every field is bound into the hash.
	for _, mutate := range []func(*WorkloadDescriptor){
		func(d *WorkloadDescriptor) { d.Image = "debian" },
		func(d *WorkloadDescriptor) { d.Command = []string{"sh"} },
		func(d *WorkloadDescriptor) { d.Env = map[string]string{"A": "1"} },
		func(d *WorkloadDescriptor) { d.Port = 9090 },
		func(d *WorkloadDescriptor) { d.VolumeSecret = []byte("other") },
	} {
		mutated := desc
		mutate(&mutated)
		assert.NotEqual(t, desc.Hash(), mutated.Hash())
	}

	// Field boundaries are unambiguous.
	a := WorkloadDescriptor{Image: "ab", Command: []string{"c"}, Port: 1, VolumeSecret: []byte("s")}
	b := WorkloadDescriptor{Image: "a", Command: []string{"bc"}, Port: 1, VolumeSecret: []byte("s")}
	assert.NotEqual(t, a.Hash(), b.Hash())
}

func TestDescriptorValidate(t *testing.T) {
	valid := WorkloadDescriptor{Image: "alpine", Port: 8080, VolumeSecret: []byte("s")}
	require.NoError(t, valid.Validate())

	missingImage := valid
	missingImage.Image = ""
	assert.ErrorIs(t, missingImage.Validate(), ErrConfigInvalid)

	missingPort := valid
	missingPort.Port = 0
	assert.ErrorIs(t, missingPort.Validate(), ErrConfigInvalid)

	missingSecret := valid
	missingSecret.VolumeSecret = nil
	assert.ErrorIs(t, missingSecret.Validate(), ErrConfigInvalid)
}

func TestErrorTaxonomy(t *testing.T) {
	assert.Equal(t, http.StatusConflict, HTTPStatus(ErrWrongState))
	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(ErrBadSignature))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(ErrNotFound))
	assert.Equal(t, http.StatusBadGateway, HTTPStatus(ErrLedgerUnavailable))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(assert.AnError))

	// Wrapped kinds still map.
	wrapped := fmt.Errorf("context: %w", ErrBadToken)
	assert.Equal(t, ErrBadToken, ErrorKind(wrapped))
	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(wrapped))

	// Round trip through the wire representation.
	assert.Equal(t, ErrWrongState, KindFromString(ErrWrongState.Error()))
	assert.Nil(t, KindFromString("something else"))
}
