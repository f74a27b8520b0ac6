package cryptoutils

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportDataForPubkey(t *testing.T) {
	key, err := NewSigningKey()
	require.NoError(t, err)
	pk := key.Public()

	reportData := ReportDataForPubkey(pk)

	// Key bytes at offset 0, remainder zero.
	assert.Equal(t, pk.Bytes(), reportData[:len(pk)])
	assert.True(t, bytes.Equal(reportData[len(pk):], make([]byte, ReportDataSize-len(pk))))

	// Injective over the key.
	otherKey, err := NewSigningKey()
	require.NoError(t, err)
	otherReportData := ReportDataForPubkey(otherKey.Public())
	assert.NotEqual(t, reportData, otherReportData)
}
