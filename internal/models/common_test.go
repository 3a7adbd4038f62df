package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeScope(t *testing.T) {
	scope := NormalizeScope([]string{" vitals", "prescriptions", "vitals", "", "  "})

	assert.Equal(t, StringList{"prescriptions", "vitals"}, scope)
}

func TestScopeKeyCanonicalizesEquivalentScopes(t *testing.T) {
	a := ScopeKey(NormalizeScope([]string{"vitals", "prescriptions"}))
	b := ScopeKey(NormalizeScope([]string{"prescriptions", " vitals", "vitals"}))

	assert.Equal(t, a, b)
	assert.Equal(t, "prescriptions|vitals", a)
}

func TestStringListScanValueRoundTrip(t *testing.T) {
	original := StringList{"vitals", "lab-results"}

	value, err := original.Value()
	require.NoError(t, err)

	var scanned StringList
	require.NoError(t, scanned.Scan(value))
	assert.Equal(t, original, scanned)
}

func TestStringListScanNil(t *testing.T) {
	var s StringList
	require.NoError(t, s.Scan(nil))
	assert.Nil(t, s)
}
