package recording

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeader_CompatibleWith_SameVersionIsCompatible(t *testing.T) {
	h := Header{FormatVersion: Version{Major: 1, Minor: 2, Patch: 3}}
	ok, warnings := h.CompatibleWith(Version{Major: 1, Minor: 2, Patch: 9})
	assert.True(t, ok)
	assert.Empty(t, warnings)
}

func TestHeader_CompatibleWith_MinorOffByOneWarnsButCompatible(t *testing.T) {
	h := Header{FormatVersion: Version{Major: 1, Minor: 3, Patch: 0}}
	ok, warnings := h.CompatibleWith(Version{Major: 1, Minor: 2, Patch: 0})
	assert.True(t, ok)
	assert.NotEmpty(t, warnings)
}

func TestHeader_CompatibleWith_MinorOffByTwoIsIncompatible(t *testing.T) {
	h := Header{FormatVersion: Version{Major: 1, Minor: 4, Patch: 0}}
	ok, _ := h.CompatibleWith(Version{Major: 1, Minor: 2, Patch: 0})
	assert.False(t, ok)
}

func TestHeader_CompatibleWith_DifferentMajorIsIncompatible(t *testing.T) {
	h := Header{FormatVersion: Version{Major: 2, Minor: 0, Patch: 0}}
	ok, _ := h.CompatibleWith(Version{Major: 1, Minor: 0, Patch: 0})
	assert.False(t, ok)
}

func TestHeader_MarshalUnmarshalRoundTrip(t *testing.T) {
	h := Header{
		FormatVersion:      Version{Major: 1, Minor: 0, Patch: 0},
		ToolVersion:        "1.0.0",
		PlatformSDKVersion: "sdk-3.2.1",
		LanguageRuntimeVer: "go1.24.0",
		CreatedAtEpochMs:   1690000000000,
		AppIdentifier:      "demo-app",
		ProcessName:        "demo-host",
	}

	data, err := h.Marshal()
	require.NoError(t, err)

	decoded, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, h, decoded)
}

func TestUnmarshal_RejectsMalformedHeader(t *testing.T) {
	_, err := Unmarshal([]byte("not json"))
	assert.Error(t, err)
}
