package config

import (
	"path/filepath"
	"testing"

	"github.com/ledgerwatch/immuxdb/ecc"
	"github.com/stretchr/testify/require"
)

func TestDefaultHonorsEnvOverride(t *testing.T) {
	t.Setenv(EnvLogDir, "/tmp/immux-custom")
	prefs := Default()
	require.Equal(t, "/tmp/immux-custom", prefs.LogDir)
	require.Equal(t, ecc.Identity, prefs.ECCMode)
	require.EqualValues(t, DefaultHTTPPort, prefs.HTTPPort)
	require.EqualValues(t, DefaultTCPPort, prefs.TCPPort)
}

func TestApplyFlagsOverridesOnlySetFields(t *testing.T) {
	base := Default()
	merged, err := ApplyFlags(base, Flags{
		DataDir:  "/tmp/immux",
		TCPPort:  8888,
		HTTPPort: 2939,
		ECCMode:  "TMR",
	})
	require.NoError(t, err)
	require.Equal(t, "/tmp/immux", merged.LogDir)
	require.EqualValues(t, 8888, merged.TCPPort)
	require.EqualValues(t, 2939, merged.HTTPPort)
	require.Equal(t, ecc.TMR, merged.ECCMode)
	require.Equal(t, base.MaxKeySize, merged.MaxKeySize)
}

func TestApplyFlagsParsesHumanMaxKeySize(t *testing.T) {
	merged, err := ApplyFlags(Default(), Flags{MaxKeySize: "16KB"})
	require.NoError(t, err)
	require.EqualValues(t, 16000, merged.MaxKeySize)
}

func TestApplyFlagsRejectsUnknownECCMode(t *testing.T) {
	_, err := ApplyFlags(Default(), Flags{ECCMode: "bogus"})
	require.Error(t, err)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	prefs := Default()
	prefs.LogDir = dir
	prefs.ECCMode = ecc.TMR
	prefs.HTTPPort = 1234

	require.NoError(t, Save(prefs))

	loaded, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, prefs, loaded)
}

func TestLoadWithoutSidecarReturnsDefaults(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "fresh")
	prefs, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, dir, prefs.LogDir)
	require.Equal(t, ecc.Identity, prefs.ECCMode)
}
