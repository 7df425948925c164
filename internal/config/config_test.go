package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func validSettings() Settings {
	s := Load()
	s.FlashbotsAuthPKHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	s.WalletPKHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	s.SafeAddressHex = "0x000000000000000000000000000000000000dEaD"
	return s
}

func TestLoadDefaults(t *testing.T) {
	s := Load()
	require.Equal(t, 5, s.TargetBlocks)
	require.Equal(t, int64(3), s.MaxPriorityGwei)
	require.Equal(t, 5000, s.PollIntervalMs)
	require.False(t, s.DryRun)
	require.Equal(t, "0", s.MinSweepWei)
}

func TestLoadReadsEnvBothCases(t *testing.T) {
	t.Setenv("TARGET_BLOCKS", "7")
	t.Setenv("tip_mul", "1.5")
	t.Setenv("DRY_RUN", "true")
	s := Load()
	require.Equal(t, 7, s.TargetBlocks)
	require.Equal(t, 1.5, s.TipMul)
	require.True(t, s.DryRun)
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("TARGET_BLOCKS", "many")
	s := Load()
	require.Equal(t, 5, s.TargetBlocks)
}

func TestValidate(t *testing.T) {
	require.NoError(t, validSettings().Validate())

	s := validSettings()
	s.WalletPKHex = ""
	require.Error(t, s.Validate())

	// the relay auth identity falls back to the wallet key
	s = validSettings()
	s.FlashbotsAuthPKHex = ""
	require.NoError(t, s.Validate())

	s = validSettings()
	s.SafeAddressHex = "not-an-address"
	require.Error(t, s.Validate())

	s = validSettings()
	s.MinSweepWei = "1.5e18"
	require.Error(t, s.Validate())

	s = validSettings()
	s.TargetBlocks = 0
	require.Error(t, s.Validate())
}

func TestMinSweepFormats(t *testing.T) {
	s := validSettings()

	s.MinSweepWei = "1000000000000000000"
	v, ok := s.MinSweep()
	require.True(t, ok)
	require.Equal(t, "1000000000000000000", v.String())

	s.MinSweepWei = "0xde0b6b3a7640000"
	v, ok = s.MinSweep()
	require.True(t, ok)
	require.Equal(t, "1000000000000000000", v.String())
}

func TestWantsPush(t *testing.T) {
	s := validSettings()
	s.NodeURL = "wss://eth.example.org"
	require.True(t, s.WantsPush())
	s.NodeURL = "https://eth.example.org"
	require.False(t, s.WantsPush())
}

func TestMaskSecret(t *testing.T) {
	require.Equal(t, "(unset)", MaskSecret(""))
	require.Equal(t, "****", MaskSecret("short"))
	m := MaskSecret("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	require.Equal(t, "4c0883...2318", m)
	require.NotContains(t, m, "6231471b")
}
