// Package config loads settings from the environment. Keys are accepted in
// both lower_case and UPPER_CASE form.
package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Settings keeps all configuration options.
type Settings struct {
	NodeURL            string // ws:// enables push watching, http:// forces polling
	RelayURL           string
	FlashbotsAuthPKHex string // optional; the wallet key signs relay auth when unset
	WalletPKHex        string // compromised wallet
	SafeAddressHex     string // sweep destination

	MinSweepWei        string
	TargetBlocks       int
	MaxPriorityGwei    int64
	TipMul             float64
	PollIntervalMs     int
	ReconnectAttempts  int
	BreakerThreshold   int
	BreakerRecoverySec int
	SubmitTimeoutSec   int
	Simulate           bool
	DryRun             bool
	MetricsAddr        string
}

// Load reads settings from the environment with typed defaults.
func Load() Settings {
	st := Settings{}
	st.NodeURL = get([]string{"node_url", "NODE_URL", "rpc_url", "RPC_URL"}, "wss://eth.llamarpc.com")
	st.RelayURL = get([]string{"relay_url", "RELAY_URL"}, "https://relay.flashbots.net")
	st.FlashbotsAuthPKHex = get([]string{"flashbots_auth_pk", "FLASHBOTS_AUTH_PK"}, "")
	st.WalletPKHex = get([]string{"wallet_private_key", "WALLET_PRIVATE_KEY"}, "")
	st.SafeAddressHex = get([]string{"safe_address", "SAFE_ADDRESS"}, "")

	st.MinSweepWei = get([]string{"min_sweep_wei", "MIN_SWEEP_WEI"}, "0")
	st.TargetBlocks = getInt([]string{"target_blocks", "TARGET_BLOCKS"}, 5)
	st.MaxPriorityGwei = getInt64([]string{"max_priority_gwei", "MAX_PRIORITY_GWEI"}, 3)
	st.TipMul = getFloat([]string{"tip_mul", "TIP_MUL"}, 1.25)
	st.PollIntervalMs = getInt([]string{"poll_interval_ms", "POLL_INTERVAL_MS"}, 5000)
	st.ReconnectAttempts = getInt([]string{"reconnect_attempts", "RECONNECT_ATTEMPTS"}, 5)
	st.BreakerThreshold = getInt([]string{"breaker_threshold", "BREAKER_THRESHOLD"}, 5)
	st.BreakerRecoverySec = getInt([]string{"breaker_recovery_sec", "BREAKER_RECOVERY_SEC"}, 30)
	st.SubmitTimeoutSec = getInt([]string{"submit_timeout_sec", "SUBMIT_TIMEOUT_SEC"}, 45)
	st.Simulate = getBool([]string{"simulate", "SIMULATE"}, false)
	st.DryRun = getBool([]string{"dry_run", "DRY_RUN"}, false)
	st.MetricsAddr = get([]string{"metrics_addr", "METRICS_ADDR"}, "")

	return st
}

// Validate checks the fields whose malformation is fatal at startup.
func (s Settings) Validate() error {
	if strings.TrimSpace(s.NodeURL) == "" {
		return fmt.Errorf("NODE_URL is required")
	}
	if strings.TrimSpace(s.RelayURL) == "" {
		return fmt.Errorf("RELAY_URL is required")
	}
	if strings.TrimSpace(s.WalletPKHex) == "" {
		return fmt.Errorf("WALLET_PRIVATE_KEY is required")
	}
	if !common.IsHexAddress(s.SafeAddressHex) {
		return fmt.Errorf("SAFE_ADDRESS %q is not a valid address", s.SafeAddressHex)
	}
	if _, ok := s.MinSweep(); !ok {
		return fmt.Errorf("MIN_SWEEP_WEI %q is not a valid integer", s.MinSweepWei)
	}
	if s.TargetBlocks <= 0 {
		return fmt.Errorf("TARGET_BLOCKS must be positive")
	}
	return nil
}

// SafeAddress returns the parsed sweep destination. Call Validate first.
func (s Settings) SafeAddress() common.Address {
	return common.HexToAddress(s.SafeAddressHex)
}

// MinSweep parses the economic floor in wei (decimal or 0x hex).
func (s Settings) MinSweep() (*big.Int, bool) {
	v := strings.TrimSpace(s.MinSweepWei)
	if strings.HasPrefix(v, "0x") {
		return new(big.Int).SetString(v[2:], 16)
	}
	return new(big.Int).SetString(v, 10)
}

// WantsPush reports whether the node URL supports head subscriptions.
func (s Settings) WantsPush() bool {
	u := strings.ToLower(strings.TrimSpace(s.NodeURL))
	return strings.HasPrefix(u, "ws://") || strings.HasPrefix(u, "wss://")
}

func get(keys []string, def string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return def
}

func getInt(keys []string, def int) int {
	s := get(keys, "")
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
		return n
	}
	return def
}

func getInt64(keys []string, def int64) int64 {
	s := get(keys, "")
	if s == "" {
		return def
	}
	if n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
		return n
	}
	return def
}

func getFloat(keys []string, def float64) float64 {
	s := get(keys, "")
	if s == "" {
		return def
	}
	if n, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
		return n
	}
	return def
}

func getBool(keys []string, def bool) bool {
	s := strings.ToLower(get(keys, ""))
	if s == "" {
		return def
	}
	return s == "1" || s == "true" || s == "yes" || s == "on"
}

// MaskSecret shortens key material for log output.
func MaskSecret(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "(unset)"
	}
	if len(s) <= 10 {
		return "****"
	}
	return s[:6] + "..." + s[len(s)-4:]
}
