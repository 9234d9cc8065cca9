// Package config resolves where the store keeps its data and how it
// behaves, layering environment variables, a preferences sidecar, and
// CLI flags in that order (§6 "Environment / config").
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/c2h5oh/datasize"
	"github.com/ledgerwatch/immuxdb/ecc"
)

const (
	// EnvLogDir overrides the data directory.
	EnvLogDir = "IMMUX_LOG_DIR"
	// homeSubdir is where the data directory lives under $HOME when
	// EnvLogDir is unset.
	homeSubdir = ".immux"

	// DefaultMaxKeySize is the default ceiling on a single key's length.
	DefaultMaxKeySize = 8 * 1024

	// DefaultHTTPPort and DefaultTCPPort match the ports the original
	// command-line server bound by default.
	DefaultHTTPPort = 6324
	DefaultTCPPort  = 5213

	preferencesFileName = "preferences.json"
)

// Preferences holds the resolved configuration for one store instance.
type Preferences struct {
	LogDir     string   `json:"log_dir"`
	ECCMode    ecc.Mode `json:"ecc_mode"`
	HTTPPort   uint16   `json:"http_port"`
	TCPPort    uint16   `json:"tcp_port"`
	MaxKeySize uint64   `json:"max_key_size"`
}

// Default returns the preferences a fresh store would start with: data
// directory from IMMUX_LOG_DIR or $HOME/.immux, Identity ECC, and the
// default ports and key-size ceiling.
func Default() Preferences {
	return Preferences{
		LogDir:     defaultLogDir(),
		ECCMode:    ecc.Identity,
		HTTPPort:   DefaultHTTPPort,
		TCPPort:    DefaultTCPPort,
		MaxKeySize: DefaultMaxKeySize,
	}
}

func defaultLogDir() string {
	if dir := os.Getenv(EnvLogDir); dir != "" {
		return dir
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, homeSubdir)
	}
	return filepath.Join(os.TempDir(), "immux")
}

// Flags is the set of CLI overrides a binary accepts, mirroring
// --data-dir, --ecc-mode, --http-port, --tcp-port and --max-key-size
// from the original command-line server.
type Flags struct {
	DataDir    string
	ECCMode    string
	HTTPPort   uint16
	TCPPort    uint16
	MaxKeySize string
}

// ApplyFlags layers non-zero-valued flags on top of prefs, returning the
// merged result. An empty field in flags leaves the corresponding
// preference untouched.
func ApplyFlags(prefs Preferences, flags Flags) (Preferences, error) {
	if flags.DataDir != "" {
		prefs.LogDir = flags.DataDir
	}
	if flags.ECCMode != "" {
		switch flags.ECCMode {
		case "TMR":
			prefs.ECCMode = ecc.TMR
		case "Identity":
			prefs.ECCMode = ecc.Identity
		default:
			return Preferences{}, fmt.Errorf("config: unknown ecc-mode %q", flags.ECCMode)
		}
	}
	if flags.HTTPPort != 0 {
		prefs.HTTPPort = flags.HTTPPort
	}
	if flags.TCPPort != 0 {
		prefs.TCPPort = flags.TCPPort
	}
	if flags.MaxKeySize != "" {
		var size datasize.ByteSize
		if err := size.UnmarshalText([]byte(flags.MaxKeySize)); err != nil {
			return Preferences{}, fmt.Errorf("config: parse max-key-size %q: %w", flags.MaxKeySize, err)
		}
		prefs.MaxKeySize = size.Bytes()
	}
	return prefs, nil
}

// Load reads the preferences sidecar from dataDir if present, otherwise
// returns Default() with LogDir set to dataDir.
func Load(dataDir string) (Preferences, error) {
	path := filepath.Join(dataDir, preferencesFileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		prefs := Default()
		prefs.LogDir = dataDir
		return prefs, nil
	}
	if err != nil {
		return Preferences{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var prefs Preferences
	if err := json.Unmarshal(data, &prefs); err != nil {
		return Preferences{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return prefs, nil
}

// Save writes prefs to the preferences sidecar under prefs.LogDir,
// creating the directory if necessary.
func Save(prefs Preferences) error {
	if err := os.MkdirAll(prefs.LogDir, 0755); err != nil {
		return fmt.Errorf("config: mkdir %s: %w", prefs.LogDir, err)
	}
	data, err := json.MarshalIndent(prefs, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal preferences: %w", err)
	}
	path := filepath.Join(prefs.LogDir, preferencesFileName)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
