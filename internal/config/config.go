package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

const (
	// DefaultHTTPPort is the receiver listen port when no override exists.
	DefaultHTTPPort = 53318
	// DefaultMulticastAddr is the discovery multicast group and port.
	DefaultMulticastAddr = "224.0.0.167:53317"
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "lanbeam"
)

// QuickSave is the receiver's auto-accept policy.
type QuickSave string

const (
	QuickSaveOff       QuickSave = "off"       // always ask
	QuickSaveFavorites QuickSave = "favorites" // auto-accept favorites only
	QuickSaveOn        QuickSave = "on"        // always auto-accept
)

// ParseQuickSave maps a policy string to a QuickSave value.
// Unknown values fall back to "off" (the safe default) with an error.
func ParseQuickSave(s string) (QuickSave, error) {
	switch QuickSave(strings.ToLower(strings.TrimSpace(s))) {
	case QuickSaveOff, "":
		return QuickSaveOff, nil
	case QuickSaveFavorites:
		return QuickSaveFavorites, nil
	case QuickSaveOn:
		return QuickSaveOn, nil
	default:
		return QuickSaveOff, fmt.Errorf("unknown quick-save policy %q", s)
	}
}

// Config is the full runtime configuration. Values come from the
// environment (a .env file is loaded by the CLI root before this runs)
// and may be overridden by command flags.
type Config struct {
	Alias         string
	HTTPPort      int
	MulticastAddr string
	SaveDir       string
	QuickSave     QuickSave
	PIN           string
	Discovery     bool
	DataDir       string
}

// FromEnv builds a Config from LANBEAM_* environment variables,
// applying documented defaults for anything unset or invalid.
func FromEnv() (*Config, error) {
	dataDir, err := resolveDataDir()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Alias:         os.Getenv("LANBEAM_ALIAS"),
		HTTPPort:      ValidPort(os.Getenv("LANBEAM_PORT")),
		MulticastAddr: DefaultMulticastAddr,
		SaveDir:       os.Getenv("LANBEAM_SAVE_DIR"),
		PIN:           os.Getenv("LANBEAM_PIN"),
		Discovery:     os.Getenv("LANBEAM_NO_DISCOVERY") == "",
		DataDir:       dataDir,
	}

	if mcast := os.Getenv("LANBEAM_MULTICAST"); mcast != "" {
		cfg.MulticastAddr = mcast
	}
	if cfg.SaveDir == "" {
		cfg.SaveDir = "."
	}

	cfg.QuickSave, _ = ParseQuickSave(os.Getenv("LANBEAM_QUICK_SAVE"))

	return cfg, nil
}

// ValidPort parses a port string and clamps it to the sane TCP range,
// falling back to DefaultHTTPPort otherwise.
func ValidPort(s string) int {
	port, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || port < 1 || port > 65535 {
		return DefaultHTTPPort
	}
	return port
}

// resolveDataDir returns the OS-aware app data directory.
// LANBEAM_DATA_DIR acts as an explicit override.
func resolveDataDir() (string, error) {
	if override := os.Getenv("LANBEAM_DATA_DIR"); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// EnsureDataDir creates the app data directory if needed.
func EnsureDataDir(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return fmt.Errorf("create directory %q: %w", dataDir, err)
	}
	return nil
}
