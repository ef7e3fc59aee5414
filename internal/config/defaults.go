package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
)

const appName = "autocheckout"

// PlatformDataDir returns the platform-specific data directory.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/autocheckout/
//   - Linux:   ~/.local/share/autocheckout/
//   - Windows: %APPDATA%\autocheckout\
func PlatformDataDir() string {
	switch runtime.GOOS {
	case "darwin":
		return macOSDataDir()
	case "windows":
		return windowsDataDir()
	default:
		if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
			return filepath.Join(xdgData, appName)
		}
		return filepath.Join(homeDir(), ".local", "share", appName)
	}
}

// PlatformConfigDir returns the platform-specific config directory.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/autocheckout/
//   - Linux:   ~/.config/autocheckout/
//   - Windows: %APPDATA%\autocheckout\
func PlatformConfigDir() string {
	switch runtime.GOOS {
	case "darwin":
		return macOSDataDir()
	case "windows":
		return windowsDataDir()
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			return filepath.Join(xdgConfig, appName)
		}
		return filepath.Join(homeDir(), ".config", appName)
	}
}

// PlatformRuntimeDir returns the directory for the daemon socket.
func PlatformRuntimeDir() string {
	switch runtime.GOOS {
	case "windows":
		return windowsDataDir()
	case "linux":
		if xdgRuntime := os.Getenv("XDG_RUNTIME_DIR"); xdgRuntime != "" {
			return filepath.Join(xdgRuntime, appName)
		}
	}
	return filepath.Join(os.TempDir(), appName+"-"+strconv.Itoa(os.Getuid()))
}

func macOSDataDir() string {
	return filepath.Join(homeDir(), "Library", "Application Support", appName)
}

func windowsDataDir() string {
	if appData := os.Getenv("APPDATA"); appData != "" {
		return filepath.Join(appData, appName)
	}
	return filepath.Join(homeDir(), "AppData", "Roaming", appName)
}

func homeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	home, _ := os.UserHomeDir()
	return home
}
