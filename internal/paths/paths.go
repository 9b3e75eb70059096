// Package paths centralizes file and directory names used across the project.
// All data directory file names are defined here as the single source of truth.
package paths

import "path/filepath"

// ///////////////////////////////////////////////
// Constants
// ///////////////////////////////////////////////

// Data directory file names.
const (
	PIDFile       = "daemon.pid"
	ConfigFile    = "config.toml"
	LogFile       = "daemon.log"
	DatabaseFile  = "study.db"
	AudioCacheDir = "audio"
)

// BinaryName is the daemon executable name.
const BinaryName = "studycord"

// DataDirRel is the default data directory, relative to $HOME.
const DataDirRel = ".studycord"

// ///////////////////////////////////////////////
// DataDir
// ///////////////////////////////////////////////

// DataDir provides path construction methods rooted at a data directory.
type DataDir struct {
	Root string
}

// PID returns the full path to the PID file.
func (d DataDir) PID() string { return filepath.Join(d.Root, PIDFile) }

// Config returns the full path to the config file.
func (d DataDir) Config() string { return filepath.Join(d.Root, ConfigFile) }

// Log returns the full path to the log file.
func (d DataDir) Log() string { return filepath.Join(d.Root, LogFile) }

// Database returns the full path to the SQLite session store.
func (d DataDir) Database() string { return filepath.Join(d.Root, DatabaseFile) }

// AudioCache returns the full path to the synthesized-audio cache directory.
func (d DataDir) AudioCache() string { return filepath.Join(d.Root, AudioCacheDir) }
