package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Platform identifiers.
const (
	platformLinux  = "linux"
	platformDarwin = "darwin"
)

// Directory and file names under the per-user base directories.
const (
	appName              = "mega-go"
	configFileName       = "config.toml"
	sessionFileName      = "session.json"
	registrationFileName = "registration.state"
	ledgerFileName       = "transfers.db"
	stateDirName         = "state"
	resumeDirName        = "resume"
)

// Paths are the per-user locations of everything mega-go keeps on disk. The
// config file lives in the config directory, the session and the transfer
// ledger in the data directory, and resume records in the cache directory
// since losing them only costs a restart of the transfer.
type Paths struct {
	ConfigFile       string
	SessionFile      string
	RegistrationFile string
	LedgerFile       string
	StateDir         string
}

// ResumeDir is the directory of transfer resume records.
func (p Paths) ResumeDir() string {
	return resumeDir(p.StateDir)
}

// DefaultPaths returns the locations used when neither the config file nor
// the environment sets them. Without a home directory they fall under the
// system temp directory.
func DefaultPaths() Paths {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = os.TempDir()
	}

	return pathsFor(runtime.GOOS, home, os.Getenv)
}

// DefaultConfigPath is the config file read when neither MEGA_GO_CONFIG nor
// --config names one.
func DefaultConfigPath() string {
	return DefaultPaths().ConfigFile
}

func pathsFor(goos, home string, getenv func(string) string) Paths {
	data := dataBase.dir(goos, home, getenv)
	session := filepath.Join(data, sessionFileName)

	return Paths{
		ConfigFile:       filepath.Join(configBase.dir(goos, home, getenv), configFileName),
		SessionFile:      session,
		RegistrationFile: registrationFor(session),
		LedgerFile:       filepath.Join(data, ledgerFileName),
		StateDir:         filepath.Join(cacheBase.dir(goos, home, getenv), stateDirName),
	}
}

// registrationFor places a pending registration next to the session file, so
// a custom session_file keeps both together.
func registrationFor(sessionFile string) string {
	return filepath.Join(filepath.Dir(sessionFile), registrationFileName)
}

func resumeDir(stateDir string) string {
	return filepath.Join(stateDir, resumeDirName)
}

// baseDir is one of the XDG base directories: its override variable and the
// fallbacks under home for Linux-like systems and for macOS.
type baseDir struct {
	xdgVar string
	unix   []string
	darwin []string
}

var (
	configBase = baseDir{"XDG_CONFIG_HOME", []string{".config"}, []string{"Library", "Application Support"}}
	dataBase   = baseDir{"XDG_DATA_HOME", []string{".local", "share"}, []string{"Library", "Application Support"}}
	cacheBase  = baseDir{"XDG_CACHE_HOME", []string{".cache"}, []string{"Library", "Caches"}}
)

// dir resolves the application directory under b. XDG variables apply on
// Linux only, and a relative value is ignored as the XDG spec requires.
func (b baseDir) dir(goos, home string, getenv func(string) string) string {
	sub := b.unix

	switch goos {
	case platformLinux:
		if xdg := getenv(b.xdgVar); filepath.IsAbs(xdg) {
			return filepath.Join(xdg, appName)
		}
	case platformDarwin:
		sub = b.darwin
	}

	parts := append([]string{home}, sub...)

	return filepath.Join(append(parts, appName)...)
}
