// Package settings loads caddydb settings from layered TOML sources.
//
// Settings are resolved in this order, each layer overriding the previous one:
//
//  1. Embedded defaults (defaults.toml)
//  2. The main settings file
//  3. Drop-in files (*.toml) in the drop-in directory, in lexical order
//  4. CADDYDB_* environment variables
//
// A missing main file or drop-in directory is not an error. A file that exists but cannot be
// read or parsed is.
package settings

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

//go:embed defaults.toml
var defaultSettings string

// Environment variables read by ApplyEnv and DefaultSource.
const (
	EnvConfig   = "CADDYDB_CONFIG"
	EnvDatabase = "CADDYDB_DB"
	EnvCaddyBin = "CADDYDB_CADDY_BIN"
	EnvLogLevel = "CADDYDB_LOG_LEVEL"
)

// Settings is the resolved configuration of the caddydb command.
type Settings struct {
	// Database is the path of the SQLite database.
	Database string
	// ConfigName is the config used when a command is not given one.
	ConfigName string
	// Caddyfile is the default Caddyfile to import from and export to. Empty means the
	// default search paths.
	Caddyfile string
	// CaddyBin is the caddy binary used for validation. Empty means $PATH.
	CaddyBin  string
	LogLevel  slog.Level
	LogFormat string
}

// Update applies the non-nil values of dto.
func (s *Settings) Update(dto settingsDTO) error {
	if dto.Database != nil {
		s.Database = *dto.Database
	}
	if dto.ConfigName != nil {
		s.ConfigName = *dto.ConfigName
	}
	if dto.Caddyfile != nil {
		s.Caddyfile = *dto.Caddyfile
	}
	if dto.CaddyBin != nil {
		s.CaddyBin = *dto.CaddyBin
	}
	if dto.LogLevel != nil {
		var level slog.Level
		if err := level.UnmarshalText([]byte(*dto.LogLevel)); err != nil {
			return fmt.Errorf("invalid log-level %q", *dto.LogLevel)
		}
		s.LogLevel = level
	}
	if dto.LogFormat != nil {
		switch format := strings.ToLower(*dto.LogFormat); format {
		case "text", "json":
			s.LogFormat = format
		default:
			return fmt.Errorf("invalid log-format %q: must be text or json", *dto.LogFormat)
		}
	}
	return nil
}

// Set sets the setting named by its TOML key, such as "log-level", from a string.
func (s *Settings) Set(key, value string) error {
	var dto settingsDTO
	switch key {
	case "database":
		dto.Database = &value
	case "config-name":
		dto.ConfigName = &value
	case "caddyfile":
		dto.Caddyfile = &value
	case "caddy-bin":
		dto.CaddyBin = &value
	case "log-level":
		dto.LogLevel = &value
	case "log-format":
		dto.LogFormat = &value
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
	return s.Update(dto)
}

// ApplyEnv overrides settings from CADDYDB_* environment variables. lookup is usually
// os.LookupEnv.
func (s *Settings) ApplyEnv(lookup func(string) (string, bool)) error {
	var dto settingsDTO
	if v, ok := lookup(EnvDatabase); ok && v != "" {
		dto.Database = &v
	}
	if v, ok := lookup(EnvCaddyBin); ok && v != "" {
		dto.CaddyBin = &v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		dto.LogLevel = &v
	}
	if err := s.Update(dto); err != nil {
		return fmt.Errorf("environment: %w", err)
	}
	return nil
}

type settingsDTO struct {
	Database   *string `toml:"database"`
	ConfigName *string `toml:"config-name"`
	Caddyfile  *string `toml:"caddyfile"`
	CaddyBin   *string `toml:"caddy-bin"`
	LogLevel   *string `toml:"log-level"`
	LogFormat  *string `toml:"log-format"`
}

func parseSettingsDTO(data string) (settingsDTO, error) {
	var dto settingsDTO
	md, err := toml.Decode(data, &dto)
	if err != nil {
		return dto, fmt.Errorf("failed to parse TOML: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return dto, fmt.Errorf("unknown setting %q", undecoded[0].String())
	}
	return dto, nil
}

// Defaults returns the embedded default settings.
func Defaults() Settings {
	var s Settings
	dto, err := parseSettingsDTO(defaultSettings)
	if err == nil {
		err = s.Update(dto)
	}
	if err != nil {
		panic(fmt.Sprintf("failed to parse embedded defaults: %v", err))
	}
	return s
}

// Source names the files settings are read from. See the Read method.
type Source struct {
	Path      string
	DropInDir string
}

// DefaultSource returns the settings file named by $CADDYDB_CONFIG, or
// ~/.config/caddydb/config.toml. The drop-in directory is the settings file's path with a
// ".d" suffix.
func DefaultSource() Source {
	path := os.Getenv(EnvConfig)
	if path == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			dir = "."
		}
		path = filepath.Join(dir, "caddydb", "config.toml")
	}
	return Source{Path: path, DropInDir: path + ".d"}
}

// Read returns the settings merged from the embedded defaults, the main file and the
// drop-in files. Environment variables are not applied.
func (src Source) Read() (Settings, error) {
	resolved := Defaults()

	if src.Path != "" {
		data, err := os.ReadFile(src.Path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return resolved, fmt.Errorf("failed to load %s: %w", src.Path, err)
		default:
			if err := src.apply(&resolved, src.Path, data); err != nil {
				return resolved, err
			}
		}
	}

	paths, err := src.findDropInFiles()
	if err != nil {
		return resolved, err
	}
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return resolved, fmt.Errorf("failed to load %s: %w", path, err)
		}
		if err := src.apply(&resolved, path, data); err != nil {
			return resolved, err
		}
	}

	return resolved, nil
}

func (src Source) apply(s *Settings, path string, data []byte) error {
	dto, err := parseSettingsDTO(string(data))
	if err == nil {
		err = s.Update(dto)
	}
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// findDropInFiles returns the sorted paths of the drop-in files. A missing drop-in directory
// yields no files.
func (src Source) findDropInFiles() ([]string, error) {
	if src.DropInDir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(src.DropInDir)
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read drop-in directory %s: %w", src.DropInDir, err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
			continue
		}
		paths = append(paths, filepath.Join(src.DropInDir, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}
