package localize

import (
	"path/filepath"
	"strings"
	"time"

	"kicad-bakery/internal/cache"
	"kicad-bakery/internal/fetch"
	"kicad-bakery/internal/interpolation"
)

// Destination defaults.
const (
	DefaultFootprintLib  = "MyLib"
	DefaultSymbolLib     = "MySymbols"
	DefaultSymbolDir     = "MySym"
	DefaultModelsDir     = "3D Models"
	DefaultDatasheetsDir = "Data_Sheets"
	DefaultMaxFileSize   = 50 << 20
)

// Config is everything a run needs to know about the project and where
// localized assets go. It is passed to New and not changed afterwards.
type Config struct {
	ProjectDir string
	ProjectVar string

	FootprintLib  string
	SymbolLib     string
	SymbolDir     string
	ModelsDir     string
	DatasheetsDir string

	// SkipSymbolLibs are compared case-insensitively.
	SkipSymbolLibs []string

	// Global tables; empty means discover them in the KiCad config directory.
	GlobalFootprintTable string
	GlobalSymbolTable    string

	// Vars override environment variables when expanding library paths.
	Vars map[string]string

	CacheSize       int
	MaxFileSize     int64
	DownloadTimeout time.Duration
	ScanProcesses   bool

	// DryRun stops after validation.
	DryRun bool
}

// DefaultConfig returns the defaults for a project.
func DefaultConfig(projectDir string) Config {
	return Config{
		ProjectDir:      projectDir,
		ProjectVar:      interpolation.DefaultProjectVar,
		FootprintLib:    DefaultFootprintLib,
		SymbolLib:       DefaultSymbolLib,
		SymbolDir:       DefaultSymbolDir,
		ModelsDir:       DefaultModelsDir,
		DatasheetsDir:   DefaultDatasheetsDir,
		SkipSymbolLibs:  []string{"power"},
		CacheSize:       cache.DefaultCapacity,
		MaxFileSize:     DefaultMaxFileSize,
		DownloadTimeout: fetch.DefaultTimeout,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig(c.ProjectDir)
	if c.ProjectVar == "" {
		c.ProjectVar = d.ProjectVar
	}
	if c.FootprintLib == "" {
		c.FootprintLib = d.FootprintLib
	}
	if c.SymbolLib == "" {
		c.SymbolLib = d.SymbolLib
	}
	if c.SymbolDir == "" {
		c.SymbolDir = d.SymbolDir
	}
	if c.ModelsDir == "" {
		c.ModelsDir = d.ModelsDir
	}
	if c.DatasheetsDir == "" {
		c.DatasheetsDir = d.DatasheetsDir
	}
	if c.CacheSize <= 0 {
		c.CacheSize = d.CacheSize
	}
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = d.MaxFileSize
	}
	if c.DownloadTimeout <= 0 {
		c.DownloadTimeout = d.DownloadTimeout
	}
}

// FootprintLibDir is the project-local .pretty folder.
func (c Config) FootprintLibDir() string {
	return filepath.Join(c.ProjectDir, c.FootprintLib+".pretty")
}

// SymbolLibPath is the project-local aggregate symbol library file.
func (c Config) SymbolLibPath() string {
	return filepath.Join(c.ProjectDir, c.SymbolDir, c.SymbolLib+".kicad_sym")
}

// ModelsPath is the project-local 3D model folder.
func (c Config) ModelsPath() string {
	return filepath.Join(c.ProjectDir, c.ModelsDir)
}

// DatasheetsPath is the project-local datasheet folder.
func (c Config) DatasheetsPath() string {
	return filepath.Join(c.ProjectDir, c.DatasheetsDir)
}

// FootprintTablePath is the project fp-lib-table.
func (c Config) FootprintTablePath() string {
	return filepath.Join(c.ProjectDir, "fp-lib-table")
}

// SymbolTablePath is the project sym-lib-table.
func (c Config) SymbolTablePath() string {
	return filepath.Join(c.ProjectDir, "sym-lib-table")
}

func (c Config) skipSymbolLib(lib string) bool {
	for _, s := range c.SkipSymbolLibs {
		if strings.EqualFold(s, lib) {
			return true
		}
	}
	return false
}
