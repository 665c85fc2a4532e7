package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"kicad-bakery/internal/cache"
	"kicad-bakery/internal/fetch"
	"kicad-bakery/internal/interpolation"
	"kicad-bakery/internal/localize"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// ProjectFileName is the optional per-project override file.
const ProjectFileName = "bakery.yaml"

type Config struct {
	FootprintLib         string
	SymbolLib            string
	SymbolDir            string
	ModelsDir            string
	DatasheetsDir        string
	ProjectVar           string
	GlobalFootprintTable string
	GlobalSymbolTable    string
	SkipSymbolLibs       []string
	CacheSize            int
	MaxFileSize          int64
	DownloadTimeout      time.Duration
	LockScanProcesses    bool
	LogLevel             string

	DatabaseURL   string
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found, using environment variables")
	}

	return &Config{
		FootprintLib:         getEnv("BAKERY_FOOTPRINT_LIB", localize.DefaultFootprintLib),
		SymbolLib:            getEnv("BAKERY_SYMBOL_LIB", localize.DefaultSymbolLib),
		SymbolDir:            getEnv("BAKERY_SYMBOL_DIR", localize.DefaultSymbolDir),
		ModelsDir:            getEnv("BAKERY_MODELS_DIR", localize.DefaultModelsDir),
		DatasheetsDir:        getEnv("BAKERY_DATASHEETS_DIR", localize.DefaultDatasheetsDir),
		ProjectVar:           getEnv("BAKERY_PROJECT_VAR", interpolation.DefaultProjectVar),
		GlobalFootprintTable: getEnv("BAKERY_GLOBAL_FP_TABLE", ""),
		GlobalSymbolTable:    getEnv("BAKERY_GLOBAL_SYM_TABLE", ""),
		SkipSymbolLibs:       getEnvList("BAKERY_SKIP_SYMBOL_LIBS", []string{"power"}),
		CacheSize:            getEnvInt("BAKERY_CACHE_SIZE", cache.DefaultCapacity),
		MaxFileSize:          int64(getEnvInt("BAKERY_MAX_FILE_SIZE", localize.DefaultMaxFileSize)),
		DownloadTimeout:      getEnvDuration("BAKERY_DOWNLOAD_TIMEOUT", fetch.DefaultTimeout),
		LockScanProcesses:    getEnvBool("BAKERY_LOCK_SCAN_PROCESSES", false),
		LogLevel:             getEnv("BAKERY_LOG_LEVEL", "info"),
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		Neo4jURI:             getEnv("NEO4J_URI", ""),
		Neo4jUser:            getEnv("NEO4J_USER", "neo4j"),
		Neo4jPassword:        getEnv("NEO4J_PASSWORD", ""),
	}
}

// ProjectOverrides is the content of bakery.yaml.
type ProjectOverrides struct {
	FootprintLib   string   `yaml:"footprint_lib"`
	SymbolLib      string   `yaml:"symbol_lib"`
	SymbolDir      string   `yaml:"symbol_dir"`
	ModelsDir      string   `yaml:"models_dir"`
	DatasheetsDir  string   `yaml:"datasheets_dir"`
	SkipSymbolLibs []string `yaml:"skip_symbol_libs"`
}

// LoadProject applies the bakery.yaml found in projectDir, if any.
func (c *Config) LoadProject(projectDir string) error {
	path := filepath.Join(projectDir, ProjectFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", ProjectFileName, err)
	}

	var o ProjectOverrides
	if err := yaml.Unmarshal(data, &o); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.FootprintLib, o.FootprintLib)
	set(&c.SymbolLib, o.SymbolLib)
	set(&c.SymbolDir, o.SymbolDir)
	set(&c.ModelsDir, o.ModelsDir)
	set(&c.DatasheetsDir, o.DatasheetsDir)
	if o.SkipSymbolLibs != nil {
		c.SkipSymbolLibs = o.SkipSymbolLibs
	}

	log.Debug().Str("file", path).Msg("Applied project overrides")
	return nil
}

// Localize builds the engine configuration for a project.
func (c *Config) Localize(projectDir string) localize.Config {
	lc := localize.DefaultConfig(projectDir)
	lc.ProjectVar = c.ProjectVar
	lc.FootprintLib = c.FootprintLib
	lc.SymbolLib = c.SymbolLib
	lc.SymbolDir = c.SymbolDir
	lc.ModelsDir = c.ModelsDir
	lc.DatasheetsDir = c.DatasheetsDir
	lc.SkipSymbolLibs = append([]string(nil), c.SkipSymbolLibs...)
	lc.GlobalFootprintTable = c.GlobalFootprintTable
	lc.GlobalSymbolTable = c.GlobalSymbolTable
	lc.CacheSize = c.CacheSize
	lc.MaxFileSize = c.MaxFileSize
	lc.DownloadTimeout = c.DownloadTimeout
	lc.ScanProcesses = c.LockScanProcesses
	return lc
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
