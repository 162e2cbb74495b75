package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Paths holds the file locations a pipeline reads or writes. Relative
// entries in a settings file are resolved against the directory holding
// that file, so a pipeline behaves the same whatever the working directory.
type Paths struct {
	BaseDir         string
	Database        string
	DataFile        string
	AlertLog        string
	LogFile         string
	MetricsTextfile string
}

// Paths returns the resolved file locations of c. The database entry is
// empty unless the driver is file backed.
func (c *Config) Paths() *Paths {
	p := &Paths{
		DataFile:        c.Pipeline.DataFile,
		AlertLog:        c.Pipeline.AlertLog,
		LogFile:         c.Logging.FilePath,
		MetricsTextfile: c.Telemetry.MetricsTextfile,
	}
	if c.Database.Driver == "sqlite" && isFilePath(c.Database.DSN) {
		p.Database = sqlitePath(c.Database.DSN)
	}
	return p
}

// resolvePaths rewrites every relative path of c against baseDir.
func (c *Config) resolvePaths(baseDir string) {
	c.Pipeline.DataFile = resolve(baseDir, c.Pipeline.DataFile)
	c.Pipeline.AlertLog = resolve(baseDir, c.Pipeline.AlertLog)
	c.Logging.FilePath = resolve(baseDir, c.Logging.FilePath)
	c.Telemetry.MetricsTextfile = resolve(baseDir, c.Telemetry.MetricsTextfile)
	if c.Database.Driver == "sqlite" && isFilePath(c.Database.DSN) {
		c.Database.DSN = resolve(baseDir, c.Database.DSN)
	}
}

// EnsureDirectories creates the parent directory of every output path.
func (p *Paths) EnsureDirectories() error {
	for _, path := range []string{p.Database, p.AlertLog, p.LogFile, p.MetricsTextfile} {
		if path == "" {
			continue
		}
		dir := filepath.Dir(sqlitePath(path))
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// FileExists checks if a file exists
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func resolve(baseDir, path string) string {
	if path == "" || baseDir == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// isFilePath reports whether a sqlite DSN names a file on disk.
func isFilePath(dsn string) bool {
	return dsn != "" && dsn != ":memory:" && !strings.HasPrefix(dsn, "file:")
}

// sqlitePath drops pragma query parameters from a sqlite DSN.
func sqlitePath(dsn string) string {
	if i := strings.IndexByte(dsn, '?'); i >= 0 {
		return dsn[:i]
	}
	return dsn
}
