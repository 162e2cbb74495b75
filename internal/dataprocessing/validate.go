package dataprocessing

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// ErrUnsupportedFormat is returned for data files ParseFile cannot read
var ErrUnsupportedFormat = errors.New("unsupported data file format")

var (
	workbookExtensions = []string{".xlsx", ".xlsm"}
	textExtensions     = []string{".csv", ".txt", ".data"}
)

// ValidateDataFile checks that path is a readable regular file in a format
// ParseFile understands. Office lock files ("~$book.xlsx") are rejected.
func ValidateDataFile(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return fmt.Errorf("data file %s does not exist", path)
	}
	if err != nil {
		return fmt.Errorf("failed to stat data file %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory, not a file", path)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if !slices.Contains(workbookExtensions, ext) && !slices.Contains(textExtensions, ext) {
		return fmt.Errorf("%w: %s (extension %q)", ErrUnsupportedFormat, path, ext)
	}
	if strings.HasPrefix(filepath.Base(path), "~$") {
		return fmt.Errorf("%s is a temporary Excel file", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("data file %s is not readable: %w", path, err)
	}
	return f.Close()
}

func isWorkbook(path string) bool {
	return slices.Contains(workbookExtensions, strings.ToLower(filepath.Ext(path)))
}
