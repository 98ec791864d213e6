package pack

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrPackNotFound is returned when <packs_dir>/<vendor>/controls does not exist.
var ErrPackNotFound = errors.New("pack not found")

// Pack is the set of controls for one vendor.
type Pack struct {
	Vendor   string
	Path     string
	Controls []Control
}

// LoadControl reads and decodes one control file. Unknown keys are rejected
// so a typo in a pack does not silently disable a check.
func LoadControl(path string) (Control, error) {
	f, err := os.Open(path)
	if err != nil {
		return Control{}, err
	}
	defer f.Close()

	var c Control
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return Control{}, fmt.Errorf("parse %s: %w", path, err)
	}
	c.Severity = Severity(strings.ToLower(string(c.Severity)))
	for i := range c.Audit {
		c.Audit[i].API.Method = strings.ToUpper(c.Audit[i].API.Method)
	}
	if c.Remediate != nil {
		for i := range c.Remediate.API {
			c.Remediate.API[i].Method = strings.ToUpper(c.Remediate.API[i].Method)
		}
	}
	return c, nil
}

// LoadError records a control file that could not be read.
type LoadError struct {
	Path string
	Err  error
}

func (e LoadError) Error() string { return fmt.Sprintf("%s: %v", e.Path, e.Err) }

// LoadControlsFromDir loads every *.yaml / *.yml file in dir in filename
// order. Files that fail to load are logged, skipped and returned as LoadErrors.
// A missing directory yields no controls.
func LoadControlsFromDir(dir string, logger *slog.Logger) ([]Control, []LoadError, error) {
	if logger == nil {
		logger = slog.Default()
	}
	files, err := controlFiles(dir)
	if err != nil {
		return nil, nil, err
	}
	var controls []Control
	var failed []LoadError
	for _, path := range files {
		c, err := LoadControl(path)
		if err != nil {
			logger.Warn("Failed to load control", "path", path, "error", err)
			failed = append(failed, LoadError{Path: path, Err: err})
			continue
		}
		controls = append(controls, c)
	}
	return controls, failed, nil
}

func controlFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".yaml", ".yml":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// ControlsDir is where a vendor's control files live.
func ControlsDir(packsDir, vendor string) string {
	return filepath.Join(packsDir, vendor, "controls")
}

// LoadPack loads the controls for vendor.
func LoadPack(packsDir, vendor string, logger *slog.Logger) (*Pack, error) {
	dir := ControlsDir(packsDir, vendor)
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		return nil, fmt.Errorf("%w: %s (looked in %s)", ErrPackNotFound, vendor, dir)
	}
	controls, _, err := LoadControlsFromDir(dir, logger)
	if err != nil {
		return nil, err
	}
	return &Pack{Vendor: vendor, Path: filepath.Join(packsDir, vendor), Controls: controls}, nil
}

// DiscoverPacks lists vendors that have a controls directory, sorted.
// The schema directory is not a vendor.
func DiscoverPacks(packsDir string) ([]string, error) {
	entries, err := os.ReadDir(packsDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read packs dir: %w", err)
	}
	var vendors []string
	for _, e := range entries {
		if !e.IsDir() || e.Name() == "schema" {
			continue
		}
		if st, err := os.Stat(ControlsDir(packsDir, e.Name())); err == nil && st.IsDir() {
			vendors = append(vendors, e.Name())
		}
	}
	sort.Strings(vendors)
	return vendors, nil
}

// ControlFiles lists the control files of vendor, for validation.
func ControlFiles(packsDir, vendor string) ([]string, error) {
	return controlFiles(ControlsDir(packsDir, vendor))
}
