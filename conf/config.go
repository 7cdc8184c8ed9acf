// Package conf turns the command line and the optional JSON config file into
// the options the pipelines run with.
package conf

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// File is the on-disk config. Every field is optional; command line flags
// win over file values.
type File struct {
	Palette       string `json:"palette,omitempty"`
	FPS           int    `json:"fps,omitempty"`
	TimeoutMS     int    `json:"timeout_ms,omitempty"`
	StreamWidth   int    `json:"stream_width,omitempty"`
	StreamHeight  int    `json:"stream_height,omitempty"`
	Color         string `json:"color,omitempty"`
	Tint          string `json:"tint,omitempty"`
	Profile       string `json:"profile,omitempty"`
	OnDecodeError string `json:"on_decode_error,omitempty"`
	LogFile       string `json:"log_file,omitempty"`
}

// readFile loads path. A missing file is only an error when the user named
// it explicitly.
func readFile(path string, explicit bool) (File, error) {
	var f File
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return f, nil
		}
		return f, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(b, &f); err != nil {
		return f, fmt.Errorf("parse config %s: %w", path, err)
	}
	f.LogFile = expandHome(strings.TrimSpace(f.LogFile))
	return f, nil
}

// resolveConfigPath normalizes the config file path, expanding "~" and making
// it absolute. When cfg is empty it defaults to <user config dir>/termfeed/config.json.
// A bare name without an extension (e.g. "studio") is a profile inside the
// default config directory ("studio.json").
func resolveConfigPath(cfg string) (string, error) {
	raw := strings.TrimSpace(cfg)
	switch {
	case raw == "":
		if dir, err := defaultConfigDir(); err == nil {
			raw = filepath.Join(dir, "config.json")
		} else {
			raw = "config.json"
		}
	case filepath.Base(raw) == raw && filepath.Ext(raw) == "":
		if dir, err := defaultConfigDir(); err == nil {
			raw = filepath.Join(dir, raw+".json")
		} else {
			raw = raw + ".json"
		}
	}
	return filepath.Abs(expandHome(raw))
}

func expandHome(p string) string {
	if strings.HasPrefix(p, "~/") {
		if h, err := os.UserHomeDir(); err == nil {
			return filepath.Join(h, p[2:])
		}
	}
	return p
}

func defaultConfigDir() (string, error) {
	d, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(d, Program), nil
}

// defaultLogFile keeps the log next to the config file.
func defaultLogFile(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, Program+".log")
}
