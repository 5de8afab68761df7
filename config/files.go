package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Limits applied to configuration input.
const (
	maxFileBytes = 10 << 20
	maxNesting   = 100
	maxEnvValue  = 10000
	maxPath      = 4096
)

var layerExtensions = []string{".json", ".yaml", ".yml"}

// checkLayerPath rejects paths that are not JSON or YAML files, and relative
// paths that climb out of the working directory.
func checkLayerPath(path string) error {
	switch {
	case path == "":
		return fmt.Errorf("empty config path")
	case len(path) > maxPath:
		return fmt.Errorf("config path longer than %d bytes", maxPath)
	}

	if !slices.Contains(layerExtensions, strings.ToLower(filepath.Ext(path))) {
		return fmt.Errorf("%s: config files must be JSON or YAML", path)
	}

	if filepath.IsAbs(path) {
		return nil
	}
	rel := filepath.Clean(path)
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%s: relative config path leaves the working directory", path)
	}
	return nil
}

// readLayer reads a configuration file of at most maxFileBytes.
func readLayer(path string) ([]byte, error) {
	if err := checkLayerPath(path); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", path)
	}

	data, err := io.ReadAll(io.LimitReader(f, maxFileBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxFileBytes {
		return nil, fmt.Errorf("%s is larger than %d bytes", path, maxFileBytes)
	}
	return data, nil
}

func checkEnvValue(key, value string) error {
	if len(value) > maxEnvValue {
		return fmt.Errorf("%s: value longer than %d bytes", key, maxEnvValue)
	}
	if strings.IndexByte(value, 0) >= 0 {
		return fmt.Errorf("%s: value contains a NUL byte", key)
	}
	return nil
}

// checkNesting walks the JSON token stream and fails on syntax errors or
// when arrays and objects nest deeper than maxNesting.
func checkNesting(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	depth := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			if depth != 0 {
				return fmt.Errorf("unexpected end of JSON with %d open containers", depth)
			}
			return nil
		}
		if err != nil {
			return err
		}

		switch tok {
		case json.Delim('{'), json.Delim('['):
			depth++
			if depth > maxNesting {
				return fmt.Errorf("JSON nests deeper than %d levels", maxNesting)
			}
		case json.Delim('}'), json.Delim(']'):
			depth--
		}
	}
}
