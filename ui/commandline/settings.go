// Copyright 2026 The Leafscan Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/leafscan/leafscan/pkg/support/fsutil"
	"github.com/pkg/errors"
)

// Settings maps a parameter name to its current value. The type of the default value
// defines how a new value is parsed.
//
// Supported types are int, int64, float64, bool, string, []string and []float64.
type Settings map[string]any

// ParseSettings updates settings from a list of "param=value" separated by ";", typically the
// contents of a flag. An entry "file:<path>" reads further settings from the file, one or more
// per line, with lines starting with "#" being comments.
//
// All parameters must already be present in settings. For integer types "_" can be used as a separator.
//
// It returns the names of the parameters set, in the order they were set.
func ParseSettings(settings Settings, list string) (paramsSet []string, err error) {
	for _, setting := range strings.Split(list, ";") {
		paramsSet, err = parseSetting(settings, strings.TrimSpace(setting), paramsSet)
		if err != nil {
			return
		}
	}
	return
}

func parseSetting(settings Settings, setting string, paramsSet []string) ([]string, error) {
	if setting == "" {
		return paramsSet, nil
	}
	if filePath, found := strings.CutPrefix(setting, "file:"); found {
		filePath, err := fsutil.ReplaceTildeInDir(filePath)
		if err != nil {
			return paramsSet, err
		}
		contents, err := os.ReadFile(filePath)
		if err != nil {
			return paramsSet, errors.Wrapf(err, "failed to read settings from file %q", filePath)
		}
		for _, line := range strings.Split(string(contents), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			for _, lineSetting := range strings.Split(line, ";") {
				paramsSet, err = parseSetting(settings, strings.TrimSpace(lineSetting), paramsSet)
				if err != nil {
					return paramsSet, err
				}
			}
		}
		return paramsSet, nil
	}

	name, valueStr, found := strings.Cut(setting, "=")
	if !found {
		return paramsSet, errors.Errorf("can't parse setting %q: it requires the format \"<param>=<value>\"", setting)
	}
	current, found := settings[name]
	if !found {
		return paramsSet, errors.Errorf("unknown parameter %q in setting %q, known parameters: %v",
			name, setting, settings.Names())
	}
	var value any
	var err error
	switch v := current.(type) {
	case int:
		err = json.Unmarshal([]byte(strings.ReplaceAll(valueStr, "_", "")), &v)
		value = v
	case int64:
		err = json.Unmarshal([]byte(strings.ReplaceAll(valueStr, "_", "")), &v)
		value = v
	case float64:
		err = json.Unmarshal([]byte(valueStr), &v)
		value = v
	case bool:
		err = json.Unmarshal([]byte(valueStr), &v)
		value = v
	case string:
		value = valueStr
	case []string:
		value = strings.Split(valueStr, ",")
	case []float64:
		parts := strings.Split(valueStr, ",")
		values := make([]float64, len(parts))
		for ii, part := range parts {
			if err = json.Unmarshal([]byte(part), &values[ii]); err != nil {
				break
			}
		}
		value = values
	default:
		err = errors.Errorf("don't know how to parse type %T", current)
	}
	if err != nil {
		return paramsSet, errors.Wrapf(err, "failed to parse value %q for parameter %q (default value is %#v)",
			valueStr, name, current)
	}
	settings[name] = value
	return append(paramsSet, name), nil
}

// Names returns the sorted names of the parameters.
func (settings Settings) Names() []string {
	names := make([]string, 0, len(settings))
	for name := range settings {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// String pretty-prints the settings, one per line, sorted by name.
func (settings Settings) String() string {
	parts := make([]string, 0, len(settings))
	for _, name := range settings.Names() {
		value := settings[name]
		parts = append(parts, fmt.Sprintf("\t%q: (%T) %v", name, value, value))
	}
	return strings.Join(parts, "\n")
}

// CreateSettingsFlag creates a string flag named flagName (or "set" if empty) in flag.CommandLine, with a
// usage describing the parameters available in settings and their default values.
//
// The flag should be created before the call to `flag.Parse()`, and its value given to ParseSettings after.
func CreateSettingsFlag(settings Settings, flagName string) *string {
	if flagName == "" {
		flagName = "set"
	}
	parts := []string{`Set parameters as a list of "param=value" separated by ";". ` +
		`An entry "file:<path>" reads settings from a file, one or more per line, lines starting with "#" are comments. ` +
		`Available parameters:`}
	for _, name := range settings.Names() {
		parts = append(parts, fmt.Sprintf("%q: default value is %v", name, settings[name]))
	}
	return flag.String(flagName, "", strings.Join(parts, "\n"))
}
