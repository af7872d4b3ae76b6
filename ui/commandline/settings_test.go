// Copyright 2026 The Leafscan Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestSettings() Settings {
	return Settings{
		"batch_size": 32,
		"seed":       int64(12),
		"train":      0.8,
		"shuffle":    true,
		"data":       "~/plantvillage",
		"classes":    []string{},
		"fractions":  []float64{},
	}
}

func TestParseSettings(t *testing.T) {
	settings := createTestSettings()
	paramsSet, err := ParseSettings(settings,
		"batch_size=1_024;seed=7;train=0.7;shuffle=false;data=/tmp/pv;classes=a,b;fractions=0.7,0.2,0.1;")
	require.NoError(t, err)
	assert.Equal(t, []string{"batch_size", "seed", "train", "shuffle", "data", "classes", "fractions"}, paramsSet)
	assert.Equal(t, 1024, settings["batch_size"])
	assert.Equal(t, int64(7), settings["seed"])
	assert.Equal(t, 0.7, settings["train"])
	assert.Equal(t, false, settings["shuffle"])
	assert.Equal(t, "/tmp/pv", settings["data"])
	assert.Equal(t, []string{"a", "b"}, settings["classes"])
	assert.Equal(t, []float64{0.7, 0.2, 0.1}, settings["fractions"])
	assert.Contains(t, settings.String(), `"batch_size": (int) 1024`)

	_, err = ParseSettings(settings, "unknown=3")
	require.Error(t, err)
	_, err = ParseSettings(settings, "batch_size=3.14")
	require.Error(t, err)
	_, err = ParseSettings(settings, "batch_size")
	require.Error(t, err)
	_, err = ParseSettings(settings, "fractions=0.1,x")
	require.Error(t, err)
}

func TestParseSettingsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.txt")
	require.NoError(t, os.WriteFile(path, []byte("# Experiment 3\nbatch_size=16\n\nseed=3;train=0.6\n"), 0644))
	settings := createTestSettings()
	paramsSet, err := ParseSettings(settings, "file:"+path+";shuffle=false")
	require.NoError(t, err)
	assert.Equal(t, []string{"batch_size", "seed", "train", "shuffle"}, paramsSet)
	assert.Equal(t, 16, settings["batch_size"])
	assert.Equal(t, 0.6, settings["train"])

	_, err = ParseSettings(settings, "file:"+filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
}
