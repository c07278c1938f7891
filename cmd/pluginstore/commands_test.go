package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/pluginstore/internal/history"
	"github.com/dshills/pluginstore/internal/notify"
)

func writeFile(t *testing.T, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(name), 0o755))
	require.NoError(t, os.WriteFile(name, []byte(content), 0o644))
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "pluginstore.toml")
	writeFile(t, path, "log_level = 'error'\n"+
		"data_dir = '"+filepath.Join(dir, "data")+"'\n"+
		"plugin_dirs = ['"+filepath.Join(dir, "plugins")+"']\n")
	return path
}

func TestReleaseCommand(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "plugins", "dark_theme", "manifest.json"), `{"id": "dark_theme", "version": "1.5.2"}`)
	writeFile(t, filepath.Join(dir, "plugins", "dark_theme", "init.lua"), "-- theme")
	index := filepath.Join(dir, "plugins.json")
	writeFile(t, index, `{"plugins": [{"id": "dark_theme", "name": "Dark Theme"}]}`)

	var out bytes.Buffer
	err := execute([]string{"pluginstore", "release",
		"--plugins", filepath.Join(dir, "plugins"),
		"--releases", filepath.Join(dir, "releases"),
		"--index", index,
		"--base", "https://example.com/dl",
		"--checksum", "blake3",
	}, &out)
	require.NoError(t, err)

	assert.Contains(t, out.String(), "dark_theme_v1.5.2.zip")
	assert.Contains(t, out.String(), "blake3:")
	assert.Contains(t, out.String(), "built 1 archives")
	assert.Contains(t, out.String(), "updated 1 entries")

	_, err = os.Stat(filepath.Join(dir, "releases", "dark_theme_v1.5.2.zip"))
	require.NoError(t, err)

	data, err := os.ReadFile(index)
	require.NoError(t, err)
	var got struct {
		Plugins []map[string]any `json:"plugins"`
	}
	require.NoError(t, json.Unmarshal(data, &got))
	require.Len(t, got.Plugins, 1)
	assert.Equal(t, "https://example.com/dl/v1.5.2/dark_theme_v1.5.2.zip", got.Plugins[0]["download_url"])
	assert.Equal(t, "Dark Theme", got.Plugins[0]["name"])
}

func TestReleaseCommandBadChecksum(t *testing.T) {
	err := execute([]string{"pluginstore", "release", "--checksum", "md5"}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestInfoCommand(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir)

	var out bytes.Buffer
	require.NoError(t, execute([]string{"pluginstore", "info", "--config", cfg}, &out))

	var descs []map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &descs))
	require.Len(t, descs, 4)
	ids := make([]string, 0, len(descs))
	for _, d := range descs {
		ids = append(ids, d["id"].(string))
	}
	assert.Equal(t, []string{"pomodoro_timer", "calendar_sync", "weather_enhanced", "dark_theme"}, ids)
}

func TestHistoryCommand(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "data"), 0o755))
	store, err := history.Open(filepath.Join(dir, "data", history.FileName))
	require.NoError(t, err)
	now := time.Now()
	for _, e := range []history.Entry{
		{Plugin: "pomodoro_timer", Phase: "work", Next: "short_break", CycleCount: 1, Duration: 25 * time.Minute, CompletedAt: now.Add(-time.Hour)},
		{Plugin: "pomodoro_timer", Phase: "short_break", Next: "work", CycleCount: 1, Duration: 5 * time.Minute, CompletedAt: now.Add(-30 * time.Minute)},
		{Plugin: "pomodoro_timer", Phase: "work", Next: "short_break", CycleCount: 0, Duration: 25 * time.Minute, CompletedAt: now.Add(-30 * 24 * time.Hour)},
	} {
		_, err := store.Record(context.Background(), e)
		require.NoError(t, err)
	}
	require.NoError(t, store.Close())

	var out bytes.Buffer
	require.NoError(t, execute([]string{"pluginstore", "history", "--config", cfg, "--limit", "0"}, &out))
	text := out.String()
	assert.Contains(t, text, "short_break")
	assert.Contains(t, text, "cycle 1")
	assert.Contains(t, text, "25m0s")

	out.Reset()
	require.NoError(t, execute([]string{"pluginstore", "history", "--config", cfg, "--prune", "240h"}, &out))
	assert.Contains(t, out.String(), "pruned 1 phases")
}

func TestRunCommandStopsAfterDuration(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir)

	done := make(chan error, 1)
	go func() {
		done <- execute([]string{"pluginstore", "run", "--config", cfg, "--duration", "100ms", "--watch=false"}, &bytes.Buffer{})
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not stop")
	}
}

func TestPrintNotifications(t *testing.T) {
	ch := make(chan notify.Notification, 2)
	ch <- notify.Notification{Source: "pomodoro_timer", Title: "Break finished", Message: "back to work", Time: time.Now()}
	close(ch)

	var out bytes.Buffer
	printNotifications(&out, ch)
	assert.Contains(t, out.String(), "[pomodoro_timer] Break finished: back to work")
}
