package plugin

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, fs afero.Fs, name, content string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, name, []byte(content), 0o644))
}

func TestNewLoaderWithPaths(t *testing.T) {
	loader := NewLoader(WithPaths("/custom/path1", "/custom/path2"))
	assert.Equal(t, []string{"/custom/path1", "/custom/path2"}, loader.Paths())
	assert.Empty(t, NewLoader().Paths())
}

func TestDiscover(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/user/weather/manifest.json", `{"id": "weather", "version": "2.0.0"}`)
	writeFile(t, fs, "/user/weather/init.lua", `-- weather`)
	writeFile(t, fs, "/user/quick.lua", `-- quick`)
	writeFile(t, fs, "/user/notes.txt", `ignored`)
	writeFile(t, fs, "/user/assets/logo.svg", `<svg/>`)
	writeFile(t, fs, "/system/weather/manifest.yaml", "id: weather\nversion: 1.0.0\n")
	writeFile(t, fs, "/system/weather/init.lua", `-- shadowed`)
	writeFile(t, fs, "/system/clock/manifest.yaml", "name: Clock\nmain: clock.lua\n")
	writeFile(t, fs, "/system/clock/clock.lua", `-- clock`)

	loader := NewLoader(WithFs(fs), WithPaths("/user", "/missing", "/system"))
	found, err := loader.Discover()
	require.NoError(t, err)

	ids := make([]string, 0, len(found))
	for _, d := range found {
		ids = append(ids, d.ID)
		assert.NoError(t, d.Err, d.ID)
	}
	assert.Equal(t, []string{"clock", "quick", "weather"}, ids)

	clock := found[0]
	assert.Equal(t, "/system/clock", clock.Dir)
	assert.Equal(t, "Clock", clock.Manifest.Name)
	assert.Equal(t, "/system/clock/clock.lua", clock.Manifest.MainPath())

	quick := found[1]
	assert.Equal(t, "/user", quick.Dir)
	assert.Equal(t, "quick.lua", quick.Manifest.Main)
	assert.Equal(t, DefaultVersion, quick.Manifest.Version)

	weather := found[2]
	assert.Equal(t, "/user/weather", weather.Dir, "first path wins")
	assert.Equal(t, "2.0.0", weather.Manifest.Version)
}

func TestDiscoverBrokenPlugins(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/plugins/nomain/manifest.json", `{"id": "nomain"}`)
	writeFile(t, fs, "/plugins/garbled/manifest.json", `{"id": `)
	writeFile(t, fs, "/plugins/Bad.lua", `-- bad id`)

	found, err := NewLoader(WithFs(fs), WithPaths("/plugins")).Discover()
	require.NoError(t, err)
	require.Len(t, found, 3)

	byID := make(map[string]*Discovered)
	for _, d := range found {
		byID[d.ID] = d
	}

	assert.ErrorIs(t, byID["nomain"].Err, ErrNoEntryPoint)
	assert.NotNil(t, byID["nomain"].Manifest)

	require.Error(t, byID["garbled"].Err)
	assert.Nil(t, byID["garbled"].Manifest)

	assert.ErrorIs(t, byID["Bad"].Err, ErrInvalidID)
}

func TestDiscoverEmpty(t *testing.T) {
	found, err := NewLoader(WithFs(afero.NewMemMapFs()), WithPaths("/nowhere")).Discover()
	require.NoError(t, err)
	assert.Empty(t, found)
}
