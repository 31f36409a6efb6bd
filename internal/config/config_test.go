package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
[database]
path = "/tmp/tasks-test.db"

[projects.work]
enabled = true
base_url = "https://git.example.com"
project = "group/app"
token = "glpat-test"
auto_poll = true
auto_add_to_backlog = true
search_enabled = true
filter_username = "mph"
poll_interval_minutes = 5

[projects.oss]
enabled = true
project = "mph/tasks-tui"
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestLoadFrom(t *testing.T) {
	cfg, err := LoadFrom(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/tasks-test.db", cfg.Database.Path)

	work := cfg.Projects["work"]
	assert.True(t, work.Enabled)
	assert.Equal(t, "https://git.example.com", work.BaseURL)
	assert.Equal(t, "group/app", work.Project)
	assert.True(t, work.AutoPoll)
	assert.True(t, work.AutoAddToBacklog)
	assert.True(t, work.SearchEnabled)
	assert.Equal(t, "mph", work.FilterUsername)
	assert.Equal(t, 5, work.PollIntervalMinutes)

	// Unset flags default to off
	oss := cfg.Projects["oss"]
	assert.True(t, oss.Enabled)
	assert.False(t, oss.AutoPoll)
	assert.Empty(t, oss.BaseURL)
}

func TestLoadFromMissingFile(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)

	// Defaults apply when there is no config file
	assert.NotEmpty(t, cfg.Database.Path)
	assert.Empty(t, cfg.Projects)
}

func TestLoadFromExpandsHome(t *testing.T) {
	cfg, err := LoadFrom(writeConfig(t, "[database]\npath = \"~/tasks.db\"\n"))
	require.NoError(t, err)

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "tasks.db"), cfg.Database.Path)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := Default()
	cfg.Projects["work"] = GitLabConfig{
		Enabled:        true,
		Project:        "group/app",
		FilterUsername: "mph",
	}
	require.NoError(t, cfg.SaveTo(path))

	loaded, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Projects["work"], loaded.Projects["work"])
}

func TestProviderFirstValue(t *testing.T) {
	provider, err := NewProvider(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	defer provider.Close()

	ch, cancel, err := provider.ConfigForProject("work")
	require.NoError(t, err)
	defer cancel()

	// The current value is available immediately, no file event needed
	cfg := <-ch
	assert.True(t, cfg.Enabled)
	assert.Equal(t, "group/app", cfg.Project)
}

func TestProviderUnknownProject(t *testing.T) {
	provider, err := NewProvider(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	defer provider.Close()

	ch, cancel, err := provider.ConfigForProject("nope")
	require.NoError(t, err)
	defer cancel()

	cfg := <-ch
	assert.False(t, cfg.Enabled)
}

func TestProviderRequiresProjectID(t *testing.T) {
	provider := NewStaticProvider(Default())
	_, _, err := provider.ConfigForProject("")
	assert.Error(t, err)
}

func TestProviderReleasesSubscriptions(t *testing.T) {
	provider, err := NewProvider(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	defer provider.Close()

	// One-shot readers run many times per poll tick; cancelled
	// subscriptions must not accumulate
	for i := 0; i < 1000; i++ {
		ch, cancel, err := provider.ConfigForProject("work")
		require.NoError(t, err)
		<-ch
		cancel()
		cancel() // second cancel is a no-op
	}

	provider.mu.RLock()
	defer provider.mu.RUnlock()
	assert.Empty(t, provider.subs)
}

func TestProviderReloadDeliversNewValue(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	provider, err := NewProvider(path)
	require.NoError(t, err)
	defer provider.Close()

	ch, cancel, err := provider.ConfigForProject("work")
	require.NoError(t, err)
	defer cancel()

	updated := strings.Replace(sampleConfig,
		`filter_username = "mph"`, `filter_username = "renamed"`, 1)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0644))
	provider.reload()

	// The undelivered current value is replaced by the reloaded one
	cfg := <-ch
	assert.Equal(t, "renamed", cfg.FilterUsername)
}

func TestProviderProjectIDs(t *testing.T) {
	provider, err := NewProvider(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	defer provider.Close()

	assert.Equal(t, []string{"oss", "work"}, provider.ProjectIDs())
}
