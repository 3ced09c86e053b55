package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAPI = "https://wiki.example.org/api.php"

func initTestDir(t *testing.T) *Config {
	t.Helper()
	cfg, err := Initialize(t.TempDir(), testAPI)
	require.NoError(t, err)
	return cfg
}

func TestInitialize(t *testing.T) {
	cfg := initTestDir(t)

	assert.DirExists(t, cfg.Path())
	assert.DirExists(t, cfg.MediaPath())
	assert.FileExists(t, filepath.Join(cfg.Path(), ConfigFile))
	assert.Equal(t, filepath.Join(cfg.Path(), DatabaseFile), cfg.DatabasePath())
	assert.Equal(t, filepath.Join(cfg.Path(), ReportFile), cfg.ReportPath())

	_, err := Initialize(filepath.Dir(cfg.Path()), testAPI)
	assert.Error(t, err)
}

func TestInitialize_RejectsBadURL(t *testing.T) {
	dir := t.TempDir()
	_, err := Initialize(dir, "not a url")
	require.Error(t, err)
	assert.NoDirExists(t, filepath.Join(dir, MirrorDir))
}

func TestLoadFrom_RoundTrip(t *testing.T) {
	cfg := initTestDir(t)

	got, err := LoadFrom(cfg.Path(), nil)
	require.NoError(t, err)
	assert.Equal(t, testAPI, got.APIURL)
	assert.Equal(t, 50, got.PageSize)
	assert.Equal(t, 3, got.CheckpointEvery)
	assert.Equal(t, Duration(2*time.Second), got.Transfer.RetryDelay)
	assert.Equal(t, 3, got.Transfer.MaxAttempts)
	require.Len(t, got.Transfer.OriginRules, 1)
	assert.Equal(t, "nocookie.net", got.Transfer.OriginRules[0].HostSuffix)
	assert.Equal(t, []string{".webp"}, got.Transfer.OriginRules[0].SuppressExt)
	assert.Equal(t, "info", got.Log.Level)

	opts := got.TransferOptions()
	assert.Equal(t, 2*time.Second, opts.RetryDelay)
	rc := got.RetryConfig()
	assert.Equal(t, 3, rc.MaxRetries)
	assert.Equal(t, 30*time.Second, rc.MaxBackoff)
}

func TestLoadFrom_EnvOverrides(t *testing.T) {
	cfg := initTestDir(t)
	t.Setenv("WIKIMIRROR_PAGE_SIZE", "200")
	t.Setenv("WIKIMIRROR_TOKEN", "secret")
	t.Setenv("WIKIMIRROR_TRANSFER_RETRY_DELAY", "5s")
	t.Setenv("WIKIMIRROR_LOG_LEVEL", "debug")

	got, err := LoadFrom(cfg.Path(), nil)
	require.NoError(t, err)
	assert.Equal(t, 200, got.PageSize)
	assert.Equal(t, "secret", got.Token)
	assert.Equal(t, Duration(5*time.Second), got.Transfer.RetryDelay)
	assert.Equal(t, "debug", got.LoggingOptions().Level)
}

func TestLoadFrom_FlagOverrides(t *testing.T) {
	cfg := initTestDir(t)
	fs := pflag.NewFlagSet("sync", pflag.ContinueOnError)
	fs.Bool("dry-run", false, "")
	fs.IntSlice("namespace", nil, "")
	fs.String("start", "", "")
	fs.String("metrics-file", "", "")
	require.NoError(t, fs.Parse([]string{"--dry-run", "--namespace=0,6", "--start=2024-01-01T00:00:00Z"}))

	got, err := LoadFrom(cfg.Path(), fs)
	require.NoError(t, err)
	assert.True(t, got.DryRun)
	assert.Equal(t, []int{0, 6}, got.Namespaces)
	assert.Empty(t, got.MetricsFile)

	start, end, err := got.Window()
	require.NoError(t, err)
	assert.True(t, start.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, end.IsZero())
}

func TestLoadFrom_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"page size too large", map[string]string{"WIKIMIRROR_PAGE_SIZE": "501"}},
		{"page size zero", map[string]string{"WIKIMIRROR_PAGE_SIZE": "0"}},
		{"bad log level", map[string]string{"WIKIMIRROR_LOG_LEVEL": "loud"}},
		{"bad start", map[string]string{"WIKIMIRROR_START": "yesterday"}},
		{"end before start", map[string]string{
			"WIKIMIRROR_START": "2024-02-01T00:00:00Z",
			"WIKIMIRROR_END":   "2024-01-01T00:00:00Z",
		}},
		{"zero transfer attempts", map[string]string{"WIKIMIRROR_TRANSFER_MAX_ATTEMPTS": "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := initTestDir(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadFrom(cfg.Path(), nil)
			assert.Error(t, err)
		})
	}
}

func TestLoadFrom_MissingFile(t *testing.T) {
	_, err := LoadFrom(t.TempDir(), nil)
	assert.Error(t, err)
}

func TestMediaPath(t *testing.T) {
	cfg := initTestDir(t)
	assert.Equal(t, filepath.Join(cfg.Path(), MediaDir), cfg.MediaPath())

	abs := t.TempDir()
	cfg.MediaDir = abs
	assert.Equal(t, abs, cfg.MediaPath())
}

func TestFindRoot(t *testing.T) {
	cfg := initTestDir(t)
	nested := filepath.Join(filepath.Dir(cfg.Path()), "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))
	t.Chdir(nested)

	root, err := FindRoot()
	require.NoError(t, err)
	want, err := filepath.EvalSymlinks(cfg.Path())
	require.NoError(t, err)
	got, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDuration_Text(t *testing.T) {
	d := Duration(1500 * time.Millisecond)
	b, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1.5s", string(b))

	var back Duration
	require.NoError(t, back.UnmarshalText(b))
	assert.Equal(t, d, back)
	assert.Error(t, back.UnmarshalText([]byte("soon")))
}
