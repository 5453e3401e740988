package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martacalvinho/squares2/internal/domain"
)

func TestDefaults_RulesMatchProduction(t *testing.T) {
	r := Defaults().Rules()
	assert.Equal(t, 5, r.Slots)
	assert.Equal(t, domain.Dollars(5), r.CentsPerHour)
	assert.Equal(t, domain.Dollars(5), r.MinContribution)
	assert.Equal(t, 48*time.Hour, r.MaxDuration)
	require.NoError(t, r.Validate())
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"POSTGRES_DSN":        "postgres://x",
		"USE_MEMORY":          "true",
		"BOOST_SLOTS":         "7",
		"BOOST_RATE_PER_HOUR": "2.5",
		"SWEEP_INTERVAL":      "10s",
		"LOG_FORMAT":          "json",
	}
	s := Defaults()
	require.NoError(t, s.applyEnv(func(k string) string { return env[k] }))

	assert.Equal(t, "postgres://x", s.PostgresDSN)
	assert.True(t, s.UseMemory)
	assert.Equal(t, 7, s.Boost.Slots)
	assert.Equal(t, domain.Cents(250), s.Rules().CentsPerHour)
	assert.Equal(t, 10*time.Second, s.Sweep.Interval)
	assert.Equal(t, "json", s.Log.Format)
	assert.Equal(t, ":8080", s.HTTPAddr)
}

func TestApplyEnv_ReportsBadValues(t *testing.T) {
	env := map[string]string{"BOOST_SLOTS": "five", "SWEEP_INTERVAL": "soon"}
	s := Defaults()
	err := s.applyEnv(func(k string) string { return env[k] })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BOOST_SLOTS")
	assert.Contains(t, err.Error(), "SWEEP_INTERVAL")
}

func TestMergeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "boost.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
httpAddr: ":9000"
boost:
  slots: 3
  maxDuration: 24h
sweep:
  interval: 2s
solana:
  recipient: Recipient111
`), 0o600))

	s := Defaults()
	require.NoError(t, s.mergeFile(path))
	assert.Equal(t, ":9000", s.HTTPAddr)
	assert.Equal(t, 3, s.Boost.Slots)
	assert.Equal(t, 24*time.Hour, s.Boost.MaxDuration)
	assert.Equal(t, 2*time.Second, s.Sweep.Interval)
	assert.Equal(t, "Recipient111", s.Solana.Recipient)
	// untouched keys keep their defaults
	assert.Equal(t, float64(5), s.Boost.RatePerHour)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "boost.yaml")
	require.NoError(t, os.WriteFile(path, []byte("boost:\n  slots: 3\nhttpAddr: \":9000\"\n"), 0o600))
	t.Setenv(FileEnv, path)
	t.Setenv("BOOST_SLOTS", "4")

	s, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 4, s.Boost.Slots)
	assert.Equal(t, ":9000", s.HTTPAddr)
}

func TestValidate(t *testing.T) {
	s := Defaults()
	err := s.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres")
	assert.Contains(t, err.Error(), "recipient")

	s.UseMemory = true
	s.Solana.RPCEndpoint = "http://localhost:8899"
	s.Solana.Recipient = "Recipient111"
	assert.NoError(t, s.Validate())

	s.Log.Format = "xml"
	assert.Error(t, s.Validate())
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("# comment\nBOOST_TEST_A=one\nexport BOOST_TEST_B=\"two\"\nBOOST_TEST_C=from-file\nnot a pair\n"), 0o600))
	t.Setenv("BOOST_TEST_C", "from-env")
	t.Cleanup(func() {
		os.Unsetenv("BOOST_TEST_A")
		os.Unsetenv("BOOST_TEST_B")
	})

	loadEnvFile(path)
	assert.Equal(t, "one", os.Getenv("BOOST_TEST_A"))
	assert.Equal(t, "two", os.Getenv("BOOST_TEST_B"))
	assert.Equal(t, "from-env", os.Getenv("BOOST_TEST_C"))
}

func TestSetupLogging(t *testing.T) {
	defer log.SetOutput(os.Stderr)
	defer log.SetLevel(log.InfoLevel)

	file := filepath.Join(t.TempDir(), "boost.log")
	closer, err := SetupLogging(LogSettings{Level: "debug", Format: "json", File: file, MaxSizeMB: 1})
	require.NoError(t, err)
	assert.Equal(t, log.DebugLevel, log.GetLevel())

	log.WithField("component", "test").Info("hello")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"test"`)

	_, err = SetupLogging(LogSettings{Level: "loud"})
	assert.Error(t, err)
}
