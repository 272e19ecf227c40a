package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"enrich", "migrate", "status", "runs", "export"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "profile-enrich", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestEnrichCommand_Flags(t *testing.T) {
	count := enrichCmd.Flags().Lookup("count")
	require.NotNil(t, count, "enrich command should have --count flag")
	assert.Equal(t, "5", count.DefValue)

	profiles := enrichCmd.Flags().Lookup("profiles")
	require.NotNil(t, profiles, "enrich command should have --profiles flag")
	assert.Equal(t, "stringSlice", profiles.Value.Type())

	every := enrichCmd.Flags().Lookup("every")
	require.NotNil(t, every, "enrich command should have --every flag")
	assert.Equal(t, "0s", every.DefValue)

	dry := enrichCmd.Flags().Lookup("dry-run")
	require.NotNil(t, dry, "enrich command should have --dry-run flag")
	assert.Equal(t, "false", dry.DefValue)
}

func TestStatusCommand_Flags(t *testing.T) {
	flag := statusCmd.Flags().Lookup("format")
	require.NotNil(t, flag)
	assert.Equal(t, "table", flag.DefValue)
	require.NotNil(t, statusCmd.Flags().Lookup("alert"))
}

func TestRunsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range runsCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["list"])
	assert.True(t, names["stats"])

	limit := runsListCmd.Flags().Lookup("limit")
	require.NotNil(t, limit)
	assert.Equal(t, "20", limit.DefValue)

	since := runsStatsCmd.Flags().Lookup("since")
	require.NotNil(t, since)
	assert.Equal(t, "24h0m0s", since.DefValue)
}

func TestExportCommand_Flags(t *testing.T) {
	flag := exportCmd.Flags().Lookup("out")
	require.NotNil(t, flag)
	assert.Equal(t, "profiles.xlsx", flag.DefValue)
}

func TestCheckEnrichFlags(t *testing.T) {
	t.Cleanup(func() {
		enrichProfiles, enrichEvery, enrichDryRun = nil, 0, false
	})

	tests := []struct {
		name     string
		profiles []string
		every    string
		dryRun   bool
		wantErr  string
	}{
		{name: "batch"},
		{name: "manual", profiles: []string{"alice"}},
		{name: "loop", every: "15m"},
		{name: "dry run", dryRun: true},
		{name: "manual loop", profiles: []string{"alice"}, every: "1m", wantErr: "--every"},
		{name: "manual dry run", profiles: []string{"alice"}, dryRun: true, wantErr: "--dry-run"},
		{name: "negative interval", every: "-1m", wantErr: "must be positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enrichProfiles, enrichDryRun, enrichEvery = tt.profiles, tt.dryRun, 0
			if tt.every != "" {
				require.NoError(t, enrichCmd.Flags().Set("every", tt.every))
			}

			err := checkEnrichFlags()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// inTempDir runs the test from an empty directory holding an optional
// config.yaml.
func inTempDir(t *testing.T, configYAML string) {
	t.Helper()
	dir := t.TempDir()
	if configYAML != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(configYAML), 0o644))
	}
	orig, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(orig) }) //nolint:errcheck
}

func TestRootPreRun_LoadConfigError(t *testing.T) {
	inTempDir(t, "store: [unclosed")

	err := rootCmd.PersistentPreRunE(rootCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
	assert.NotNil(t, eris.Cause(err))
}

func TestRootPreRun_InitLoggerError(t *testing.T) {
	inTempDir(t, "log:\n  level: chatty\n")
	prev := cfg
	t.Cleanup(func() { cfg = prev })

	err := rootCmd.PersistentPreRunE(rootCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "init logger")
	assert.Contains(t, err.Error(), "parse log level")
}
