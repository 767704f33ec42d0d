// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/jessevdk/go-flags"
	"github.com/stretchr/testify/require"
)

// TestConfigNetParams maps every network choice to its parameters.
func TestConfigNetParams(t *testing.T) {
	t.Parallel()

	tests := []struct {
		network string
		want    *chaincfg.Params
	}{
		{"mainnet", &chaincfg.MainNetParams},
		{"testnet3", &chaincfg.TestNet3Params},
		{"regtest", &chaincfg.RegressionNetParams},
		{"signet", &chaincfg.SigNetParams},
		{"simnet", &chaincfg.SimNetParams},
	}

	for _, tc := range tests {
		t.Run(tc.network, func(t *testing.T) {
			t.Parallel()

			cfg := defaultConfig()
			cfg.Network = tc.network

			got, err := cfg.netParams()
			require.NoError(t, err)
			require.Equal(t, tc.want.Name, got.Name)
		})
	}

	cfg := defaultConfig()
	cfg.Network = "nonet"
	_, err := cfg.netParams()
	require.Error(t, err)
}

// TestConfigValidate covers the option combinations validate rejects.
func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*config)
		wantErr bool
	}{
		{
			name:   "defaults",
			mutate: func(*config) {},
		},
		{
			name:    "zero parallel",
			mutate:  func(c *config) { c.Parallel = 0 },
			wantErr: true,
		},
		{
			name:    "postgres without dsn",
			mutate:  func(c *config) { c.Backend = backendPostgres },
			wantErr: true,
		},
		{
			name: "postgres with dsn",
			mutate: func(c *config) {
				c.Backend = backendPostgres
				c.Postgres.DSN = "postgres://localhost/wallet"
			},
		},
		{
			name:    "rpc without host",
			mutate:  func(c *config) { c.Source = sourceRPC },
			wantErr: true,
		},
		{
			name:    "regtest esplora without url",
			mutate:  func(c *config) { c.Network = "regtest" },
			wantErr: true,
		},
		{
			name: "regtest esplora with url",
			mutate: func(c *config) {
				c.Network = "regtest"
				c.Esplora.URL = "http://127.0.0.1:3002"
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// Arrange:
			cfg := defaultConfig()
			tc.mutate(cfg)

			// Act:
			err := cfg.validate()

			// Assert:
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

// TestConfigEsploraURL checks an explicit URL wins over the network default.
func TestConfigEsploraURL(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	cfg.Network = "testnet3"

	url, err := cfg.esploraURL()
	require.NoError(t, err)
	require.Equal(t, defaultEsploraURLs["testnet3"], url)

	cfg.Esplora.URL = "https://example.com/api"
	url, err = cfg.esploraURL()
	require.NoError(t, err)
	require.Equal(t, "https://example.com/api", url)
}

// TestLoadConfigFile checks the config file is read and the command line
// overrides it.
func TestLoadConfigFile(t *testing.T) {
	t.Parallel()

	// Arrange:
	dir := t.TempDir()
	file := filepath.Join(dir, defaultConfigFilename)
	err := os.WriteFile(file, []byte(
		"[Application Options]\nnetwork=signet\nparallel=8\n\n" +
			"[Esplora]\nesplora.rps=5\n",
	), 0600)
	require.NoError(t, err)

	cfg := defaultConfig()
	parser := flags.NewParser(cfg, flags.Default)

	args := []string{"--configfile=" + file, "--parallel=2"}

	// Act:
	require.NoError(t, loadConfig(cfg, parser, args))
	_, err = parser.ParseArgs(args)

	// Assert:
	require.NoError(t, err)
	require.Equal(t, "signet", cfg.Network)
	require.Equal(t, 2, cfg.Parallel)
	require.Equal(t, 5, cfg.Esplora.RequestsPerSecond)
}

// TestLoadConfigMissingFile only tolerates a missing default config file.
func TestLoadConfigMissingFile(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	parser := flags.NewParser(cfg, flags.Default)

	missing := filepath.Join(t.TempDir(), "nope.conf")
	err := loadConfig(cfg, parser, []string{"--configfile=" + missing})
	require.Error(t, err)
}

// TestParseAndSetDebugLevels covers the global and per subsystem forms.
func TestParseAndSetDebugLevels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		level   string
		wantErr bool
	}{
		{level: "debug"},
		{level: "WLLT=trace,CHNS=warn"},
		{level: "loud", wantErr: true},
		{level: "NOPE=debug", wantErr: true},
		{level: "WLLT=loud", wantErr: true},
		{level: "WLLT=debug,info", wantErr: true},
	}

	for _, tc := range tests {
		err := parseAndSetDebugLevels(tc.level)
		if tc.wantErr {
			require.Error(t, err, tc.level)
			continue
		}
		require.NoError(t, err, tc.level)
	}

	require.Contains(t, supportedSubsystems(), "WLLT")
}
