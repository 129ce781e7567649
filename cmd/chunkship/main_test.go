package main

import (
	"path/filepath"
	"testing"

	"github.com/bft-labs/chunkship/internal/cliconfig"
	"github.com/bft-labs/chunkship/pkg/chunkship"
)

func TestLibraryConfig(t *testing.T) {
	tests := []struct {
		driver   string
		wantPath string
	}{
		{cliconfig.QueueMemory, ""},
		{cliconfig.QueueBadger, filepath.Join("/state", "queue")},
		{cliconfig.QueueSQLite, filepath.Join("/state", "queue.db")},
	}

	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			cfg := cliconfig.DefaultConfig()
			cfg.SpoolDir = "/spool"
			cfg.StateDir = "/state"
			cfg.ProjectKey = "key"
			cfg.QueueDriver = tt.driver

			lib := libraryConfig(cfg)
			if lib.QueuePath != tt.wantPath {
				t.Errorf("QueuePath = %q, want %q", lib.QueuePath, tt.wantPath)
			}
			if lib.StatusDir != "/state" {
				t.Errorf("StatusDir = %q", lib.StatusDir)
			}
			if lib.BreakerThreshold != uint32(cfg.BreakerThreshold) {
				t.Errorf("BreakerThreshold = %d", lib.BreakerThreshold)
			}
			lib.SetDefaults()
			if err := lib.Validate(); err != nil {
				t.Errorf("Validate() = %v", err)
			}
		})
	}
}

func TestLibraryConfig_BreakerDisabled(t *testing.T) {
	cfg := cliconfig.DefaultConfig()
	cfg.BreakerThreshold = 0
	if got := libraryConfig(cfg).BreakerThreshold; got != 0 {
		t.Errorf("BreakerThreshold = %d, want 0", got)
	}
	if chunkship.QueueDriver(cfg.QueueDriver) != chunkship.QueueMemory {
		t.Errorf("default driver = %q", cfg.QueueDriver)
	}
}
