package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
timezone: "America/New_York"
source:
  dsn: "postgres://localhost/bookings"
database:
  path: "test.db"
cameras:
  - id: cam-1
    device: /dev/video0
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Timezone != "America/New_York" {
		t.Errorf("expected timezone America/New_York, got %s", cfg.Timezone)
	}

	if len(cfg.Cameras) != 1 || cfg.Cameras[0].ID != "cam-1" {
		t.Errorf("expected 1 camera with id cam-1")
	}

	// Defaults applied
	if cfg.Cameras[0].Width != 1920 || cfg.Cameras[0].FPS != 30 {
		t.Errorf("expected camera defaults 1920/30, got %d/%d", cfg.Cameras[0].Width, cfg.Cameras[0].FPS)
	}
	if cfg.Upload.MaxAttempts != 3 {
		t.Errorf("expected default max_attempts 3, got %d", cfg.Upload.MaxAttempts)
	}
	if cfg.Backoff.CapSeconds != 30 {
		t.Errorf("expected default backoff cap 30, got %d", cfg.Backoff.CapSeconds)
	}
}

func TestLoadConfigEnvExpansion(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	t.Setenv("SOURCE_DSN", "postgres://host/db")

	yamlContent := `
source:
  dsn: "${SOURCE_DSN}"
database:
  path: "test.db"
cameras:
  - id: cam-1
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Source.DSN != "postgres://host/db" {
		t.Errorf("expected env-expanded dsn, got %s", cfg.Source.DSN)
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid config",
			cfg: Config{
				Source:   SourceConfig{DSN: "postgres://localhost/bookings"},
				Database: DatabaseConfig{Path: "path"},
				Cameras:  []CameraConfig{{ID: "cam-1"}},
			},
			wantErr: false,
		},
		{
			name: "missing dsn",
			cfg: Config{
				Database: DatabaseConfig{Path: "path"},
				Cameras:  []CameraConfig{{ID: "cam-1"}},
			},
			wantErr: true,
		},
		{
			name: "no cameras",
			cfg: Config{
				Source:   SourceConfig{DSN: "postgres://localhost/bookings"},
				Database: DatabaseConfig{Path: "path"},
			},
			wantErr: true,
		},
		{
			name: "duplicate camera id",
			cfg: Config{
				Source:   SourceConfig{DSN: "postgres://localhost/bookings"},
				Database: DatabaseConfig{Path: "path"},
				Cameras:  []CameraConfig{{ID: "cam-1"}, {ID: "cam-1"}},
			},
			wantErr: true,
		},
		{
			name: "bad timezone",
			cfg: Config{
				Timezone: "Not/AZone",
				Source:   SourceConfig{DSN: "postgres://localhost/bookings"},
				Database: DatabaseConfig{Path: "path"},
				Cameras:  []CameraConfig{{ID: "cam-1"}},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
