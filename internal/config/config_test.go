package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "dataDir: /var/lib/openshelf\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DataDir != "/var/lib/openshelf" {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, "/var/lib/openshelf")
	}
	if cfg.UploadStorage != "fs" {
		t.Errorf("UploadStorage = %q, want fs", cfg.UploadStorage)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.MaxUploadBytes <= 0 {
		t.Errorf("MaxUploadBytes = %d, want positive default", cfg.MaxUploadBytes)
	}
}

func TestLoadMinioRequiresCredentials(t *testing.T) {
	path := writeConfig(t, "uploadStorage: minio\n")
	if _, err := Load(path); err == nil {
		t.Fatal("Load() with minio storage and no endpoint should fail")
	}
}

func TestLoadRejectsUnknownStorage(t *testing.T) {
	path := writeConfig(t, "uploadStorage: ftp\n")
	if _, err := Load(path); err == nil {
		t.Fatal("Load() with unknown storage should fail")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("OPENSHELF_DATA_DIR", "/tmp/override")
	path := writeConfig(t, "dataDir: /var/lib/openshelf\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DataDir != "/tmp/override" {
		t.Errorf("DataDir = %q, want env override /tmp/override", cfg.DataDir)
	}
}

func TestEnvOverridesEveryKey(t *testing.T) {
	t.Setenv("OPENSHELF_LOG_LEVEL", "debug")
	t.Setenv("OPENSHELF_UPLOAD_STORAGE", "minio")
	t.Setenv("OPENSHELF_IMAGE_MAX_WIDTH", "800")
	t.Setenv("MINIO_ENDPOINT", "minio:9000")
	t.Setenv("MINIO_ACCESS_KEY", "ak")
	t.Setenv("MINIO_SECRET_KEY", "sk")
	t.Setenv("MINIO_BUCKET", "books")

	path := writeConfig(t, "dataDir: /var/lib/openshelf\nlogLevel: info\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.UploadStorage != "minio" {
		t.Errorf("UploadStorage = %q, want minio", cfg.UploadStorage)
	}
	if cfg.ImageMaxWidth != 800 {
		t.Errorf("ImageMaxWidth = %d, want 800", cfg.ImageMaxWidth)
	}
}
