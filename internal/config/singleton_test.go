package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func resetGlobals() {
	globalConfig = nil
	initOnce = *new(sync.Once)
}

func writeTestConfig(t *testing.T, dir string) string {
	t.Helper()
	modelsDir := filepath.Join(dir, "models")
	if err := os.Mkdir(modelsDir, 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	configPath := filepath.Join(dir, "config.yaml")
	content := "model_manager:\n  models_directory: " + modelsDir + "\n"
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return configPath
}

func TestInitialize(t *testing.T) {
	resetGlobals()
	dir := t.TempDir()
	configPath := writeTestConfig(t, dir)

	if err := Initialize(configPath); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	cfg := Get()
	if cfg == nil {
		t.Fatal("expected non-nil config after Initialize")
	}
	if cfg.Server.ListenAddress != DefaultListenAddress {
		t.Errorf("ListenAddress = %q, want default %q", cfg.Server.ListenAddress, DefaultListenAddress)
	}
}

func TestInitializeMultipleCallsIgnored(t *testing.T) {
	resetGlobals()
	dir := t.TempDir()
	configPath1 := writeTestConfig(t, dir)

	otherDir := t.TempDir()
	configPath2 := writeTestConfig(t, otherDir)

	if err := Initialize(configPath1); err != nil {
		t.Fatalf("first Initialize: %v", err)
	}
	first := Get()

	if err := Initialize(configPath2); err != nil {
		t.Fatalf("second Initialize: %v", err)
	}
	second := Get()

	if first != second {
		t.Error("expected second Initialize call to be ignored (sync.Once)")
	}
}

func TestMustGetPanicsWithoutInitialize(t *testing.T) {
	resetGlobals()
	defer func() {
		if recover() == nil {
			t.Fatal("expected MustGet to panic before Initialize")
		}
	}()
	MustGet()
}

func TestReload(t *testing.T) {
	resetGlobals()
	dir := t.TempDir()
	configPath := writeTestConfig(t, dir)

	if err := Initialize(configPath); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if err := os.WriteFile(configPath, []byte("model_manager:\n  models_directory: "+Get().ModelManager.ModelsDirectory+"\n  n_threads: 16\n"), 0o644); err != nil {
		t.Fatalf("rewriting config: %v", err)
	}

	if err := Reload(configPath); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if Get().ModelManager.NThreads != 16 {
		t.Errorf("NThreads after reload = %d, want 16", Get().ModelManager.NThreads)
	}
}

func TestSet(t *testing.T) {
	resetGlobals()
	cfg := &Config{}
	Set(cfg)
	if Get() != cfg {
		t.Error("Get did not return the config installed by Set")
	}
}
