package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("ELEVEN_API_KEY", "eleven-key")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Conversation.WindowSize != 20 {
		t.Fatalf("expected default window 20, got %d", cfg.Conversation.WindowSize)
	}
	if cfg.Conversation.MaxCharacterBriefs != 60 {
		t.Fatalf("expected default brief cap 60, got %d", cfg.Conversation.MaxCharacterBriefs)
	}
	if cfg.LLM.Model != "gemini-2.5-flash" {
		t.Fatalf("expected default model, got %q", cfg.LLM.Model)
	}
	if cfg.LLM.APIKey != "test-key" || cfg.TTS.APIKey != "eleven-key" {
		t.Fatalf("expected credentials from conventional env keys")
	}
}

func TestMissingGenerationCredentialsIsFatal(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("FATEWEAVER_LLM_API_KEY", "")
	t.Setenv("FATEWEAVER_TTS_ENABLED", "false")

	if _, err := Load(""); err == nil {
		t.Fatal("expected error when gemini credentials are absent")
	}
}

func TestMissingSynthesisCredentialsIsFatalWhenEnabled(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("ELEVEN_API_KEY", "")
	t.Setenv("FATEWEAVER_TTS_API_KEY", "")

	if _, err := Load(""); err == nil {
		t.Fatal("expected error when elevenlabs credentials are absent")
	}

	t.Setenv("FATEWEAVER_TTS_ENABLED", "false")
	if _, err := Load(""); err != nil {
		t.Fatalf("disabled tts should not need credentials: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FATEWEAVER_LLM_MODE", "mock")
	t.Setenv("FATEWEAVER_TTS_MODE", "mock")
	t.Setenv("FATEWEAVER_TTS_VOICE_POOL", "voice-a, voice-b ,")
	t.Setenv("FATEWEAVER_CONVERSATION_WINDOW_SIZE", "8")
	t.Setenv("FATEWEAVER_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("FATEWEAVER_BUS_ENABLED", "true")
	t.Setenv("FATEWEAVER_CATALOG_RETENTION_MODE", "bounded")
	t.Setenv("FATEWEAVER_CATALOG_MAX_ARTIFACTS", "500")
	t.Setenv("FATEWEAVER_LLM_TEMPERATURE", "0.2")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.Mode != "mock" || cfg.TTS.Mode != "mock" {
		t.Fatalf("expected mock modes, got %s/%s", cfg.LLM.Mode, cfg.TTS.Mode)
	}
	if len(cfg.TTS.VoicePool) != 2 || cfg.TTS.VoicePool[1] != "voice-b" {
		t.Fatalf("unexpected voice pool %v", cfg.TTS.VoicePool)
	}
	if cfg.Conversation.WindowSize != 8 {
		t.Fatalf("expected window 8, got %d", cfg.Conversation.WindowSize)
	}
	if len(cfg.Bus.Servers) != 2 || !cfg.Bus.Enabled {
		t.Fatalf("expected 2 servers on an enabled bus, got %v", cfg.Bus.Servers)
	}
	if cfg.Catalog.RetentionMode != "bounded" || cfg.Catalog.MaxArtifacts != 500 {
		t.Fatalf("expected bounded retention override")
	}
	if cfg.LLM.Temperature != 0.2 {
		t.Fatalf("expected temperature 0.2, got %v", cfg.LLM.Temperature)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fateweaver.yaml")
	data := []byte(`llm:
  mode: ollama
  model: llama3.2:latest
tts:
  mode: mock
  voices:
    Aria: voice-aria
conversation:
  window_size: 4
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LLM.Mode != "ollama" || cfg.LLM.Endpoint == "" {
		t.Fatalf("expected ollama with default endpoint, got %+v", cfg.LLM)
	}
	if cfg.TTS.Voices["Aria"] != "voice-aria" {
		t.Fatalf("expected voice map from file, got %v", cfg.TTS.Voices)
	}
	if cfg.Conversation.WindowSize != 4 {
		t.Fatalf("expected window 4, got %d", cfg.Conversation.WindowSize)
	}
}

func TestMissingConfigFileUsesDefaults(t *testing.T) {
	t.Setenv("FATEWEAVER_LLM_MODE", "mock")
	t.Setenv("FATEWEAVER_TTS_MODE", "mock")

	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err != nil {
		t.Fatalf("absent config file should fall back to defaults: %v", err)
	}
}

func TestInvalidModesRejected(t *testing.T) {
	t.Setenv("FATEWEAVER_LLM_MODE", "carrier-pigeon")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for unknown llm mode")
	}
}

func TestLoadEnvFile(t *testing.T) {
	if err := LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("missing env file should be ignored: %v", err)
	}

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("FATEWEAVER_TEST_DOTENV=loaded\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FATEWEAVER_TEST_DOTENV", "")
	os.Unsetenv("FATEWEAVER_TEST_DOTENV")
	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("load env file: %v", err)
	}
	if got := os.Getenv("FATEWEAVER_TEST_DOTENV"); got != "loaded" {
		t.Fatalf("expected dotenv value, got %q", got)
	}
}
