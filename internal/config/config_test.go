package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func testSettings() *Settings {
	return &Settings{
		ChatURL:    "wss://chat.example.com/chat",
		APIBaseURL: "https://api.example.com",
		Token:      "tok-123",
		UserID:     42,
	}
}

func TestSaveAndLoadSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles", "default", "config.toml")

	want := testSettings()
	if err := SaveSettings(path, want); err != nil {
		t.Fatalf("SaveSettings() error = %v", err)
	}

	got, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}
	if *got != *want {
		t.Errorf("round trip = %+v, want %+v", got, want)
	}
}

func TestLoadSettingsMissing(t *testing.T) {
	if _, err := LoadSettings(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Error("LoadSettings() of missing file = nil error, want error")
	}
}

func TestEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := SaveSettings(path, testSettings()); err != nil {
		t.Fatal(err)
	}

	t.Setenv("AUTOCHAT_CHAT_URL", "wss://other.example.com/chat")
	t.Setenv("AUTOCHAT_TOKEN", "env-token")
	t.Setenv("AUTOCHAT_USER_ID", "99")

	got, err := LoadSettings(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.ChatURL != "wss://other.example.com/chat" {
		t.Errorf("chat url = %q, env must win", got.ChatURL)
	}
	if got.Token != "env-token" {
		t.Errorf("token = %q, env must win", got.Token)
	}
	if got.UserID != 99 {
		t.Errorf("user id = %d, env must win", got.UserID)
	}
	// Untouched field keeps the file value.
	if got.APIBaseURL != "https://api.example.com" {
		t.Errorf("api base = %q", got.APIBaseURL)
	}
}

func TestEnvOverrideBadUserIDIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := SaveSettings(path, testSettings()); err != nil {
		t.Fatal(err)
	}

	t.Setenv("AUTOCHAT_USER_ID", "not-a-number")
	got, err := LoadSettings(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.UserID != 42 {
		t.Errorf("user id = %d, want file value 42 when env is unparseable", got.UserID)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Settings)
		wantErr bool
	}{
		{"complete", func(*Settings) {}, false},
		{"missing chat url", func(s *Settings) { s.ChatURL = "" }, true},
		{"missing api base", func(s *Settings) { s.APIBaseURL = "" }, true},
		{"missing token", func(s *Settings) { s.Token = "" }, true},
		{"missing user id", func(s *Settings) { s.UserID = 0 }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testSettings()
			tc.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestSaveSettingsPermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix permissions")
	}
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := SaveSettings(path, testSettings()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("permissions = %o, want 0600 (file holds a bearer token)", perm)
	}
}

func TestSaveAndLoadGlobal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	if err := SaveGlobal(path, &Global{DefaultProfile: "work"}); err != nil {
		t.Fatal(err)
	}
	got, err := LoadGlobal(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.DefaultProfile != "work" {
		t.Errorf("default profile = %q, want work", got.DefaultProfile)
	}
}
