package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoadFromJobDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "jobs", "weather.yaml"), `
name: Weather report
prompt: "What is the weather on {% date %}?"
`)

	cfg, err := LoadFrom(dir, t.TempDir(), discard())
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}

	job, ok := cfg.Jobs["weather"]
	if !ok {
		t.Fatalf("job keyed by filename stem not found; got %v", cfg.Aliases())
	}
	if job.Agent.Type != "claude" {
		t.Errorf("default agent = %q, want claude", job.Agent.Type)
	}
	if job.Environment.Type != "local" {
		t.Errorf("default environment = %q, want local", job.Environment.Type)
	}
	if !job.Agent.SkipPermissionsEnabled() {
		t.Error("skip_permissions default should be true")
	}
}

func TestLoadFromDuplicateAlias(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "jobs", "a.yaml"), "alias: same\nprompt: p\n")
	writeFile(t, filepath.Join(dir, "jobs", "b.yaml"), "alias: same\nprompt: p\n")

	_, err := LoadFrom(dir, t.TempDir(), discard())
	if err == nil {
		t.Fatal("duplicate alias should fail the load")
	}
	if !strings.Contains(err.Error(), "same") {
		t.Errorf("error should name the alias: %v", err)
	}
}

func TestLoadFromSkipsMalformedUnits(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "jobs", "good.yaml"), "prompt: hello\n")
	writeFile(t, filepath.Join(dir, "jobs", "bad.yaml"), "prompt: [unclosed\n")

	cfg, err := LoadFrom(dir, t.TempDir(), discard())
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if _, ok := cfg.Jobs["good"]; !ok {
		t.Error("good job should survive a malformed sibling")
	}
	if _, ok := cfg.Jobs["bad"]; ok {
		t.Error("malformed job should be skipped")
	}
}

func TestLoadFromInputRequiresKnownChannel(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "jobs", "chat.yaml"), `
prompt: p
input:
  channel: nope
`)

	cfg, err := LoadFrom(dir, t.TempDir(), discard())
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if _, ok := cfg.Jobs["chat"]; ok {
		t.Error("job referencing an unknown channel should be dropped")
	}
}

func TestLoadFromStdinIsImplicit(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "jobs", "chat.yaml"), `
prompt: p
input:
  channel: stdin
`)

	cfg, err := LoadFrom(dir, t.TempDir(), discard())
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if _, ok := cfg.Jobs["chat"]; !ok {
		t.Error("stdin input should not require a channel document")
	}
}

func TestLoadFromChannelAndDictionary(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "channels", "term.yaml"), "type: stdin\n")
	writeFile(t, filepath.Join(dir, "dictionary.yaml"), "name: Ana\ncity: Porto\n")
	writeFile(t, filepath.Join(dir, "jobs", "chat.yaml"), `
prompt: p
input:
  channel: term
  trigger: weather
`)

	cfg, err := LoadFrom(dir, t.TempDir(), discard())
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	ch, ok := cfg.Channels["term"]
	if !ok || ch.Type != ChannelStdin {
		t.Fatalf("channel term not loaded: %+v", cfg.Channels)
	}
	if cfg.Dictionary["name"] != "Ana" {
		t.Errorf("dictionary name = %q", cfg.Dictionary["name"])
	}
	job := cfg.Jobs["chat"]
	if job == nil {
		t.Fatal("chat job missing")
	}
	if job.Input.TriggerMatch != MatchAnywhere {
		t.Errorf("trigger_match default = %q, want anywhere", job.Input.TriggerMatch)
	}
}

func TestLoadFromExpandsEnvVars(t *testing.T) {
	t.Setenv("TC_TEST_TOKEN", "tok-123")

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "channels", "tg.yaml"), "type: telegram\ntoken: ${TC_TEST_TOKEN}\n")

	cfg, err := LoadFrom(dir, t.TempDir(), discard())
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Channels["tg"].Token != "tok-123" {
		t.Errorf("token = %q, want expanded value", cfg.Channels["tg"].Token)
	}
}

func TestJobValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Job)
		wantErr bool
	}{
		{"valid minimal", func(j *Job) {}, false},
		{"empty prompt", func(j *Job) { j.Prompt = "" }, true},
		{"unknown agent", func(j *Job) { j.Agent.Type = "gpt" }, true},
		{"unknown environment", func(j *Job) { j.Environment.Type = "chroot" }, true},
		{"bad cron", func(j *Job) { j.Interval = "* * *" }, true},
		{"descriptor cron", func(j *Job) { j.Interval = "@daily" }, false},
		{"five field cron", func(j *Job) { j.Interval = "0 7 * * 1" }, false},
		{"input without channel", func(j *Job) { j.Input = &InputConfig{TriggerMatch: MatchAnywhere} }, true},
		{"bad trigger match", func(j *Job) {
			j.Input = &InputConfig{Channel: "c", TriggerMatch: "fuzzy"}
		}, true},
		{"negative session", func(j *Job) { j.Session = &SessionConfig{Context: -1} }, true},
		{"unknown output", func(j *Job) { j.Outputs = []OutputConfig{{Type: "pigeon"}} }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			job := &Job{Alias: "x", Prompt: "p"}
			job.applyDefaults()
			tt.mutate(job)
			err := job.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
