package transcribe

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake_asr.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestExecProviderParsesOutput(t *testing.T) {
	script := writeScript(t, `echo '{"text":"hi there","words":[{"text":"hi","start":0,"end":0.4,"score":0.93}]}'`)
	p, err := NewExecProvider("/bin/sh " + script)
	if err != nil {
		t.Fatalf("NewExecProvider: %v", err)
	}

	resp, err := p.Transcribe(context.Background(), "audio.wav", Opts{Model: "base", Language: "en"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if resp.Text != "hi there" {
		t.Errorf("Text = %q, want %q", resp.Text, "hi there")
	}
	if len(resp.Words) != 1 || resp.Words[0].Score != 0.93 {
		t.Errorf("Words = %+v", resp.Words)
	}
}

func TestExecProviderCommandFailure(t *testing.T) {
	script := writeScript(t, `echo "model blew up" >&2; exit 1`)
	p, err := NewExecProvider("/bin/sh " + script)
	if err != nil {
		t.Fatalf("NewExecProvider: %v", err)
	}

	if _, err := p.Transcribe(context.Background(), "audio.wav", Opts{}); err == nil {
		t.Fatal("expected error from failing subprocess")
	}
}

func TestExecProviderTimebox(t *testing.T) {
	// The wrapper spawns its own worker, which inherits the stdout pipe.
	// Killing only the wrapper would leave Run blocked until the worker exits.
	script := writeScript(t, `/bin/sh -c 'sleep 5'`)
	p, err := NewExecProvider("/bin/sh " + script)
	if err != nil {
		t.Fatalf("NewExecProvider: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = p.Transcribe(ctx, "audio.wav", Opts{})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if time.Since(start) > 2*time.Second {
		t.Error("subprocess was not killed on context expiry")
	}
}

func TestNewExecProviderEmptyCommand(t *testing.T) {
	if _, err := NewExecProvider(""); err == nil {
		t.Error("expected error for empty command")
	}
}
