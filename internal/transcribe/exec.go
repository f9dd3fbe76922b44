package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/mattn/go-shellwords"
)

// ExecProvider runs a local transcriber (e.g. a whisperx wrapper script) as
// a subprocess. The command receives the audio path plus --model and
// --language flags and must print the transcription JSON to stdout:
//
//	{"text": "...", "segments": [...], "words": [{"text","start","end","score"}]}
//
// The caller's context bounds the run; the process is killed on expiry.
type ExecProvider struct {
	cmd []string
}

// NewExecProvider parses the configured command line.
func NewExecProvider(command string) (*ExecProvider, error) {
	args, err := shellwords.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse asr command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("asr command is empty")
	}
	return &ExecProvider{cmd: args}, nil
}

// Name returns the provider name.
func (p *ExecProvider) Name() string { return "exec" }

// Transcribe runs the subprocess and parses its stdout.
func (p *ExecProvider) Transcribe(ctx context.Context, audioPath string, opts Opts) (*Response, error) {
	args := append([]string{}, p.cmd[1:]...)
	args = append(args, audioPath)
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if opts.Language != "" {
		args = append(args, "--language", opts.Language)
	}

	cmd := exec.CommandContext(ctx, p.cmd[0], args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// Wrapper scripts spawn their own workers, which inherit the output
	// pipes. Kill the whole process group on expiry, and cap the pipe wait
	// so a straggler cannot keep Run blocked past the deadline.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = time.Second

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("asr subprocess timed out: %w", ctx.Err())
		}
		return nil, fmt.Errorf("asr subprocess failed: %w: %s", err, stderr.String())
	}

	var resp Response
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("decode asr output: %w", err)
	}
	return &resp, nil
}
