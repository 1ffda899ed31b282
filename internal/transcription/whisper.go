package transcription

import (
	"bufio"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

//go:embed assets/faster_whisper_worker.py
var workerScript []byte

// WhisperConfig configures the faster-whisper helper process
type WhisperConfig struct {
	Python      string
	Model       string
	Device      string
	ComputeType string
	Threads     int
	Options     Options
}

// FasterWhisper keeps one faster-whisper model loaded in a Python helper
// process and sends it one file at a time over stdin/stdout. A helper that
// dies is started again on the next request.
type FasterWhisper struct {
	options    Options
	newCmd     func() *exec.Cmd
	proc       *helperProc
	scriptPath string
	nextID     int64
	closed     bool
	mu         sync.Mutex // the helper answers one request at a time
}

type helperProc struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	stderr io.Closer
}

var _ Recognizer = (*FasterWhisper)(nil)

type helperRequest struct {
	ID    int64  `json:"id"`
	Audio string `json:"audio"`
	Options
}

type helperResponse struct {
	ID    *int64 `json:"id"`
	Ready bool   `json:"ready"`
	Model string `json:"model"`
	Error string `json:"error"`
	Recognition
}

// NewFasterWhisper starts the helper and blocks until the model is loaded
func NewFasterWhisper(cfg WhisperConfig) (*FasterWhisper, error) {
	if cfg.Python == "" {
		cfg.Python = "python3"
	}

	script, err := os.CreateTemp("", "faster_whisper_worker-*.py")
	if err != nil {
		return nil, fmt.Errorf("failed to create helper script: %w", err)
	}
	if _, err := script.Write(workerScript); err != nil {
		script.Close()
		os.Remove(script.Name())
		return nil, fmt.Errorf("failed to write helper script: %w", err)
	}
	script.Close()

	log.Infof("Loading faster-whisper model: %s (%s, %s)", cfg.Model, cfg.Device, cfg.ComputeType)

	newCmd := func() *exec.Cmd {
		return exec.Command(cfg.Python, script.Name(),
			"--model", cfg.Model,
			"--device", cfg.Device,
			"--compute-type", cfg.ComputeType,
			"--threads", strconv.Itoa(cfg.Threads),
		)
	}
	fw, err := startHelper(newCmd, cfg.Options)
	if err != nil {
		os.Remove(script.Name())
		return nil, err
	}
	fw.scriptPath = script.Name()

	log.Infof("Model loaded successfully")
	return fw, nil
}

func startHelper(newCmd func() *exec.Cmd, opts Options) (*FasterWhisper, error) {
	fw := &FasterWhisper{
		options: opts,
		newCmd:  newCmd,
	}
	proc, err := spawnHelper(newCmd())
	if err != nil {
		return nil, err
	}
	fw.proc = proc
	return fw, nil
}

// spawnHelper starts cmd and waits for the model-loaded message
func spawnHelper(cmd *exec.Cmd) (*helperProc, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("helper stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("helper stdout: %w", err)
	}
	stderr := log.StandardLogger().WriterLevel(log.DebugLevel)
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		stderr.Close()
		return nil, fmt.Errorf("failed to start whisper helper: %w", err)
	}

	proc := &helperProc{
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
		stderr: stderr,
	}

	ready, err := proc.readResponse()
	if err == nil && !ready.Ready {
		err = fmt.Errorf("whisper helper failed to load model: %s", ready.Error)
	}
	if err != nil {
		proc.stop()
		return nil, err
	}
	return proc, nil
}

// Transcribe sends one file to the helper and waits for its segments.
// A request in flight cannot be interrupted.
func (fw *FasterWhisper) Transcribe(ctx context.Context, audioPath string) (*Recognition, error) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	absAudioPath, err := filepath.Abs(audioPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	if fw.closed {
		return nil, errors.New("whisper helper is closed")
	}
	if fw.proc == nil {
		log.Warn("Restarting whisper helper")
		proc, err := spawnHelper(fw.newCmd())
		if err != nil {
			return nil, err
		}
		fw.proc = proc
	}

	log.Infof("Transcribing with faster-whisper: %s", audioPath)

	fw.nextID++
	id := fw.nextID
	data, err := json.Marshal(helperRequest{ID: id, Audio: absAudioPath, Options: fw.options})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	if _, err := fw.proc.stdin.Write(append(data, '\n')); err != nil {
		fw.reap()
		return nil, fmt.Errorf("failed to send request to whisper helper: %w", err)
	}

	resp, err := fw.proc.readResponse()
	if err != nil {
		fw.reap()
		return nil, err
	}
	if resp.ID == nil || *resp.ID != id {
		fw.reap()
		return nil, fmt.Errorf("whisper helper answered out of order (want request %d)", id)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("whisper transcription failed: %s", resp.Error)
	}

	log.Infof("Transcription completed: %d segments, %.2fs duration", len(resp.Segments), resp.Duration)
	return &resp.Recognition, nil
}

// reap drops a helper whose stream is broken; the next request starts a new one
func (fw *FasterWhisper) reap() {
	if err := fw.proc.stop(); err != nil {
		log.WithError(err).Warn("Whisper helper exited")
	}
	fw.proc = nil
}

func (p *helperProc) readResponse() (*helperResponse, error) {
	line, err := p.stdout.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("whisper helper exited: %w", err)
	}
	var resp helperResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse whisper helper output: %w", err)
	}
	return &resp, nil
}

// Close stops the helper process
func (fw *FasterWhisper) Close() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	fw.closed = true
	var err error
	if fw.proc != nil {
		err = fw.proc.stop()
		fw.proc = nil
	}
	if fw.scriptPath != "" {
		os.Remove(fw.scriptPath)
	}
	return err
}

func (p *helperProc) stop() error {
	p.stdin.Close()

	done := make(chan error, 1)
	go func() { done <- p.cmd.Wait() }()

	var err error
	select {
	case err = <-done:
	case <-time.After(10 * time.Second):
		log.Warnf("Whisper helper did not exit, killing it")
		p.cmd.Process.Kill()
		err = <-done
	}
	p.stderr.Close()
	return err
}
