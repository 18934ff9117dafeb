// Package media probes and cuts audio with the ffmpeg tool suite.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"meeting-ai-pipeline/internal/domain/ports/adapter"
)

var _ adapter.MediaTool = (*FFmpeg)(nil)

// commandResult is an internal process execution response.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := commandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		res.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		}
		return res, err
	}
	return res, nil
}

// CommandError carries the failing invocation for logs.
type CommandError struct {
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s exited with %d: %s", e.Command, e.ExitCode, lastLine(e.Stderr))
}

func (e *CommandError) Unwrap() error { return e.Err }

type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
	runner      commandRunner
	log         *zerolog.Logger
}

func NewFFmpeg(ffmpegPath, ffprobePath string, logger *zerolog.Logger) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	l := logger.With().Str("component", "FFmpeg").Logger()
	return &FFmpeg{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath, runner: execRunner{}, log: &l}
}

// Duration reads the container duration in seconds.
func (f *FFmpeg) Duration(ctx context.Context, path string) (float64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}
	res, err := f.run(ctx, f.ffprobePath, args...)
	if err != nil {
		return 0, err
	}
	out := strings.TrimSpace(res.Stdout)
	if out == "" || out == "N/A" {
		return 0, nil
	}
	d, err := strconv.ParseFloat(out, 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe: parse duration %q: %w", out, err)
	}
	return d, nil
}

// Extract cuts [start, start+length) into a 16kHz mono 16-bit WAV.
func (f *FFmpeg) Extract(ctx context.Context, src, dst string, start, length float64) error {
	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-ss", formatSeconds(start),
		"-t", formatSeconds(length),
		"-i", src,
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		dst,
	}
	_, err := f.run(ctx, f.ffmpegPath, args...)
	return err
}

func (f *FFmpeg) run(ctx context.Context, name string, args ...string) (commandResult, error) {
	res, err := f.runner.Run(ctx, name, args...)
	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		f.log.Debug().Str("cmd", name).Strs("args", args).Int("exit", res.ExitCode).Str("stderr", res.Stderr).Msg("media command failed")
		return res, &CommandError{Command: name, ExitCode: res.ExitCode, Stderr: res.Stderr, Err: err}
	}
	return res, nil
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
