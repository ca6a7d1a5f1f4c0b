package scanning

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Runner runs an external command. Tests swap in a stub.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	if err != nil {
		slog.Error("exec failed",
			"cmd", name,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
			"stderr", truncate(errb.String(), 8<<10),
		)
	} else {
		slog.Debug("exec ok",
			"cmd", name,
			"args", strings.Join(args, " "),
			"duration_ms", time.Since(start).Milliseconds(),
			"stdout_bytes", out.Len(),
		)
	}
	return out.Bytes(), errb.Bytes(), err
}

// Tesseract implements the Recognizer interface with the tesseract CLI
type Tesseract struct {
	binary      string
	tessdataDir string
	tmpDir      string
	runner      Runner
}

// TesseractOption configures a Tesseract recognizer
type TesseractOption func(*Tesseract)

// WithTessdataDir points tesseract at a custom language data directory
func WithTessdataDir(dir string) TesseractOption {
	return func(t *Tesseract) { t.tessdataDir = dir }
}

// WithRunner replaces the command runner
func WithRunner(r Runner) TesseractOption {
	return func(t *Tesseract) { t.runner = r }
}

// WithTempDir sets where images are staged for tesseract
func WithTempDir(dir string) TesseractOption {
	return func(t *Tesseract) { t.tmpDir = dir }
}

// NewTesseract creates a recognizer that shells out to binary ("tesseract" if empty)
func NewTesseract(binary string, opts ...TesseractOption) *Tesseract {
	if binary == "" {
		binary = "tesseract"
	}
	t := &Tesseract{binary: binary, runner: execRunner{}}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Recognize runs `tesseract <image> stdout -l <lang>` on a staged PNG copy
func (t *Tesseract) Recognize(ctx context.Context, imageData []byte, contentType, lang string, progress ProgressFunc) (string, error) {
	report(progress, 0)

	pngData, _, err := PrepareImage(imageData, contentType)
	if err != nil {
		return "", err
	}
	report(progress, 20)

	f, err := os.CreateTemp(t.tmpDir, "receipt-*.png")
	if err != nil {
		return "", fmt.Errorf("creating temp image: %w", err)
	}
	defer os.Remove(f.Name())

	if _, err := f.Write(pngData); err != nil {
		f.Close()
		return "", fmt.Errorf("writing temp image: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing temp image: %w", err)
	}
	report(progress, 30)

	if lang == "" {
		lang = "eng"
	}
	args := []string{f.Name(), "stdout", "-l", lang}
	if t.tessdataDir != "" {
		args = append(args, "--tessdata-dir", t.tessdataDir)
	}

	out, errb, err := t.runner.Run(ctx, t.binary, args...)
	if err != nil {
		if msg := strings.TrimSpace(string(errb)); msg != "" {
			return "", fmt.Errorf("tesseract: %w: %s", err, truncate(msg, 512))
		}
		return "", fmt.Errorf("tesseract: %w", err)
	}

	report(progress, 100)
	return string(out), nil
}

// Close is a no-op; tesseract runs as a short-lived process
func (t *Tesseract) Close() error {
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
