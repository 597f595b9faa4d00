// Package host provides the application side of a reload: a CommandHost
// that applies the watched file by piping it to an interpreter process.
package host

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/listenupapp/geomwatch/internal/reload"
	"github.com/listenupapp/geomwatch/internal/sse"
)

// Environment variables visible to the interpreter.
const (
	EnvFile      = "GEOMWATCH_FILE"
	EnvNamespace = "GEOMWATCH_NAMESPACE"
	EnvDocument  = "GEOMWATCH_DOCUMENT"
)

// waitDelay bounds how long Execute waits for output pipes after the
// interpreter was killed.
const waitDelay = time.Second

// Notifier receives host events. *sse.Manager satisfies it.
type Notifier interface {
	Publish(eventType string, data any)
}

// Config configures a CommandHost.
type Config struct {
	Interpreter string
	Args        []string
	Timeout     time.Duration
	// DocumentPath is the active document. Empty means there is none.
	DocumentPath string
}

// CommandHost implements reload.Host by running an interpreter with the
// file's source on stdin. Interpreter stdout goes to the message console,
// stderr of a failed run becomes the error detail.
type CommandHost struct {
	cfg      Config
	logger   *slog.Logger
	notifier Notifier
}

var _ reload.Host = (*CommandHost)(nil)

// NewCommandHost creates a host. notifier may be nil.
func NewCommandHost(cfg Config, logger *slog.Logger, notifier Notifier) *CommandHost {
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	return &CommandHost{
		cfg:      cfg,
		logger:   logger,
		notifier: notifier,
	}
}

// Bindings returns the handles every namespace starts with.
func (h *CommandHost) Bindings() reload.Namespace {
	ns := reload.Namespace{
		"App": map[string]any{
			"name": "geomwatch",
			"pid":  os.Getpid(),
		},
	}
	if h.cfg.DocumentPath != "" {
		ns["ActiveDocument"] = h.cfg.DocumentPath
	}
	return ns
}

// Execute runs the interpreter once with source on stdin.
func (h *CommandHost) Execute(ctx context.Context, source string, ns reload.Namespace) error {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
	defer cancel()

	encoded, dropped := encodeNamespace(ns)
	if len(dropped) > 0 {
		h.logger.Debug("bindings not exported to interpreter", "keys", dropped)
	}

	file, _ := ns[reload.KeyFile].(string)

	//#nosec G204 -- the interpreter is configured by the operator
	cmd := exec.CommandContext(ctx, h.cfg.Interpreter, h.cfg.Args...)
	cmd.WaitDelay = waitDelay
	isolate(cmd)
	cmd.Stdin = strings.NewReader(source)
	cmd.Env = append(os.Environ(),
		EnvFile+"="+file,
		EnvNamespace+"="+encoded,
		EnvDocument+"="+h.cfg.DocumentPath,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	h.forward(stdout.String())

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("execution timed out after %s", h.cfg.Timeout)
		}
		if detail := strings.TrimSpace(stderr.String()); detail != "" {
			return fmt.Errorf("%w\n%s", err, detail)
		}
		return err
	}

	if detail := strings.TrimSpace(stderr.String()); detail != "" {
		h.logger.Warn("interpreter wrote to stderr", "output", detail)
	}
	h.logger.Debug("interpreter finished", "interpreter", h.cfg.Interpreter, "duration", time.Since(start))
	return nil
}

// Recompute announces that the document should be rebuilt.
func (h *CommandHost) Recompute(_ context.Context) error {
	if h.cfg.DocumentPath == "" {
		return reload.ErrNoActiveDocument
	}
	h.publish(sse.EventDocumentRecomputed, sse.DocumentEventData{Document: h.cfg.DocumentPath})
	return nil
}

// RefreshUI announces that views should be redrawn.
func (h *CommandHost) RefreshUI(_ context.Context) {
	h.publish(sse.EventUIRefresh, sse.DocumentEventData{Document: h.cfg.DocumentPath})
}

// PrintMessage writes to the informational console.
func (h *CommandHost) PrintMessage(msg string) {
	h.logger.Info(strings.TrimRight(msg, "\n"), "console", "message")
}

// PrintError writes to the error console.
func (h *CommandHost) PrintError(msg string) {
	h.logger.Error(strings.TrimRight(msg, "\n"), "console", "error")
}

func (h *CommandHost) forward(output string) {
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		h.PrintMessage(scanner.Text())
	}
}

func (h *CommandHost) publish(eventType sse.EventType, data any) {
	if h.notifier != nil {
		h.notifier.Publish(string(eventType), data)
	}
}

// encodeNamespace returns the JSON object of every binding that can be
// encoded, and the keys that could not.
func encodeNamespace(ns reload.Namespace) (string, []string) {
	exported := make(map[string]json.RawMessage, len(ns))
	var dropped []string

	for key, value := range ns {
		raw, err := json.Marshal(value)
		if err != nil {
			dropped = append(dropped, key)
			continue
		}
		exported[key] = raw
	}

	out, err := json.Marshal(exported)
	if err != nil {
		return "{}", dropped
	}
	return string(out), dropped
}
