package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Exit codes the capture helper uses to classify its own failures.
const (
	exitPermissionDenied = 10
	exitTargetVanished   = 11
)

// helperOutput is the JSON the capture helper prints on success.
type helperOutput struct {
	Application string `json:"application"`
	WindowTitle string `json:"window_title"`
	Text        string `json:"text"`
	ContentType string `json:"content_type"`
}

// CommandSource captures screen activity by running a platform helper
// command that prints a JSON snapshot on stdout. Each Capture call runs a
// fresh process under its own deadline.
type CommandSource struct {
	argv    []string
	timeout time.Duration
}

// NewCommandSource creates a source running the given argv. A zero timeout
// defaults to 10 seconds.
func NewCommandSource(argv []string, timeout time.Duration) (*CommandSource, error) {
	if len(argv) == 0 {
		return nil, errors.New("capture command is empty")
	}
	if _, err := exec.LookPath(argv[0]); err != nil {
		return nil, fmt.Errorf("capture helper: %w", err)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CommandSource{argv: argv, timeout: timeout}, nil
}

func (s *CommandSource) Capture(ctx context.Context) (Event, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.argv[0], s.argv[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return Event{}, classifyRunError(err, stderr.String())
	}

	var out helperOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return Event{}, &Error{Kind: Unavailable, Err: fmt.Errorf("decoding helper output: %w", err)}
	}

	text := out.Text
	kind := out.ContentType
	if kind == "" {
		kind = KindText
	}
	if kind == KindHTML {
		stripped, err := VisibleText(strings.NewReader(text))
		if err != nil {
			return Event{}, &Error{Kind: Unavailable, Err: fmt.Errorf("extracting html text: %w", err)}
		}
		text = stripped
	}

	return Event{
		ID:          uuid.NewString(),
		Timestamp:   time.Now().UTC(),
		Application: out.Application,
		WindowTitle: out.WindowTitle,
		Text:        text,
		Kind:        kind,
	}, nil
}

func classifyRunError(err error, stderr string) *Error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		wrapped := err
		if msg := strings.TrimSpace(stderr); msg != "" {
			wrapped = fmt.Errorf("%s: %w", msg, err)
		}
		switch exitErr.ExitCode() {
		case exitPermissionDenied:
			return &Error{Kind: PermissionDenied, Err: wrapped}
		case exitTargetVanished:
			return &Error{Kind: TargetVanished, Err: wrapped}
		default:
			return &Error{Kind: Unavailable, Err: wrapped}
		}
	}
	return &Error{Kind: Unavailable, Err: err}
}
