package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"
)

// maxCompletionBytes caps what a local model command may print for one turn.
const maxCompletionBytes = 1 << 20

var errCompletionTooLarge = errors.New("llm command output exceeds limit")

// execGenerator runs a local model command once per turn. The composed prompt
// is written to stdin as plain text and stdout is taken verbatim as the raw
// reply, which the reply contract parses like any other backend's output.
// Generation settings travel in FATEWEAVER_* environment variables.
type execGenerator struct {
	argv []string
}

func NewExecGenerator(command string) (Generator, error) {
	args, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse llm command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("llm command empty")
	}
	return &execGenerator{argv: args}, nil
}

func (g *execGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	stdout := &cappedBuffer{limit: maxCompletionBytes}
	var stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, g.argv[0], g.argv[1:]...)
	cmd.Stdin = strings.NewReader(req.Prompt)
	cmd.Stdout = stdout
	cmd.Stderr = &stderr
	cmd.Env = append(os.Environ(), requestEnv(req)...)

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if stdout.overflow {
			return errCompletionTooLarge
		}
		if msg := tail(stderr.String(), 512); msg != "" {
			return fmt.Errorf("llm command failed: %w: %s", err, msg)
		}
		return fmt.Errorf("llm command failed: %w", err)
	}

	return consumer(Chunk{
		SessionID: req.SessionID,
		Content:   strings.TrimRight(stdout.String(), "\r\n"),
		Latency:   time.Since(start),
		TraceID:   req.TraceID,
	})
}

func requestEnv(req Request) []string {
	var env []string
	set := func(name, value string) {
		if value != "" {
			env = append(env, name+"="+value)
		}
	}
	set("FATEWEAVER_LLM_MODEL", req.Model)
	if req.MaxTokens > 0 {
		set("FATEWEAVER_LLM_MAX_TOKENS", strconv.Itoa(req.MaxTokens))
	}
	if req.Temperature > 0 {
		set("FATEWEAVER_LLM_TEMPERATURE", strconv.FormatFloat(req.Temperature, 'f', -1, 64))
	}
	set("FATEWEAVER_LLM_SYSTEM", req.System)
	set("FATEWEAVER_SESSION_ID", req.SessionID)
	set("FATEWEAVER_TRACE_ID", req.TraceID)
	return env
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		s = s[len(s)-n:]
	}
	return s
}

// cappedBuffer wraps rather than embeds bytes.Buffer so io.Copy cannot go
// around the limit through ReadFrom.
type cappedBuffer struct {
	buf      bytes.Buffer
	limit    int
	overflow bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if b.buf.Len()+len(p) > b.limit {
		b.overflow = true
		return 0, errCompletionTooLarge
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) String() string { return b.buf.String() }
