package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"github.com/coderelay/coderelay/internal/logging"
	"github.com/coderelay/coderelay/pkg/types"
)

// maxLineBytes bounds a single stream-json line. Result messages can
// carry large tool outputs.
const maxLineBytes = 16 * 1024 * 1024

// CLIEngine runs queries through an agent CLI speaking newline-framed
// JSON on stdin/stdout.
type CLIEngine struct {
	// Binary is the executable to spawn.
	Binary string
	// Env is appended to the inherited environment.
	Env []string
}

// NewCLIEngine creates an engine backed by the given executable.
func NewCLIEngine(binary string) *CLIEngine {
	return &CLIEngine{Binary: binary}
}

// Query spawns one CLI process for the prompt and returns its message
// stream.
func (e *CLIEngine) Query(ctx context.Context, prompt string, opts *Options) (Stream, error) {
	if opts == nil {
		opts = &Options{}
	}

	args := []string{
		"--print",
		"--verbose",
		"--output-format", "stream-json",
		"--input-format", "stream-json",
	}
	if opts.PermissionMode != "" {
		args = append(args, "--permission-mode", opts.PermissionMode)
	}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if opts.Resume != "" {
		args = append(args, "--resume", opts.Resume)
	}
	if len(opts.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(opts.AllowedTools, ","))
	}
	if len(opts.DisallowedTools) > 0 {
		args = append(args, "--disallowedTools", strings.Join(opts.DisallowedTools, ","))
	}
	if len(opts.SettingSources) > 0 {
		args = append(args, "--setting-sources", strings.Join(opts.SettingSources, ","))
	}
	if opts.CanUseTool != nil {
		args = append(args, "--permission-prompt-tool", "stdio")
	}
	if len(opts.MCPServers) > 0 {
		mcpJSON, err := json.Marshal(map[string]any{"mcpServers": opts.MCPServers})
		if err != nil {
			return nil, fmt.Errorf("encode mcp config: %w", err)
		}
		args = append(args, "--mcp-config", string(mcpJSON))
	}

	cmd := exec.CommandContext(ctx, e.Binary, args...)
	cmd.Dir = opts.Cwd
	cmd.Env = append(os.Environ(), e.Env...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start engine process: %w", err)
	}

	s := &cliStream{
		ctx:    ctx,
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		opts:   opts,
		msgs:   make(chan *types.EngineMessage, 16),
	}

	if err := s.sendUserMessage(prompt); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, fmt.Errorf("send prompt: %w", err)
	}

	go s.readLoop()

	return s, nil
}

// cliStream is one running CLI process.
type cliStream struct {
	ctx    context.Context
	cmd    *exec.Cmd
	stdout io.ReadCloser
	opts   *Options

	writeMu sync.Mutex
	stdin   io.WriteCloser

	msgs chan *types.EngineMessage

	errMu   sync.Mutex
	readErr error

	waitOnce sync.Once
	waitErr  error
}

// wireFrame is the superset of frames the CLI emits: ordinary engine
// messages plus control requests that expect a response on stdin.
type wireFrame struct {
	types.EngineMessage
	RequestID string          `json:"request_id,omitempty"`
	Request   json.RawMessage `json:"request,omitempty"`
}

type controlRequest struct {
	Subtype  string `json:"subtype"`
	ToolName string `json:"tool_name"`
	Input    any    `json:"input"`
}

func (s *cliStream) sendUserMessage(prompt string) error {
	frame := map[string]any{
		"type": "user",
		"message": map[string]any{
			"role":    "user",
			"content": prompt,
		},
	}
	return s.writeFrame(frame)
}

func (s *cliStream) writeFrame(frame any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err = s.stdin.Write(append(data, '\n'))
	return err
}

func (s *cliStream) readLoop() {
	defer close(s.msgs)

	scanner := bufio.NewScanner(s.stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var frame wireFrame
		if err := json.Unmarshal(line, &frame); err != nil {
			logging.Warn().Err(err).Msg("undecodable engine output line")
			continue
		}

		if frame.Type == "control_request" {
			go s.handleControlRequest(frame.RequestID, frame.Request)
			continue
		}

		msg := frame.EngineMessage
		select {
		case s.msgs <- &msg:
		case <-s.ctx.Done():
			s.setErr(s.ctx.Err())
			return
		}
	}

	if err := scanner.Err(); err != nil {
		s.setErr(fmt.Errorf("read engine output: %w", err))
	}
}

// handleControlRequest answers a can_use_tool round trip. Anything the
// callback cannot approve is denied; tool calls never fail open.
func (s *cliStream) handleControlRequest(requestID string, raw json.RawMessage) {
	var req controlRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		logging.Warn().Err(err).Str("requestID", requestID).Msg("undecodable control request")
		return
	}
	if req.Subtype != "can_use_tool" || s.opts.CanUseTool == nil {
		return
	}

	decision, err := s.opts.CanUseTool(s.ctx, req.ToolName, req.Input)
	if err != nil || decision == nil {
		decision = &ToolDecision{Behavior: BehaviorDeny, Message: "approval unavailable"}
	}

	response := map[string]any{
		"behavior": string(decision.Behavior),
	}
	if decision.Behavior == BehaviorAllow {
		response["updatedInput"] = decision.UpdatedInput
	} else {
		response["message"] = decision.Message
	}

	err = s.writeFrame(map[string]any{
		"type":       "control_response",
		"request_id": requestID,
		"response":   response,
	})
	if err != nil {
		logging.Warn().Err(err).Str("requestID", requestID).Msg("control response write failed")
	}
}

func (s *cliStream) setErr(err error) {
	s.errMu.Lock()
	if s.readErr == nil {
		s.readErr = err
	}
	s.errMu.Unlock()
}

func (s *cliStream) takeErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.readErr
}

// Recv returns the next message, or io.EOF once the process exits
// cleanly with its output drained.
func (s *cliStream) Recv() (*types.EngineMessage, error) {
	msg, ok := <-s.msgs
	if ok {
		return msg, nil
	}

	if err := s.takeErr(); err != nil {
		s.wait()
		return nil, err
	}

	if err := s.wait(); err != nil {
		// An interrupt surfaces as SIGINT death; that is normal
		// early termination, not a stream failure.
		if isInterruptExit(err) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("engine process: %w", err)
	}
	return nil, io.EOF
}

func (s *cliStream) wait() error {
	s.waitOnce.Do(func() {
		s.writeMu.Lock()
		_ = s.stdin.Close()
		s.writeMu.Unlock()
		s.waitErr = s.cmd.Wait()
	})
	return s.waitErr
}

// Interrupt signals the process to stop producing.
func (s *cliStream) Interrupt() error {
	if s.cmd.Process == nil {
		return nil
	}
	return s.cmd.Process.Signal(syscall.SIGINT)
}

func isInterruptExit(err error) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		return false
	}
	return status.Signaled() && status.Signal() == syscall.SIGINT
}
