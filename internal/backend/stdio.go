package backend

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/revittco/mcpgate/internal/mcpwire"
)

// stdioSession manages one subprocess MCP peer over its stdin/stdout pipe.
// Because the pipe is a single stream, concurrent callers are multiplexed
// using MCP's own request-id correlation: a dedicated reader goroutine
// demultiplexes incoming response lines into an id-keyed in-flight map,
// while writers serialize only the act of writing a request line (§9's
// "per-session single-stream multiplexing" design note).
type stdioSession struct {
	command string
	args    []string
	env     []string

	mu      sync.Mutex // guards cmd/stdin/started/stopped lifecycle transitions
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	started bool

	writeMu sync.Mutex // serializes writes to stdin

	inflightMu sync.Mutex
	inflight   map[int64]chan mcpwire.Response

	nextID atomic.Int64

	// onNotification, if set, is invoked from the reader goroutine for every
	// backend-initiated notification frame (id omitted, method present) —
	// used to forward notifications/progress to the connected client (§4.7).
	onNotification func(method string, params json.RawMessage)

	done chan struct{}
}

// setNotificationHandler registers the callback invoked for backend-initiated
// notification frames. Satisfies the optional notifiable interface.
func (s *stdioSession) setNotificationHandler(fn func(method string, params json.RawMessage)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onNotification = fn
}

func newStdioSession(command string, args []string, env []string) *stdioSession {
	return &stdioSession{
		command:  command,
		args:     args,
		env:      env,
		inflight: make(map[int64]chan mcpwire.Response),
		done:     make(chan struct{}),
	}
}

// start launches the subprocess and the reader goroutine, then performs the
// MCP initialize handshake.
func (s *stdioSession) start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	cmd := exec.Command(s.command, s.args...)
	cmd.Env = s.env
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("backend: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("backend: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("backend: starting %s: %w", s.command, err)
	}

	s.cmd = cmd
	s.stdin = stdin
	s.started = true

	go s.readLoop(stdout)
	go s.monitor()

	initParams, _ := json.Marshal(mcpwire.InitializeParams{
		ProtocolVersion: "2024-11-05",
		ClientInfo:      mcpwire.ClientInfo{Name: "mcpgate", Version: "0.1.0"},
	})
	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := s.callLocked(initCtx, "initialize", initParams); err != nil {
		return fmt.Errorf("backend: initialize handshake: %w", err)
	}
	return nil
}

// readLoop scans response lines from the subprocess and dispatches each to
// the in-flight channel matching its id; this is the "dedicated reader
// task" that fans out responses across concurrent callers.
func (s *stdioSession) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var frame struct {
			ID     any             `json:"id,omitempty"`
			Method string          `json:"method,omitempty"`
			Params json.RawMessage `json:"params,omitempty"`
		}
		if err := json.Unmarshal(line, &frame); err != nil {
			continue
		}

		if frame.ID == nil && frame.Method != "" {
			if s.onNotification != nil {
				s.onNotification(frame.Method, frame.Params)
			}
			continue
		}

		var resp mcpwire.Response
		if err := json.Unmarshal(line, &resp); err != nil {
			continue
		}
		id, ok := toInt64(resp.ID)
		if !ok {
			continue
		}
		s.inflightMu.Lock()
		ch, ok := s.inflight[id]
		if ok {
			delete(s.inflight, id)
		}
		s.inflightMu.Unlock()
		if ok {
			ch <- resp
		}
	}
	close(s.done)
}

func (s *stdioSession) monitor() {
	<-s.done
}

func toInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case float64:
		return int64(t), true
	case int64:
		return t, true
	case int:
		return int64(t), true
	default:
		return 0, false
	}
}

// call sends a JSON-RPC request and waits for its correlated response.
func (s *stdioSession) call(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	return s.callLocked(ctx, method, params)
}

func (s *stdioSession) callLocked(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	id := s.nextID.Add(1)
	ch := make(chan mcpwire.Response, 1)

	s.inflightMu.Lock()
	s.inflight[id] = ch
	s.inflightMu.Unlock()

	req := mcpwire.Request{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	line, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	line = append(line, '\n')

	s.writeMu.Lock()
	_, werr := s.stdin.Write(line)
	s.writeMu.Unlock()
	if werr != nil {
		s.inflightMu.Lock()
		delete(s.inflight, id)
		s.inflightMu.Unlock()
		return nil, fmt.Errorf("backend: writing request: %w", werr)
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		s.inflightMu.Lock()
		delete(s.inflight, id)
		s.inflightMu.Unlock()
		return nil, ctx.Err()
	case <-s.done:
		return nil, fmt.Errorf("backend: session closed while awaiting response to %s", method)
	}
}

func (s *stdioSession) stop() {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}
	if s.stdin != nil {
		_ = s.stdin.Close()
	}
	select {
	case <-s.done:
	case <-time.After(5 * time.Second):
		_ = cmd.Process.Kill()
	}
}

// alive reports whether the subprocess is still believed to be running.
func (s *stdioSession) alive() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}
