package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// Client drives an ipc agent process over its stdin and stdout.
type Client struct {
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	reader   *bufio.Reader
	nextID   int64
	mu       sync.Mutex
	stderrMu sync.Mutex
	stderr   strings.Builder

	// OnLog receives the log entries the agent forwards between responses.
	OnLog func(entry json.RawMessage)
}

// NewClient starts the agent at executablePath with args.
func NewClient(executablePath string, args ...string) (*Client, error) {
	pathText := strings.TrimSpace(executablePath)
	if pathText == "" {
		return nil, fmt.Errorf("ipc agent path is empty")
	}
	info, err := os.Stat(pathText)
	if err != nil {
		return nil, fmt.Errorf("ipc agent not found: %s", pathText)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("ipc agent path is a directory: %s", pathText)
	}

	cmd := exec.Command(pathText, args...)
	configureAgentProcess(cmd)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open ipc agent stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open ipc agent stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open ipc agent stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ipc agent: %w", err)
	}

	client := newClient(stdin, stdout)
	client.cmd = cmd
	go client.captureStderr(stderr)
	return client, nil
}

func newClient(stdin io.WriteCloser, stdout io.Reader) *Client {
	return &Client{
		stdin:  stdin,
		reader: bufio.NewReaderSize(stdout, scannerInitialBytes),
	}
}

func (c *Client) captureStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 8<<10), scannerMaxBytes)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		c.stderrMu.Lock()
		if c.stderr.Len() > 0 {
			c.stderr.WriteString(" | ")
		}
		c.stderr.WriteString(line)
		c.stderrMu.Unlock()
	}
}

func (c *Client) stderrText() string {
	c.stderrMu.Lock()
	defer c.stderrMu.Unlock()
	return strings.TrimSpace(c.stderr.String())
}

func (c *Client) wrap(action string, err error) error {
	if text := c.stderrText(); text != "" {
		return fmt.Errorf("failed to %s ipc agent: %w (stderr: %s)", action, err, text)
	}
	return fmt.Errorf("failed to %s ipc agent: %w", action, err)
}

// Call sends payload and passes every response to onResponse until the
// agent marks the request done.
func (c *Client) Call(ctx context.Context, payload Payload, onResponse func(status int, response json.RawMessage)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	req := Request{ID: c.nextID, Payload: payload}
	line, err := json.Marshal(req)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	if _, err := c.stdin.Write(line); err != nil {
		return c.wrap("call", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, err := c.reader.ReadBytes('\n')
		if err != nil {
			return c.wrap("read", err)
		}
		var resp Response
		if err := json.Unmarshal(raw, &resp); err != nil {
			return fmt.Errorf("failed to parse ipc agent response: %w", err)
		}
		switch {
		case resp.ID == 0:
			if c.OnLog != nil {
				c.OnLog(logEntry(resp.Response))
			}
		case resp.ID != req.ID:
			continue
		case resp.Done:
			return nil
		default:
			if onResponse != nil {
				onResponse(resp.Status, resp.Response)
			}
		}
	}
}

func logEntry(response json.RawMessage) json.RawMessage {
	var wrapper struct {
		Log json.RawMessage `json:"log"`
	}
	if err := json.Unmarshal(response, &wrapper); err != nil || len(wrapper.Log) == 0 {
		return response
	}
	return wrapper.Log
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var closeErr error
	if c.stdin != nil {
		_ = c.stdin.Close()
	}
	if c.cmd != nil && c.cmd.Process != nil {
		if err := c.cmd.Process.Kill(); err != nil {
			closeErr = err
		}
	}
	if c.cmd != nil {
		_ = c.cmd.Wait()
	}
	return closeErr
}
