package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"dbconnector/internal/logger"
)

const (
	scannerInitialBytes = 16 << 10
	scannerMaxBytes     = 8 << 20
)

// Request is one line read by Serve.
type Request struct {
	ID int64 `json:"id"`
	Payload
}

// Response is one line written by Serve. A request gets any number of
// responses followed by a line with Done set. Log entries use ID 0.
type Response struct {
	ID       int64           `json:"id"`
	Status   int             `json:"status,omitempty"`
	Response json.RawMessage `json:"response,omitempty"`
	Done     bool            `json:"done,omitempty"`
}

type lineWriter struct {
	mu     sync.Mutex
	writer *bufio.Writer
}

func (w *lineWriter) write(resp Response) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	payload = append(payload, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.writer.Write(payload); err != nil {
		return err
	}
	return w.writer.Flush()
}

func (w *lineWriter) send(id int64, response interface{}, status int) error {
	body, err := json.Marshal(response)
	if err != nil {
		return err
	}
	return w.write(Response{ID: id, Status: status, Response: body})
}

// Serve reads requests from r until EOF or ctx is done and writes their
// responses to w. Requests are handled one at a time, in order.
func Serve(ctx context.Context, r io.Reader, w io.Writer, h *Handler, log *logger.Logger) error {
	if log == nil {
		log = logger.Nop()
	}
	out := &lineWriter{writer: bufio.NewWriter(w)}

	unsubscribe := log.Subscribe(func(entry logger.Entry) {
		_ = out.send(0, map[string]interface{}{"log": entry}, 200)
	})
	defer unsubscribe()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, scannerInitialBytes), scannerMaxBytes)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var req Request
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			fail(out, req.ID, fmt.Sprintf("failed to parse request: %v", err))
			continue
		}
		handleRequest(ctx, out, h, req)
	}
	return scanner.Err()
}

func handleRequest(ctx context.Context, out *lineWriter, h *Handler, req Request) {
	_ = h.Handle(ctx, req.Payload, func(response interface{}, status int) {
		_ = out.send(req.ID, response, status)
	})
	_ = out.write(Response{ID: req.ID, Done: true})
}

func fail(out *lineWriter, id int64, message string) {
	_ = out.send(id, map[string]interface{}{"error": map[string]interface{}{"message": message}}, 400)
	_ = out.write(Response{ID: id, Done: true})
}
