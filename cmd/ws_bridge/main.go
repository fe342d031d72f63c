// Command ws_bridge exposes a stdio agent process over a WebSocket. Each
// connection gets its own child process: text frames are written to its
// stdin one per line, and every line it prints comes back as a JSON
// envelope tagged with the stream it came from.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/m4xw311/tandem/telemetry"
)

// envelope is the frame sent to the browser for each output line.
type envelope struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type bridge struct {
	command []string
	logger  *slog.Logger
}

func main() {
	addr := flag.String("addr", ":8080", "Address to listen on")
	level := flag.String("log-level", "info", "Log level")
	flag.Parse()

	logger := telemetry.NewLogger(*level, os.Stderr)
	command := flag.Args()
	if len(command) == 0 {
		command = []string{"tandem", "-rpc"}
	}

	b := &bridge{command: command, logger: logger}
	http.Handle("/ws", b)

	logger.Info("websocket bridge listening", "addr", *addr, "path", "/ws", "command", command)
	if err := http.ListenAndServe(*addr, nil); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

// connWriter serializes writes; a websocket connection supports one
// concurrent writer.
type connWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *connWriter) send(kind, line string) error {
	data, err := json.Marshal(envelope{Type: kind, Data: line})
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (b *bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	logger := b.logger.With("remote", r.RemoteAddr)
	cmd := exec.CommandContext(ctx, b.command[0], b.command[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		logger.Error("failed to open stdin", "error", err)
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		logger.Error("failed to open stdout", "error", err)
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		logger.Error("failed to open stderr", "error", err)
		return
	}
	if err := cmd.Start(); err != nil {
		logger.Error("failed to start agent", "error", err)
		return
	}
	logger.Info("agent started", "pid", cmd.Process.Pid)

	out := &connWriter{conn: conn}
	var pumps sync.WaitGroup
	pumps.Add(2)
	go b.pump(&pumps, logger, out, "stdout", stdout)
	go b.pump(&pumps, logger, out, "stderr", stderr)

	go func() {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				logger.Debug("websocket closed", "error", err)
				cancel()
				return
			}
			if _, err := stdin.Write(append(msg, '\n')); err != nil {
				logger.Warn("failed to write to agent", "error", err)
				cancel()
				return
			}
		}
	}()

	pumps.Wait()
	if err := cmd.Wait(); err != nil && ctx.Err() == nil {
		logger.Warn("agent exited", "error", err)
	} else {
		logger.Info("agent exited")
	}
}

func (b *bridge) pump(wg *sync.WaitGroup, logger *slog.Logger, out *connWriter, kind string, r io.Reader) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if err := out.send(kind, scanner.Text()); err != nil {
			logger.Debug("websocket write failed", "stream", kind, "error", err)
			// keep draining so the child never blocks on a full pipe
			_, _ = io.Copy(io.Discard, r)
			return
		}
	}
}
