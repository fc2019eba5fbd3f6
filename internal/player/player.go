// Package player drives a single mpv process over its JSON IPC socket.
// The engine owns exactly one preview at a time; Load replaces whatever is
// playing and Halt stops it without tearing the process down.
package player

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

// Event describes playback state updates emitted by mpv.
type Event struct {
	TimePos  *float64
	Duration *float64
	// Ended is true only for a natural end of the clip (reason "eof"),
	// not when a new clip replaces it or the process quits.
	Ended     bool
	EndReason string
	Err       error
}

// Options configures the Controller.
type Options struct {
	MPVPath        string
	IPCPath        string
	InitialVolume  int
	Logger         *slog.Logger
	DisableProcess bool
	Dial           func(ctx context.Context, network, addr string) (net.Conn, error)
}

// Controller manages the mpv process and IPC connection.
type Controller struct {
	opts   Options
	cmd    *exec.Cmd
	conn   net.Conn
	mu     sync.Mutex
	events chan Event
}

func New(opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Controller{
		opts:   opts,
		events: make(chan Event, 32),
	}
}

func defaultIPCPath() string {
	if runtime.GOOS == "windows" {
		return `\\.\pipe\deerzone-mpv`
	}
	return filepath.Join(os.TempDir(), "deerzone-mpv.sock")
}

// Start launches mpv (unless disabled) and connects to the IPC socket.
func (c *Controller) Start(ctx context.Context) error {
	if c.opts.IPCPath == "" {
		c.opts.IPCPath = defaultIPCPath()
	}
	c.opts.Logger.Debug("starting preview player", slog.String("ipc_path", c.opts.IPCPath))
	if !c.opts.DisableProcess {
		if err := c.spawnMPV(ctx); err != nil {
			c.opts.Logger.Error("spawn mpv", slog.Any("err", err))
			return err
		}
	}
	if err := c.connect(ctx); err != nil {
		c.opts.Logger.Error("connect mpv ipc", slog.Any("err", err))
		return err
	}
	if err := c.observeProperties(); err != nil {
		return err
	}
	if c.opts.InitialVolume > 0 {
		_ = c.send(map[string]any{"command": []any{"set_property", "volume", c.opts.InitialVolume}})
	}
	go c.readLoop()
	c.opts.Logger.Debug("preview player ready")
	return nil
}

func (c *Controller) spawnMPV(ctx context.Context) error {
	args := []string{
		"--idle=yes",
		"--force-window=no",
		"--no-terminal",
		"--no-video",
		"--input-ipc-server=" + c.opts.IPCPath,
	}
	c.cmd = exec.CommandContext(ctx, c.opts.MPVPath, args...)
	if err := c.cmd.Start(); err != nil {
		return fmt.Errorf("start mpv: %w", err)
	}
	c.opts.Logger.Debug("mpv process started", slog.Int("pid", c.cmd.Process.Pid))
	return nil
}

func (c *Controller) connect(ctx context.Context) error {
	dial := c.opts.Dial
	if dial == nil {
		dial = (&net.Dialer{Timeout: 5 * time.Second}).DialContext
	}
	var conn net.Conn
	var err error
	baseDelay := 50 * time.Millisecond
	maxDelay := 500 * time.Millisecond
	maxRetries := 10
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for i := 0; i < maxRetries; i++ {
		conn, err = dial(ctx, "unix", c.opts.IPCPath)
		if err == nil {
			c.conn = conn
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("connect mpv ipc: %w", ctx.Err())
		default:
		}
		if i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<uint(i))
			if delay > maxDelay {
				delay = maxDelay
			}
			jitter := time.Duration(float64(delay) * 0.2 * rng.Float64())
			time.Sleep(delay + jitter)
		}
	}
	return fmt.Errorf("connect mpv ipc: %w", err)
}

func (c *Controller) observeProperties() error {
	props := []string{"time-pos", "duration"}
	for i, p := range props {
		if err := c.send(map[string]any{
			"command": []any{"observe_property", i + 1, p},
		}); err != nil {
			return err
		}
	}
	return nil
}

// Events returns the event channel.
func (c *Controller) Events() <-chan Event { return c.events }

func (c *Controller) send(cmd map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("mpv not connected")
	}
	b, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	_, err = c.conn.Write(append(b, '\n'))
	return err
}

// Load replaces the current clip with the given URL.
func (c *Controller) Load(url string) error {
	c.opts.Logger.Debug("loading preview", slog.String("url", url))
	err := c.send(map[string]any{"command": []any{"loadfile", url, "replace"}})
	if err != nil {
		c.opts.Logger.Error("send loadfile", slog.Any("err", err))
	}
	return err
}

// Halt stops the current clip. mpv stays idle and ready for the next Load.
func (c *Controller) Halt() error {
	c.opts.Logger.Debug("halting preview")
	return c.send(map[string]any{"command": []any{"stop"}})
}

// Shutdown quits mpv and closes the connection. Best effort; used on
// teardown so no preview audio outlives the view.
func (c *Controller) Shutdown() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		b, _ := json.Marshal(map[string]any{"command": []any{"quit"}})
		_, _ = c.conn.Write(append(b, '\n'))
		_ = c.conn.Close()
		c.conn = nil
	}
	if c.cmd != nil && c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
		_ = c.cmd.Wait()
		c.cmd = nil
	}
	return nil
}

func (c *Controller) readLoop() {
	defer close(c.events)
	scanner := bufio.NewScanner(c.conn)
	for scanner.Scan() {
		line := scanner.Bytes()
		var msg ipcMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			c.events <- Event{Err: fmt.Errorf("decode: %w", err)}
			continue
		}
		switch msg.Event {
		case "property-change":
			c.handlePropertyChange(msg)
		case "end-file":
			// "stop" arrives when we halt or replace a clip, "quit" on
			// shutdown; only "eof" counts as the clip finishing.
			c.events <- Event{
				Ended:     msg.Reason == "eof",
				EndReason: msg.Reason,
			}
		}
	}
	if err := scanner.Err(); err != nil {
		c.events <- Event{Err: err}
	}
}

type ipcMessage struct {
	Event  string      `json:"event"`
	Name   string      `json:"name"`
	Data   interface{} `json:"data"`
	Reason string      `json:"reason"`
}

func (c *Controller) handlePropertyChange(msg ipcMessage) {
	switch msg.Name {
	case "time-pos":
		if v, ok := toFloat(msg.Data); ok {
			c.events <- Event{TimePos: &v}
		}
	case "duration":
		if v, ok := toFloat(msg.Data); ok {
			c.events <- Event{Duration: &v}
		}
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
