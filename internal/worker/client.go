package worker

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"ngweave/internal/logging"
)

// Process is a running worker. Writes go to its stdin.
type Process interface {
	io.Writer
	// Stop terminates the process and releases its pipes.
	Stop() error
}

// Spawner starts a worker process.
type Spawner func() (Process, error)

// ExecSpawner re-executes the current binary with the hidden worker
// subcommand. Extra args are appended after it.
func ExecSpawner(args ...string) Spawner {
	return func() (Process, error) {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to locate executable: %w", err)
		}
		return startExec(exe, append([]string{"worker"}, args...)...)
	}
}

type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr io.ReadCloser
	wg     sync.WaitGroup
}

func startExec(name string, args ...string) (*execProcess, error) {
	p := &execProcess{cmd: exec.Command(name, args...)}

	var err error
	p.stdin, err = p.cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	p.stderr, err = p.cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stderr pipe: %w", err)
	}
	if err := p.cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker %s: %w", name, err)
	}

	p.wg.Add(1)
	go p.readStderr()
	logging.Worker("worker started (pid %d)", p.cmd.Process.Pid)
	return p, nil
}

// readStderr forwards the child's log lines.
func (p *execProcess) readStderr() {
	defer p.wg.Done()
	scanner := bufio.NewScanner(p.stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		logging.Get(logging.CategoryWorker).Info("%s", scanner.Text())
	}
}

func (p *execProcess) Write(b []byte) (int, error) {
	return p.stdin.Write(b)
}

func (p *execProcess) Stop() error {
	_ = p.stdin.Close()
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		_ = p.cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		logging.Get(logging.CategoryWorker).Warn("timeout waiting for worker to exit")
	}
	return nil
}

// Client drives a worker from the parent build. The process is started on
// the first Init. Send failures are logged and never returned; diagnostics
// from the worker are advisory.
type Client struct {
	spawn Spawner

	mu   sync.Mutex
	proc Process
	enc  *json.Encoder
	init *InitRequest
}

// NewClient returns a client that starts workers with spawn.
func NewClient(spawn Spawner) *Client {
	return &Client{spawn: spawn}
}

// Running reports whether a worker process is up.
func (c *Client) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.proc != nil
}

// Init starts the worker if needed and sends the init message.
func (c *Client) Init(req InitRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.init = &req
	if c.proc == nil {
		proc, err := c.spawn()
		if err != nil {
			logging.Get(logging.CategoryWorker).Warn("failed to start worker: %v", err)
			return
		}
		c.proc = proc
		c.enc = json.NewEncoder(proc)
	}
	c.sendLocked(Message{Type: TypeInit, Init: &req})
}

// Update forwards changed paths. It does nothing before Init.
func (c *Client) Update(changed []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.proc == nil {
		logging.WorkerDebug("update before init dropped (%d paths)", len(changed))
		return
	}
	c.sendLocked(Message{Type: TypeUpdate, Update: &UpdateRequest{ChangedModulePaths: changed}})
}

func (c *Client) sendLocked(msg Message) {
	if err := c.enc.Encode(msg); err != nil {
		logging.Get(logging.CategoryWorker).Warn("failed to send %s message: %v", msg.Type, err)
		return
	}
	logging.WorkerDebug("sent %s message", msg.Type)
}

// Stop terminates the worker. It is safe to call more than once.
func (c *Client) Stop() {
	c.mu.Lock()
	proc := c.proc
	c.proc = nil
	c.enc = nil
	c.mu.Unlock()

	if proc == nil {
		return
	}
	if err := proc.Stop(); err != nil {
		logging.Get(logging.CategoryWorker).Warn("failed to stop worker: %v", err)
	}
	logging.Worker("worker stopped")
}
