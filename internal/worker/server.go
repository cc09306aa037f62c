package worker

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"runtime/debug"
	"sync"
	"time"

	"ngweave/internal/build"
	"ngweave/internal/compiler"
	"ngweave/internal/diag"
	"ngweave/internal/logging"
	"ngweave/internal/vfs"
)

// Report is the outcome of one completed diagnostics pass.
type Report struct {
	Pass        int
	Diagnostics []diag.Diagnostic
	Duration    time.Duration
}

// ManagerFactory creates the worker's manager for an init message.
type ManagerFactory func(ctx context.Context, req InitRequest) (*build.Manager, error)

// DiskManager builds a manager over a disk-backed overlay.
func DiskManager(ctx context.Context, req InitRequest) (*build.Manager, error) {
	fs := vfs.New(vfs.Options{BaseDir: req.BasePath, CacheReads: true})
	return build.NewManager(ctx, fs, build.Options{
		Roots: req.RootModules,
		Compiler: compiler.Options{
			BaseDir: fs.BaseDir(),
			OutDir:  req.CompilerOptions.OutDir,
			Target:  req.CompilerOptions.Target,
			Codegen: req.CompilerOptions.Codegen,
		},
	})
}

// Server is the worker side of the protocol. Each update cancels the pass
// in flight and starts a new one; only passes that finish are reported.
type Server struct {
	newManager ManagerFactory
	onReport   func(Report)

	mu     sync.Mutex
	mgr    *build.Manager
	mode   build.Mode
	cancel context.CancelFunc
	passes int
	wg     sync.WaitGroup
}

// NewServer returns a server. A nil factory uses DiskManager and a nil
// onReport logs every diagnostic.
func NewServer(newManager ManagerFactory, onReport func(Report)) *Server {
	if newManager == nil {
		newManager = DiskManager
	}
	if onReport == nil {
		onReport = logReport
	}
	return &Server{newManager: newManager, onReport: onReport, mode: build.ModeFull}
}

// Serve reads messages from r until EOF or ctx ends, then waits for the
// pass in flight.
func (s *Server) Serve(ctx context.Context, r io.Reader) error {
	lines := make(chan []byte)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		errc <- scanner.Err()
	}()

	defer s.shutdown()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-errc:
					if err != nil {
						return fmt.Errorf("failed to read messages: %w", err)
					}
				default:
				}
				return nil
			}
			if len(line) == 0 {
				continue
			}
			msg, err := decodeMessage(line)
			if err != nil {
				logging.Get(logging.CategoryWorker).Warn("dropping message: %v", err)
				continue
			}
			s.handle(ctx, msg)
		}
	}
}

func (s *Server) handle(ctx context.Context, msg Message) {
	switch msg.Type {
	case TypeInit:
		mgr, err := s.newManager(ctx, *msg.Init)
		if err != nil {
			logging.Get(logging.CategoryWorker).Error("init failed: %v", err)
			return
		}
		s.mu.Lock()
		s.mgr = mgr
		s.mode = build.ModeFull
		if msg.Init.Mode == build.ModeFast.String() {
			s.mode = build.ModeFast
		}
		s.mu.Unlock()
		logging.Worker("initialized with %d roots", len(msg.Init.RootModules))
		s.startPass(ctx, nil)
	case TypeUpdate:
		s.startPass(ctx, msg.Update.ChangedModulePaths)
	}
}

// startPass cancels the running pass and starts a new one.
func (s *Server) startPass(ctx context.Context, changed []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mgr == nil {
		logging.Get(logging.CategoryWorker).Warn("update before init dropped")
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	for _, p := range changed {
		s.mgr.FS().Invalidate(p)
	}

	passCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.passes++
	n, mgr, mode := s.passes, s.mgr, s.mode

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.runPass(passCtx, n, mgr, mode, changed)
	}()
}

func (s *Server) runPass(ctx context.Context, n int, mgr *build.Manager, mode build.Mode, changed []string) {
	defer func() {
		if r := recover(); r != nil {
			logging.Get(logging.CategoryWorker).Error("pass %d panicked: %v\n%s", n, r, debug.Stack())
		}
	}()

	start := time.Now()
	prog, err := mgr.CreateOrUpdate(ctx, changed)
	if err != nil {
		if ctx.Err() == nil {
			logging.Get(logging.CategoryWorker).Warn("pass %d: %v", n, err)
		}
		return
	}
	diags := build.GatherDiagnostics(ctx, prog, mode)

	// startPass cancels under s.mu before it invalidates, so a live context
	// here means no newer change has reached the overlay.
	s.mu.Lock()
	if ctx.Err() != nil {
		s.mu.Unlock()
		logging.WorkerDebug("pass %d cancelled", n)
		return
	}
	mgr.FS().ResetChangeTracking()
	s.mu.Unlock()

	diag.Sort(diags)
	s.onReport(Report{Pass: n, Diagnostics: diags, Duration: time.Since(start)})
}

func (s *Server) shutdown() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func logReport(r Report) {
	log := logging.Get(logging.CategoryWorker).With("pass", r.Pass)
	for _, d := range r.Diagnostics {
		if d.Category == diag.CategoryError {
			log.Error("%s", d)
		} else {
			log.Warn("%s", d)
		}
	}
	log.Info("%d errors, %d warnings in %v",
		diag.Count(r.Diagnostics, diag.CategoryError), diag.Count(r.Diagnostics, diag.CategoryWarning), r.Duration)
}
