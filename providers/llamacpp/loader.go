package llamacpp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"llm-endpoint-orchestrator/core/inference"

	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"
)

const defaultPortRange = 64

// Loader starts one llama-server process per loaded model and talks to it
// over its OpenAI-compatible API.
type Loader struct {
	binary       string
	readyTimeout time.Duration
	pollInterval time.Duration
	ports        *portManager
	httpClient   *http.Client
}

// NewLoader creates a loader running binary on ports starting at basePort
func NewLoader(binary string, basePort int, readyTimeout time.Duration) *Loader {
	return &Loader{
		binary:       binary,
		readyTimeout: readyTimeout,
		pollInterval: time.Second,
		ports:        newPortManager(basePort, defaultPortRange),
		httpClient:   &http.Client{Timeout: 5 * time.Second},
	}
}

var _ inference.Loader = (*Loader)(nil)

// Load starts llama-server for spec and waits until it reports healthy.
// The process outlives ctx; it is stopped by closing the returned model.
func (l *Loader) Load(ctx context.Context, spec inference.LoadSpec) (inference.Model, error) {
	logger := klog.FromContext(ctx)

	port, err := l.ports.ReservePort()
	if err != nil {
		return nil, err
	}

	args := ServeArgs{
		ModelPath: spec.ModelPath,
		Port:      port,
		Alias:     filepath.Base(spec.ModelPath),
		Config:    spec.Config,
	}
	cli, ignored := args.CommandLine()
	if len(ignored) > 0 {
		logger.V(1).Info("Loader options not supported by llama-server", "options", ignored)
	}

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, l.binary, cli...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	cmd.WaitDelay = 10 * time.Second

	switch runtime.GOOS {
	case "linux", "darwin":
		// Let llama-server release GPU memory before exiting
		cmd.Cancel = func() error {
			return cmd.Process.Signal(os.Interrupt)
		}
	default:
		logger.Info("Graceful shutdown of llama-server not supported for OS", "os", runtime.GOOS)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		l.ports.ReleasePort(port)
		return nil, fmt.Errorf("failed to start llama-server: %w", err)
	}
	logger.Info("Started llama-server", "pid", cmd.Process.Pid, "port", port, "model", spec.ModelPath)

	proc := &process{cancel: cancel, exited: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		proc.setErr(err)
		l.ports.ReleasePort(port)
		close(proc.exited)
		logger.V(1).Info("llama-server exited", "port", port, "err", err)
	}()

	if err := l.waitReady(ctx, port, proc); err != nil {
		proc.stop()
		return nil, err
	}

	baseURL := fmt.Sprintf("http://127.0.0.1:%d/v1/", port)
	return newModel(baseURL, args.Alias, proc.stop), nil
}

func (l *Loader) waitReady(ctx context.Context, port int, proc *process) error {
	readyCtx, cancel := context.WithTimeout(ctx, l.readyTimeout)
	defer cancel()

	err := wait.PollUntilContextCancel(readyCtx, l.pollInterval, true, func(ctx context.Context) (bool, error) {
		select {
		case <-proc.exited:
			return false, fmt.Errorf("llama-server exited before becoming ready: %v", proc.err())
		default:
		}
		return l.healthCheck(ctx, port), nil
	})
	if err != nil {
		if errors.Is(readyCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("llama-server not ready after %v", l.readyTimeout)
		}
		return err
	}
	return nil
}

func (l *Loader) healthCheck(ctx context.Context, port int) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://127.0.0.1:%d/health", port), nil)
	if err != nil {
		return false
	}
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// process tracks a running llama-server
type process struct {
	cancel context.CancelFunc
	exited chan struct{}

	mu      sync.Mutex
	waitErr error
}

func (p *process) setErr(err error) {
	p.mu.Lock()
	p.waitErr = err
	p.mu.Unlock()
}

func (p *process) err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

// stop interrupts the process and waits for it to exit
func (p *process) stop() error {
	p.cancel()
	<-p.exited
	return nil
}
