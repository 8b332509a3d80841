package llamacpp

import (
	"fmt"
	"sync"
)

// portManager hands out local ports for llama-server processes.
// Two processes overlap while a model is being swapped, so a port is only
// reused after the process holding it has been released.
type portManager struct {
	startingPort int
	limit        int

	lock     sync.Mutex
	reserved map[int]struct{}
}

func newPortManager(startingPort, limit int) *portManager {
	return &portManager{
		startingPort: startingPort,
		limit:        limit,
		reserved:     map[int]struct{}{},
	}
}

// ReservePort returns the lowest free port at or above the starting port
func (p *portManager) ReservePort() (int, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	for port := p.startingPort; port < p.startingPort+p.limit; port++ {
		if _, ok := p.reserved[port]; !ok {
			p.reserved[port] = struct{}{}
			return port, nil
		}
	}
	return 0, fmt.Errorf("no free port in [%d, %d)", p.startingPort, p.startingPort+p.limit)
}

func (p *portManager) ReleasePort(port int) {
	p.lock.Lock()
	delete(p.reserved, port)
	p.lock.Unlock()
}
