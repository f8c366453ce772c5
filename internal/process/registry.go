package process

import "sync"

// Every spawned process stays registered until it is destroyed, so a
// shutdown hook can reap whatever the owners failed to clean up.
var registry = struct {
	sync.Mutex
	live map[*Process]struct{}
}{live: make(map[*Process]struct{})}

func track(p *Process) {
	registry.Lock()
	registry.live[p] = struct{}{}
	registry.Unlock()
}

func untrack(p *Process) {
	registry.Lock()
	delete(registry.live, p)
	registry.Unlock()
}

// Live returns the number of processes that have not been destroyed.
func Live() int {
	registry.Lock()
	defer registry.Unlock()
	return len(registry.live)
}

// DestroyAll destroys every live process and returns how many it touched.
// It is meant to run as the program's exit handler.
func DestroyAll() int {
	registry.Lock()
	procs := make([]*Process, 0, len(registry.live))
	for p := range registry.live {
		procs = append(procs, p)
	}
	registry.Unlock()

	for _, p := range procs {
		p.Destroy()
	}
	return len(procs)
}
