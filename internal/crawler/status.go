package crawler

import "maps"

// Status is a point-in-time view of the current or last crawl.
type Status struct {
	RunID      string                 `json:"run_id"`
	Strategy   string                 `json:"strategy"`
	Running    bool                   `json:"running"`
	Level      int                    `json:"level"`
	Depth      int                    `json:"depth"`
	Done       int                    `json:"done"`
	Discovered int                    `json:"discovered"`
	Frontier   int                    `json:"frontier"`
	Workers    map[string]WorkerState `json:"workers"`
}

// Status reports the most recent run. ok is false before the first run.
func (e *Engine) Status() (Status, bool) {
	r := e.current.Load()
	if r == nil {
		return Status{}, false
	}
	done, discovered := r.results.Counts()
	r.mu.Lock()
	workers := maps.Clone(r.states)
	r.mu.Unlock()
	return Status{
		RunID:      r.id.String(),
		Strategy:   r.job.Strategy,
		Running:    r.running.Load(),
		Level:      r.barrier.Level(),
		Depth:      r.job.Depth,
		Done:       done,
		Discovered: discovered,
		Frontier:   r.frontier.Len(),
		Workers:    workers,
	}, true
}
