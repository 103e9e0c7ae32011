package deepfilternet

import "fmt"

// State identifies one of the possible states pipeline can be in.
type State int

// states
const (
	Uninitialized State = iota
	Ready
	Streaming
	Finished
	Failed
)

var stateNames = [...]string{
	Uninitialized: "uninitialized",
	Ready:         "ready",
	Streaming:     "streaming",
	Finished:      "finished",
	Failed:        "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// transition moves pipeline into next state. Only forward moves listed
// here are allowed.
func (p *Pipeline) transition(from, to State) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != from {
		return fmt.Errorf("%w: pipeline is %v, want %v", ErrInvalidState, p.state, from)
	}
	p.state = to
	return nil
}

// State returns current pipeline state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}
