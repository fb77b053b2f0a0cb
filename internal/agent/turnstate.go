package agent

import (
	"sync"
	"time"
)

// TurnState tracks the progress of one orchestration turn
type TurnState struct {
	mu sync.RWMutex

	ID        string
	StartedAt time.Time

	CurrentRound int
	MaxRounds    int

	Dispatched int // tool calls executed
	Dropped    int // malformed or unresolvable calls
	ToolNames  []string
}

// NewTurnState creates a new turn state
func NewTurnState(id string, maxRounds int) *TurnState {
	return &TurnState{
		ID:        id,
		StartedAt: time.Now(),
		MaxRounds: maxRounds,
	}
}

// IncrementRound advances to the next round and returns its number
func (ts *TurnState) IncrementRound() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.CurrentRound++
	return ts.CurrentRound
}

// HasReachedMaxRounds checks if the round budget is spent
func (ts *TurnState) HasReachedMaxRounds() bool {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.CurrentRound >= ts.MaxRounds
}

// RecordDispatch counts an executed tool call
func (ts *TurnState) RecordDispatch(qualifiedName string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.Dispatched++
	ts.ToolNames = append(ts.ToolNames, qualifiedName)
}

// RecordDropped counts a call that was not executed
func (ts *TurnState) RecordDropped() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.Dropped++
}

// Duration returns how long the turn has been running
func (ts *TurnState) Duration() time.Duration {
	return time.Since(ts.StartedAt)
}

// LogAttrs returns the turn summary as slog key/value pairs
func (ts *TurnState) LogAttrs() []any {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return []any{
		"turn_id", ts.ID,
		"rounds", ts.CurrentRound,
		"max_rounds", ts.MaxRounds,
		"tool_calls", ts.Dispatched,
		"dropped_calls", ts.Dropped,
		"duration_ms", ts.Duration().Milliseconds(),
	}
}
