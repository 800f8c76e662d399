// Agent match memory: a bounded FIFO of recent match outcomes consulted by update rules.
package agents

// DefaultMemoryLength is the number of matches an agent remembers when not configured.
const DefaultMemoryLength = 10

// MemoryItem records one match an agent played.
type MemoryItem struct {
	Payoff     float64    `json:"payoff"`
	Score      float64    `json:"score"`      // Cumulative score after this match
	Properties Properties `json:"properties"` // Snapshot at the time of the match
	MatchLost  bool       `json:"match_lost"` // Payoff strictly below the opponent's
	Time       int        `json:"time"`
}

// Memory is a bounded FIFO of match records. The oldest record is evicted
// when a new one arrives at capacity. Capacity 0 remembers nothing.
type Memory struct {
	items    []MemoryItem
	capacity int
}

// NewMemory creates an empty memory. Negative capacities are treated as 0.
func NewMemory(capacity int) *Memory {
	if capacity < 0 {
		capacity = 0
	}
	return &Memory{
		items:    make([]MemoryItem, 0, capacity),
		capacity: capacity,
	}
}

// Append adds a record at the tail, evicting the head when full.
func (m *Memory) Append(item MemoryItem) {
	if m.capacity == 0 {
		return
	}
	if len(m.items) < m.capacity {
		m.items = append(m.items, item)
		return
	}
	copy(m.items, m.items[1:])
	m.items[len(m.items)-1] = item
}

// Len returns the number of records held.
func (m *Memory) Len() int {
	return len(m.items)
}

// Cap returns the configured capacity.
func (m *Memory) Cap() int {
	return m.capacity
}

// Full reports whether the memory holds exactly capacity records.
// A zero-capacity memory is never full, so no rule can fire on it.
func (m *Memory) Full() bool {
	return m.capacity > 0 && len(m.items) == m.capacity
}

// Items returns a copy of the records, oldest first.
func (m *Memory) Items() []MemoryItem {
	out := make([]MemoryItem, len(m.items))
	copy(out, m.items)
	return out
}

// Losses counts the recorded matches that were lost.
func (m *Memory) Losses() int {
	n := 0
	for _, it := range m.items {
		if it.MatchLost {
			n++
		}
	}
	return n
}

// Wins counts the recorded matches that were not lost.
func (m *Memory) Wins() int {
	return len(m.items) - m.Losses()
}

// Clear drops all records but keeps the capacity.
func (m *Memory) Clear() {
	m.items = m.items[:0]
}

// Resize changes the capacity, keeping the most recent records that still fit.
func (m *Memory) Resize(capacity int) {
	if capacity < 0 {
		capacity = 0
	}
	keep := m.items
	if len(keep) > capacity {
		keep = keep[len(keep)-capacity:]
	}
	items := make([]MemoryItem, len(keep), capacity)
	copy(items, keep)
	m.items = items
	m.capacity = capacity
}
