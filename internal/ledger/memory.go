package ledger

import (
	"context"
	"sync"
)

// Memory is an in-process ledger.
type Memory struct {
	mu      sync.Mutex
	opts    options
	seq     int64
	records []Record
}

// NewMemory returns an empty in-memory ledger.
func NewMemory(opts ...Option) *Memory {
	return &Memory{opts: buildOptions(opts)}
}

// Append implements Ledger.
func (m *Memory) Append(_ context.Context, r Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	r.Seq = m.seq
	r.Time = m.opts.now().UTC()
	m.records = append(m.records, r)
	return r, nil
}

// Records implements Ledger. An empty runID returns every record.
func (m *Memory) Records(_ context.Context, runID string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, r := range m.records {
		if runID == "" || r.RunID == runID {
			out = append(out, r)
		}
	}
	return out, nil
}

// Summary implements Ledger.
func (m *Memory) Summary(ctx context.Context, runID string) (Summary, error) {
	records, err := m.Records(ctx, runID)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(runID, records), nil
}

// Close implements Ledger.
func (m *Memory) Close() error {
	return nil
}
