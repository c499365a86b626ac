package bms

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Snapshot is the outcome of one collection pass.
type Snapshot struct {
	Time time.Time
	// Names lists the metrics that produced a value, in fetch order.
	Names  []string
	Values map[string]any
	Errors map[string]error
}

func (s *Snapshot) Len() int {
	return len(s.Names)
}

// MarshalJSON renders every value keyed by metric name plus an RFC 3339
// "timestamp".
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any, len(s.Values)+1)
	for name, v := range s.Values {
		doc[name] = v
	}
	doc["timestamp"] = s.Time.UTC().Format(time.RFC3339)
	return json.Marshal(doc)
}

// Collect fetches the named metrics (see Resolve) from c. A failed metric is
// recorded in Snapshot.Errors and does not stop the pass; metrics whose
// dependency failed are skipped without I/O. The returned error is only set
// for unknown names or a done ctx.
func Collect(ctx context.Context, c Client, names []string) (*Snapshot, error) {
	metrics, err := Resolve(names)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Time:   time.Now(),
		Values: make(map[string]any, len(metrics)),
		Errors: make(map[string]error),
	}

next:
	for _, m := range metrics {
		if err := ctx.Err(); err != nil {
			return snap, err
		}
		for _, dep := range m.Dependencies {
			if depErr, failed := snap.Errors[dep]; failed {
				snap.Errors[m.Name] = fmt.Errorf("dependency %s: %w", dep, depErr)
				continue next
			}
		}

		v, err := m.Fetch(ctx, c)
		if err != nil {
			snap.Errors[m.Name] = err
			continue
		}
		snap.Names = append(snap.Names, m.Name)
		snap.Values[m.Name] = v
	}
	return snap, ctx.Err()
}
