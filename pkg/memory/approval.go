package memory

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ApprovalDecision records one gate verdict in the decision log.
type ApprovalDecision struct {
	Timestamp time.Time `json:"ts"`
	Kind      FactKind  `json:"kind"`
	Key       string    `json:"key"`
	Content   string    `json:"content"`
	Approved  bool      `json:"approved"`
	Reason    string    `json:"reason,omitempty"`
}

// ApprovalGate reviews distilled candidates before they reach the
// long-term store. Every verdict, either way, lands in the decision log.
type ApprovalGate interface {
	Review(ctx context.Context, candidates []FactCandidate) (approved []FactCandidate, rejected []FactCandidate, err error)
}

// AutoApproveGate accepts every candidate. The default.
type AutoApproveGate struct{}

func (AutoApproveGate) Review(_ context.Context, candidates []FactCandidate) ([]FactCandidate, []FactCandidate, error) {
	return candidates, nil, nil
}

// DenyKindsGate rejects candidates of the configured kinds and passes the
// rest through. Useful when a deployment wants episodic summaries kept
// out of durable memory.
type DenyKindsGate struct {
	Deny map[FactKind]bool
}

func (g DenyKindsGate) Review(_ context.Context, candidates []FactCandidate) ([]FactCandidate, []FactCandidate, error) {
	var approved, rejected []FactCandidate
	for _, c := range candidates {
		if g.Deny[c.Kind] {
			rejected = append(rejected, c)
			continue
		}
		approved = append(approved, c)
	}
	return approved, rejected, nil
}

// DecisionLog appends gate verdicts to a JSONL file beside the ledger.
type DecisionLog struct {
	path string
}

func NewDecisionLog(path string) (*DecisionLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("approval log: %w", err)
	}
	return &DecisionLog{path: path}, nil
}

func (l *DecisionLog) Record(decisions []ApprovalDecision) error {
	if len(decisions) == 0 {
		return nil
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("approval log: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, d := range decisions {
		line, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("approval log: %w", err)
		}
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("approval log: %w", err)
	}
	return f.Sync()
}

// ReadDecisions loads the full decision history, oldest first.
func (l *DecisionLog) ReadDecisions() ([]ApprovalDecision, error) {
	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("approval log: %w", err)
	}
	defer f.Close()

	var out []ApprovalDecision
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var d ApprovalDecision
		if err := json.Unmarshal(sc.Bytes(), &d); err != nil {
			continue
		}
		out = append(out, d)
	}
	return out, sc.Err()
}
