package memory

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/halcyonai/halcyon/pkg/ledger"
	"github.com/halcyonai/halcyon/pkg/logger"
)

// CycleReport summarizes one consolidation cycle. It doubles as the audit
// record appended to the sleep log.
type CycleReport struct {
	CycleID       string    `json:"cycle_id"`
	StartedAt     time.Time `json:"started_at"`
	DurationMS    int64     `json:"duration_ms"`
	FromSeq       int64     `json:"from_seq"`
	UptoSeq       int64     `json:"upto_seq"`
	Records       int       `json:"records"`
	Candidates    int       `json:"candidates"`
	LowSalience   int       `json:"low_salience"`
	Rejected      int       `json:"rejected"`
	FactsWritten  int       `json:"facts_written"`
	FactsDeleted  int       `json:"facts_deleted"`
	TracesWritten int       `json:"traces_written"`
	IdentityRev   int64     `json:"identity_rev,omitempty"`
	Summary       string    `json:"summary,omitempty"`
	Err           string    `json:"error,omitempty"`
}

// ConsolidatorConfig wires one consolidation worker.
type ConsolidatorConfig struct {
	Store             Store
	Ledger            *ledger.Ledger
	Tiers             *Tiers
	Distiller         Distiller
	Gate              ApprovalGate
	Decisions         *DecisionLog
	AuditPath         string
	MinFactConfidence float64
	CarryOverRecords  int
	MidTermEnabled    bool
	MidTermTTLHours   int
}

// Consolidator runs the sleep cycle: distill the consumed short-term
// window into durable facts, archive the consumed ledger span, advance
// the checkpoint and trim the window. Cycles are serialized; the
// long-term writer is held here and nowhere else.
type Consolidator struct {
	mu  sync.Mutex
	cfg ConsolidatorConfig
}

func NewConsolidator(cfg ConsolidatorConfig) (*Consolidator, error) {
	if cfg.Store == nil || cfg.Ledger == nil || cfg.Tiers == nil {
		return nil, fmt.Errorf("consolidator: store, ledger and tiers are required")
	}
	if cfg.Distiller == nil {
		cfg.Distiller = NewHeuristicDistiller()
	}
	if cfg.Gate == nil {
		cfg.Gate = AutoApproveGate{}
	}
	if cfg.MinFactConfidence <= 0 {
		cfg.MinFactConfidence = 0.5
	}
	if cfg.MidTermTTLHours <= 0 {
		cfg.MidTermTTLHours = 72
	}
	return &Consolidator{cfg: cfg}, nil
}

// RunCycle executes one consolidation cycle over all records past the
// checkpoint. A distillation failure leaves every tier untouched; the
// same records are retried on the next cycle. Fact writes are keyed
// upserts, so a crash after the writes but before the checkpoint advance
// replays them without duplicates.
func (c *Consolidator) RunCycle(ctx context.Context) (CycleReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	report := CycleReport{
		CycleID:   "cycle-" + uuid.NewString(),
		StartedAt: start.UTC(),
	}

	checkpoint, err := c.cfg.Store.Checkpoint(ctx)
	if err != nil {
		return c.finish(report, start, err)
	}
	report.FromSeq = checkpoint + 1

	records, err := c.cfg.Ledger.ReplayFrom(checkpoint + 1)
	if err != nil {
		return c.finish(report, start, err)
	}
	if len(records) == 0 {
		logger.DebugCF("consolidator", "nothing to consolidate", map[string]interface{}{"checkpoint": checkpoint})
		return c.finish(report, start, nil)
	}
	uptoSeq := records[len(records)-1].Seq
	report.UptoSeq = uptoSeq
	report.Records = len(records)

	identity, err := c.cfg.Store.ReadIdentity(ctx)
	if err != nil {
		return c.finish(report, start, err)
	}
	facts, err := c.cfg.Store.ReadFacts(ctx, 0)
	if err != nil {
		return c.finish(report, start, err)
	}

	result, err := c.cfg.Distiller.Distill(ctx, DistillRequest{
		Identity: identity,
		Facts:    facts,
		Records:  records,
	})
	if err != nil {
		logger.WarnCF("consolidator", "distillation failed, cycle skipped", map[string]interface{}{
			"from_seq": checkpoint + 1, "upto_seq": uptoSeq, "error": err.Error(),
		})
		return c.finish(report, start, fmt.Errorf("distill: %w", err))
	}
	report.Candidates = len(result.Facts)
	report.Summary = result.Summary

	// Salience gate: low-confidence candidates never reach approval.
	salient := make([]FactCandidate, 0, len(result.Facts))
	for _, cand := range result.Facts {
		if cand.Confidence < c.cfg.MinFactConfidence {
			report.LowSalience++
			continue
		}
		salient = append(salient, cand)
	}

	approved, rejected, err := c.cfg.Gate.Review(ctx, salient)
	if err != nil {
		return c.finish(report, start, fmt.Errorf("approval gate: %w", err))
	}
	report.Rejected = len(rejected)
	if c.cfg.Decisions != nil {
		if err := c.cfg.Decisions.Record(decisionsFor(approved, rejected, start)); err != nil {
			logger.WarnCF("consolidator", "decision log write failed", map[string]interface{}{"error": err.Error()})
		}
	}

	nowMS := time.Now().UnixMilli()
	for _, cand := range approved {
		_, err := c.cfg.Store.UpsertFact(ctx, Fact{
			ID:         "fact-" + uuid.NewString(),
			Kind:       cand.Kind,
			Key:        cand.Key,
			Content:    cand.Content,
			Confidence: cand.Confidence,
			FromSeq:    checkpoint + 1,
			UptoSeq:    uptoSeq,
		})
		if err != nil {
			return c.finish(report, start, fmt.Errorf("upsert fact: %w", err))
		}
		report.FactsWritten++
	}
	for _, ref := range result.Deletes {
		if err := c.cfg.Store.DeleteFact(ctx, ref.Kind, ref.Key); err != nil {
			return c.finish(report, start, fmt.Errorf("delete fact: %w", err))
		}
		report.FactsDeleted++
	}

	if c.cfg.MidTermEnabled {
		ttlMS := int64(c.cfg.MidTermTTLHours) * int64(time.Hour/time.Millisecond)
		for _, tr := range result.Traces {
			expires := nowMS + ttlMS
			if tr.TTLHours > 0 {
				expires = nowMS + int64(tr.TTLHours)*int64(time.Hour/time.Millisecond)
			}
			err := c.cfg.Store.UpsertTrace(ctx, Trace{
				ID:          "trace-" + uuid.NewString(),
				Label:       tr.Label,
				Content:     tr.Content,
				Weight:      tr.Weight,
				ExpiresAtMS: expires,
			})
			if err != nil {
				return c.finish(report, start, fmt.Errorf("upsert trace: %w", err))
			}
			report.TracesWritten++
		}
	}

	if result.Identity != nil {
		revised := identity
		if result.Identity.ActiveContext != nil {
			revised.ActiveContext = result.Identity.ActiveContext
		}
		if result.Identity.OpenThreads != nil {
			revised.OpenThreads = mergeThreads(identity.OpenThreads, result.Identity.OpenThreads)
		}
		written, err := c.cfg.Store.WriteIdentity(ctx, revised)
		if err != nil {
			return c.finish(report, start, fmt.Errorf("write identity: %w", err))
		}
		report.IdentityRev = written.Revision
	}

	// Durable writes done. Archive the consumed span, then advance the
	// checkpoint; a crash between the two replays the same records into
	// the same keyed slots.
	if err := c.cfg.Ledger.Archive(uptoSeq); err != nil {
		return c.finish(report, start, fmt.Errorf("archive: %w", err))
	}
	if err := c.cfg.Store.SetCheckpoint(ctx, uptoSeq); err != nil {
		return c.finish(report, start, fmt.Errorf("set checkpoint: %w", err))
	}

	c.cfg.Tiers.TrimThrough(uptoSeq, c.cfg.CarryOverRecords)

	if err := c.cfg.Store.PruneExpired(ctx, nowMS); err != nil {
		logger.WarnCF("consolidator", "prune failed", map[string]interface{}{"error": err.Error()})
	}

	logger.InfoCF("consolidator", "cycle complete", map[string]interface{}{
		"cycle_id": report.CycleID,
		"upto_seq": uptoSeq,
		"facts":    report.FactsWritten,
		"records":  report.Records,
	})
	return c.finish(report, start, nil)
}

func (c *Consolidator) finish(report CycleReport, start time.Time, err error) (CycleReport, error) {
	report.DurationMS = time.Since(start).Milliseconds()
	if err != nil {
		report.Err = err.Error()
	}
	if c.cfg.AuditPath != "" {
		if werr := appendAudit(c.cfg.AuditPath, report); werr != nil {
			logger.WarnCF("consolidator", "audit write failed", map[string]interface{}{"error": werr.Error()})
		}
	}
	return report, err
}

func decisionsFor(approved, rejected []FactCandidate, at time.Time) []ApprovalDecision {
	out := make([]ApprovalDecision, 0, len(approved)+len(rejected))
	for _, c := range approved {
		out = append(out, ApprovalDecision{Timestamp: at.UTC(), Kind: c.Kind, Key: c.Key, Content: c.Content, Approved: true})
	}
	for _, c := range rejected {
		out = append(out, ApprovalDecision{Timestamp: at.UTC(), Kind: c.Kind, Key: c.Key, Content: c.Content, Approved: false, Reason: "gate_rejected"})
	}
	return out
}

func mergeThreads(existing, proposed []string) []string {
	seen := make(map[string]bool, len(existing))
	out := make([]string, 0, len(existing)+len(proposed))
	for _, t := range existing {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, t := range proposed {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	const maxThreads = 12
	if len(out) > maxThreads {
		out = out[len(out)-maxThreads:]
	}
	return out
}

func appendAudit(path string, report CycleReport) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	line, err := json.Marshal(report)
	if err != nil {
		return err
	}
	w.Write(line)
	w.WriteByte('\n')
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Sync()
}
