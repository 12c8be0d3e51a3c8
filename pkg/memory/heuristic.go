package memory

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/halcyonai/halcyon/pkg/ledger"
)

var (
	prefRegex     = regexp.MustCompile(`(?i)\b(i (?:really )?(?:like|love|prefer|hate|dislike)\b[^.!?\n]*)`)
	identityRegex = regexp.MustCompile(`(?i)\b(?:my name is|i am|i'm)\s+([A-Za-z0-9 _\-]{2,50})`)
	timezoneRegex = regexp.MustCompile(`(?i)\b(?:my timezone is|i am in|i'm in|i live in)\s+([A-Za-z0-9_\-/:+ ]{2,80})`)
	taskRegex     = regexp.MustCompile(`(?i)\b(remind me|schedule|todo|task|deadline)\b([^.!?\n]*)`)
	forgetRegex   = regexp.MustCompile(`(?i)\bforget(?: that| this| about)?\s+(.+)$`)
)

// HeuristicDistiller extracts durable memories from consumed records with
// pattern rules. It is the zero-dependency fallback when no model-backed
// distiller is wired; same contract, lower recall.
type HeuristicDistiller struct{}

func NewHeuristicDistiller() *HeuristicDistiller { return &HeuristicDistiller{} }

func (d *HeuristicDistiller) Distill(_ context.Context, req DistillRequest) (DistillResult, error) {
	var res DistillResult
	var threads []string

	for _, rec := range req.Records {
		// Deltas proposed at commit time go through the same gates as
		// pattern-extracted candidates; the record only nominates them.
		for _, d := range rec.Deltas {
			content := strings.TrimSpace(d.Content)
			if content == "" {
				continue
			}
			confidence := d.Confidence
			if confidence <= 0 {
				confidence = 0.6
			}
			key := strings.TrimSpace(d.Key)
			if key == "" {
				key = contentKey("delta", content)
			}
			res.Facts = append(res.Facts, FactCandidate{
				Kind:       deltaKind(d.Kind),
				Key:        key,
				Content:    content,
				Confidence: confidence,
			})
		}

		input := strings.TrimSpace(rec.UserInput)
		if input == "" {
			continue
		}

		for _, m := range forgetRegex.FindAllStringSubmatch(input, -1) {
			term := strings.ToLower(strings.TrimSpace(m[1]))
			if term == "" {
				continue
			}
			for _, f := range req.Facts {
				if strings.Contains(strings.ToLower(f.Content), term) {
					res.Deletes = append(res.Deletes, FactRef{Kind: f.Kind, Key: f.Key})
				}
			}
		}

		for _, m := range prefRegex.FindAllStringSubmatch(input, -1) {
			entry := strings.TrimSpace(m[1])
			res.Facts = append(res.Facts, FactCandidate{
				Kind:       FactPreference,
				Key:        contentKey("pref", entry),
				Content:    entry,
				Confidence: 0.8,
			})
		}

		for _, m := range identityRegex.FindAllStringSubmatch(input, -1) {
			name := strings.TrimSpace(m[1])
			if len(name) < 2 {
				continue
			}
			res.Facts = append(res.Facts, FactCandidate{
				Kind:       FactSemantic,
				Key:        "identity/name",
				Content:    "User identity hint: " + name,
				Confidence: 0.75,
			})
		}

		for _, m := range timezoneRegex.FindAllStringSubmatch(input, -1) {
			tz := strings.TrimSpace(m[1])
			res.Facts = append(res.Facts, FactCandidate{
				Kind:       FactSemantic,
				Key:        "profile/timezone_or_location",
				Content:    "User timezone/location: " + tz,
				Confidence: 0.7,
			})
		}

		for _, m := range taskRegex.FindAllStringSubmatch(input, -1) {
			task := strings.TrimSpace(strings.Join(m[1:], " "))
			res.Facts = append(res.Facts, FactCandidate{
				Kind:       FactTaskState,
				Key:        contentKey("task", task),
				Content:    "Open task intent: " + task,
				Confidence: 0.6,
			})
			threads = append(threads, task)
		}
	}

	if episodic := summarizeWindow(req.Records); episodic != "" {
		res.Facts = append(res.Facts, FactCandidate{
			Kind:       FactEpisodic,
			Key:        contentKey("episode", episodic),
			Content:    episodic,
			Confidence: 0.6,
		})
		res.Summary = episodic
	}

	if len(threads) > 0 {
		res.Identity = &IdentityUpdate{OpenThreads: threads}
	}
	return res, nil
}

// summarizeWindow builds a compact recap of the consumed window from its
// first and last exchanges.
func summarizeWindow(records []ledger.Record) string {
	if len(records) == 0 {
		return ""
	}
	first := records[0]
	last := records[len(records)-1]

	user := snippet(first.UserInput)
	assistant := snippet(last.FinalOutput)
	switch {
	case user == "" && assistant == "":
		return ""
	case assistant == "":
		return fmt.Sprintf("Session recap: user said %q", user)
	case user == "":
		return fmt.Sprintf("Session recap: assistant responded %q", assistant)
	}
	return fmt.Sprintf("Session recap over %d exchanges: opened with %q; latest response %q", len(records), user, assistant)
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 220 {
		s = s[:220] + "..."
	}
	return s
}

// deltaKind maps the free-form kind string carried on a ledger delta to a
// known fact kind, defaulting to semantic.
func deltaKind(s string) FactKind {
	switch FactKind(strings.TrimSpace(s)) {
	case FactSemantic, FactPreference, FactEpisodic, FactTaskState, FactThread:
		return FactKind(strings.TrimSpace(s))
	}
	return FactSemantic
}

func contentKey(prefix, content string) string {
	n := strings.ToLower(strings.TrimSpace(content))
	h := sha1.Sum([]byte(prefix + ":" + n))
	return prefix + "/" + hex.EncodeToString(h[:8])
}
