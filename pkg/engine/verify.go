package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/nainya/schedver/pkg/version"
)

// ChainReport is the result of VerifyChain
type ChainReport struct {
	DocumentID     string   `json:"documentId" yaml:"documentId"`
	CurrentVersion int      `json:"currentVersion" yaml:"currentVersion"`
	Checked        int      `json:"checked" yaml:"checked"`
	Problems       []string `json:"problems" yaml:"problems"`
}

// OK reports whether no problems were found
func (r *ChainReport) OK() bool {
	return len(r.Problems) == 0
}

// VerifyChain audits a document: the history matches the stored chain one to
// one, every node links to its predecessor, and the head data cache equals
// the materialized state. Inconsistencies are reported, not repaired; the
// error is reserved for failures to read the stores.
func (e *Engine) VerifyChain(ctx context.Context, documentID string) (report *ChainReport, err error) {
	defer e.observe("verify_chain", time.Now(), &err)

	head, err := e.heads.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	report = &ChainReport{
		DocumentID:     documentID,
		CurrentVersion: head.CurrentVersion,
		Problems:       []string{},
	}
	problem := func(format string, args ...any) {
		report.Problems = append(report.Problems, fmt.Sprintf(format, args...))
	}

	if len(head.VersionHistory) != head.CurrentVersion {
		problem("history has %d entries but current version is %d", len(head.VersionHistory), head.CurrentVersion)
	}

	nodes, err := e.versions.Range(ctx, documentID, 1, head.CurrentVersion)
	if err != nil {
		return nil, err
	}
	report.Checked = len(nodes)

	byNumber := make(map[int]*version.Node, len(nodes))
	for _, n := range nodes {
		byNumber[n.VersionNumber] = n
	}

	intact := len(nodes) == head.CurrentVersion
	var prev *version.Node
	for num := 1; num <= head.CurrentVersion; num++ {
		n, ok := byNumber[num]
		if !ok {
			problem("version %d is missing", num)
			intact = false
			prev = nil
			continue
		}
		if num <= len(head.VersionHistory) && head.VersionHistory[num-1] != n.VersionID {
			problem("history entry %d is %s but version %d is %s", num, head.VersionHistory[num-1], num, n.VersionID)
			intact = false
		}
		switch {
		case num == 1 && n.PreviousVersionID != nil:
			problem("version 1 has a predecessor %s", *n.PreviousVersionID)
			intact = false
		case num > 1 && prev != nil && (n.PreviousVersionID == nil || *n.PreviousVersionID != prev.VersionID):
			problem("version %d does not link to version %d", num, num-1)
			intact = false
		}
		prev = n
	}

	// The cache can only be checked against an intact chain
	if intact && !version.ValuesEqual(Materialize(nodes), head.Data) {
		problem("data cache differs from replayed state")
	}

	if !report.OK() {
		e.log.Warn().Str("document", documentID).Strs("problems", report.Problems).Msg("chain verification failed")
	}
	return report, nil
}
