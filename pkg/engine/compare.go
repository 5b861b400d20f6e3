package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nainya/schedver/pkg/version"
)

// VersionSummary describes one side of a comparison
type VersionSummary struct {
	VersionID     uuid.UUID        `json:"versionId" yaml:"versionId"`
	DocumentID    string           `json:"documentId" yaml:"documentId"`
	VersionNumber int              `json:"versionNumber" yaml:"versionNumber"`
	CreatedBy     string           `json:"createdBy" yaml:"createdBy"`
	CreatedAt     time.Time        `json:"createdAt" yaml:"createdAt"`
	Metadata      version.Metadata `json:"metadata" yaml:"metadata"`
}

// FieldDifference is one field whose value differs between two versions.
// A field a version does not touch has a nil value on that side.
type FieldDifference struct {
	Field         string        `json:"field" yaml:"field"`
	Version1Value version.Value `json:"version1Value" yaml:"version1Value"`
	Version2Value version.Value `json:"version2Value" yaml:"version2Value"`
}

// Comparison is the result of CompareVersions
type Comparison struct {
	Version1    VersionSummary    `json:"version1" yaml:"version1"`
	Version2    VersionSummary    `json:"version2" yaml:"version2"`
	Differences []FieldDifference `json:"differences" yaml:"differences"`
}

// CompareVersions diffs the change sets of two versions, usually of the same
// document. Only the fields each version itself touched are compared (delta
// against delta); use Reconstruct for full state comparison.
func (e *Engine) CompareVersions(ctx context.Context, id1, id2 uuid.UUID) (cmp *Comparison, err error) {
	defer e.observe("compare_versions", time.Now(), &err)

	v1, err := e.versions.Get(ctx, id1)
	if err != nil {
		return nil, err
	}
	v2, err := e.versions.Get(ctx, id2)
	if err != nil {
		return nil, err
	}

	return &Comparison{
		Version1:    summarize(v1),
		Version2:    summarize(v2),
		Differences: Diff(v1, v2),
	}, nil
}

// Diff lists the fields touched by either node whose latest values differ.
// Fields of a come first in first-touch order, then fields only b touched.
func Diff(a, b *version.Node) []FieldDifference {
	va, vb := a.LatestValues(), b.LatestValues()

	fields := a.Fields()
	for _, f := range b.Fields() {
		if _, ok := va[f]; !ok {
			fields = append(fields, f)
		}
	}

	diffs := []FieldDifference{}
	for _, f := range fields {
		x, okA := va[f]
		y, okB := vb[f]
		if okA && okB && version.ValuesEqual(x, y) {
			continue
		}
		diffs = append(diffs, FieldDifference{Field: f, Version1Value: x, Version2Value: y})
	}
	return diffs
}

func summarize(n *version.Node) VersionSummary {
	return VersionSummary{
		VersionID:     n.VersionID,
		DocumentID:    n.DocumentID,
		VersionNumber: n.VersionNumber,
		CreatedBy:     n.CreatedBy,
		CreatedAt:     n.CreatedAt,
		Metadata:      n.Metadata,
	}
}
