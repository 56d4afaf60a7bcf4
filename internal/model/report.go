package model

import "time"

// PatchReport lists the methods rewritten in one run, grouped by target.
type PatchReport struct {
	RunID     string         `yaml:"run_id"`
	StartedAt time.Time      `yaml:"started_at"`
	DryRun    bool           `yaml:"dry_run,omitempty"`
	Targets   []TargetReport `yaml:"targets"`
}

// TargetReport is the outcome for one target binary.
type TargetReport struct {
	Path   Path      `yaml:"path"`
	Output Path      `yaml:"output,omitempty"`
	Backup Path      `yaml:"backup,omitempty"`
	Kind   ImageKind `yaml:"kind,omitempty"`
	Size   int64     `yaml:"size,omitempty"`
	// Methods holds Type::Method names in patch order.
	Methods []string `yaml:"methods"`
	// Relocated holds the subset of Methods whose body moved to the patch section.
	Relocated []string `yaml:"relocated,omitempty"`
	// Diff is a unified diff of the rewritten bodies' listings.
	Diff               string `yaml:"diff,omitempty"`
	CertificateDropped bool   `yaml:"certificate_dropped,omitempty"`
	Skipped            string `yaml:"skipped,omitempty"`
	Error              string `yaml:"error,omitempty"`
}

// Methods returns every patched method of every target in report order.
func (r *PatchReport) Methods() []string {
	var methods []string
	for _, t := range r.Targets {
		methods = append(methods, t.Methods...)
	}

	return methods
}

// MethodInfo describes one method for inspection.
type MethodInfo struct {
	FullName   string     `yaml:"name"`
	Token      string     `yaml:"token"`
	ReturnKind ReturnKind `yaml:"return_kind"`
	ReturnType string     `yaml:"return_type"`
	HasBody    bool       `yaml:"has_body"`
	BodySize   int        `yaml:"body_size,omitempty"`
	Matched    bool       `yaml:"matched,omitempty"`
}

// Inspection is the read-only view of one target.
type Inspection struct {
	Path    Path         `yaml:"path"`
	Name    string       `yaml:"assembly"`
	Kind    ImageKind    `yaml:"kind"`
	Size    int64        `yaml:"size"`
	Methods []MethodInfo `yaml:"methods"`
}
