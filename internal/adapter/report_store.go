package adapter

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	m "ilpatch.dev/pkg/ilpatch/internal/model"
)

const reportFilePerm = 0o644

// ReportStore persists run reports.
type ReportStore interface {
	SaveReport(path m.Path, report *m.PatchReport) error
	LoadReport(path m.Path) (*m.PatchReport, error)
	SaveInspections(path m.Path, inspections []m.Inspection) error
}

// YAMLReportStore writes reports as YAML documents.
type YAMLReportStore struct {
	fs BinaryFSAdapter
}

// NewYAMLReportStore constructs a YAMLReportStore.
func NewYAMLReportStore(fs BinaryFSAdapter) *YAMLReportStore {
	return &YAMLReportStore{fs: fs}
}

// SaveReport writes report to path, replacing any previous file.
func (s *YAMLReportStore) SaveReport(path m.Path, report *m.PatchReport) error {
	data, err := encodeYAML(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	if err := s.fs.WriteFile(path, data, reportFilePerm); err != nil {
		return fmt.Errorf("write report %s: %w", path, err)
	}

	return nil
}

// LoadReport reads a report written by SaveReport.
func (s *YAMLReportStore) LoadReport(path m.Path) (*m.PatchReport, error) {
	data, err := s.fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read report %s: %w", path, err)
	}

	var report m.PatchReport
	if err := yaml.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", path, err)
	}

	return &report, nil
}

// SaveInspections writes the inspect output to path.
func (s *YAMLReportStore) SaveInspections(path m.Path, inspections []m.Inspection) error {
	data, err := encodeYAML(inspections)
	if err != nil {
		return fmt.Errorf("encode inspections: %w", err)
	}

	if err := s.fs.WriteFile(path, data, reportFilePerm); err != nil {
		return fmt.Errorf("write inspections %s: %w", path, err)
	}

	return nil
}

func encodeYAML(v any) ([]byte, error) {
	var buf bytes.Buffer

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)

	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	if err := enc.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
