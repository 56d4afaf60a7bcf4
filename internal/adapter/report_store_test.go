package adapter

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	m "ilpatch.dev/pkg/ilpatch/internal/model"
)

func TestYAMLReportStore_SaveLoad(t *testing.T) {
	store := NewYAMLReportStore(NewLocalBinaryFSAdapter())
	path := m.Path(filepath.Join(t.TempDir(), "report.yaml"))

	report := &m.PatchReport{
		RunID:     "6f1c2d8e-8c55-4c64-9d5c-55b1f7f1b0aa",
		StartedAt: time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC),
		Targets: []m.TargetReport{
			{
				Path:    "App.dll",
				Output:  "App.dll",
				Backup:  "App.dll.bak",
				Kind:    m.ManagedOnly,
				Size:    2048,
				Methods: []string{"Acme.Licensing.App::CheckLicense", "Acme.Licensing.App::Foo"},
			},
			{Path: "Plugin.dll", Methods: []string{}, Skipped: "target missing"},
		},
	}

	require.NoError(t, store.SaveReport(path, report))

	raw := readTestFile(t, string(path))
	assert.True(t, strings.Contains(raw, "run_id: 6f1c2d8e-8c55-4c64-9d5c-55b1f7f1b0aa"))
	assert.True(t, strings.Contains(raw, "  - path: App.dll"), raw)
	assert.NotContains(t, raw, "dry_run")

	loaded, err := store.LoadReport(path)
	require.NoError(t, err)
	assert.Equal(t, report, loaded)
	assert.Equal(t, []string{"Acme.Licensing.App::CheckLicense", "Acme.Licensing.App::Foo"}, loaded.Methods())
}

func TestYAMLReportStore_Errors(t *testing.T) {
	store := NewYAMLReportStore(NewLocalBinaryFSAdapter())
	dir := t.TempDir()

	_, err := store.LoadReport(m.Path(filepath.Join(dir, "missing.yaml")))
	require.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	writeTestBytes(t, bad, []byte("targets: [unterminated"))

	_, err = store.LoadReport(m.Path(bad))
	require.ErrorContains(t, err, "decode report")

	err = store.SaveReport(m.Path(filepath.Join(dir, "no", "such", "dir.yaml")), &m.PatchReport{})
	require.ErrorContains(t, err, "write report")
}

func TestYAMLReportStore_SaveInspections(t *testing.T) {
	store := NewYAMLReportStore(NewLocalBinaryFSAdapter())
	path := filepath.Join(t.TempDir(), "inspect.yaml")

	err := store.SaveInspections(m.Path(path), []m.Inspection{{
		Path: "App.dll",
		Name: "Acme.Licensing",
		Kind: m.ManagedOnly,
		Methods: []m.MethodInfo{
			{FullName: "Acme.Licensing.App::CheckLicense", Token: "0x06000001", ReturnKind: m.ReturnBoolean, ReturnType: "bool", HasBody: true, BodySize: 3},
		},
	}})
	require.NoError(t, err)

	raw := readTestFile(t, path)
	assert.Contains(t, raw, "assembly: Acme.Licensing")
	assert.Contains(t, raw, "return_kind: boolean")
}
