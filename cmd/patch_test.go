package cmd

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ilpatch.dev/pkg/ilpatch/internal/domain"
	domainmocks "ilpatch.dev/pkg/ilpatch/internal/domain/mocks"
	m "ilpatch.dev/pkg/ilpatch/internal/model"
)

func patchedReport(base string) *m.PatchReport {
	return &m.PatchReport{
		RunID:     "0f8fad5b-d9cb-469f-a165-70867728950e",
		StartedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Targets: []m.TargetReport{
			{
				Path:    m.Path(filepath.Join(base, "App.dll")),
				Kind:    m.ManagedOnly,
				Size:    4096,
				Methods: []string{"Acme.App::CheckLicense"},
			},
			{
				Path:    m.Path(filepath.Join(base, "Plugins", "Extra.dll")),
				Skipped: "target missing",
			},
		},
	}
}

func TestPatchCmd_PassesConfiguration(t *testing.T) {
	wf := domainmocks.NewMockWorkflow(t)
	depDirs := useWorkflow(t, wf)

	cmd, out := newTestRoot(t, newPatchCmd())
	config := writeConfig(t, licenseConfig+"patch:\n  keep_backup: true\n")
	base := t.TempDir()

	wf.EXPECT().Patch(mock.Anything, mock.MatchedBy(func(args domain.PatchArgs) bool {
		return len(args.Targets) == 2 &&
			args.Targets[0].Path == m.Path(filepath.Join(base, "App.dll")) &&
			args.Targets[1].Policy == m.PolicyOptional &&
			args.KeepBackup && args.DryRun && args.Diff &&
			!args.Continue && args.SkipUnsupported
	})).Return(patchedReport(base), nil)

	cmd.SetArgs([]string{
		"patch", "--config", config, "--dir", base,
		"--dry-run", "--diff", "--skip-unsupported", "--deps", "/opt/libs",
	})

	err := cmd.Execute()
	require.NoError(t, err)

	assert.Equal(t, []m.Path{"/opt/libs", m.Path(base), m.Path(filepath.Join(base, "Plugins"))}, *depDirs)

	output := out.String()
	assert.Contains(t, output, "ilpatch run 0f8fad5b")
	assert.Contains(t, output, "Acme.App::CheckLicense")
	assert.Contains(t, output, "target missing")
	assert.Contains(t, output, "1 method(s) patched in 2 target(s)")
}

func TestPatchCmd_KeepFlagOverridesConfig(t *testing.T) {
	wf := domainmocks.NewMockWorkflow(t)
	useWorkflow(t, wf)

	cmd, _ := newTestRoot(t, newPatchCmd())
	config := writeConfig(t, licenseConfig)

	wf.EXPECT().Patch(mock.Anything, mock.MatchedBy(func(args domain.PatchArgs) bool {
		return args.KeepBackup && args.Continue && !args.DryRun
	})).Return(&m.PatchReport{RunID: "run"}, nil)

	cmd.SetArgs([]string{"patch", "--config", config, "-k", "--continue"})

	err := cmd.Execute()
	require.NoError(t, err)
}

func TestPatchCmd_SavesReport(t *testing.T) {
	wf := domainmocks.NewMockWorkflow(t)
	useWorkflow(t, wf)

	cmd, _ := newTestRoot(t, newPatchCmd())
	config := writeConfig(t, licenseConfig)
	base := t.TempDir()
	reportPath := filepath.Join(t.TempDir(), "report.yaml")

	report := patchedReport(base)
	wf.EXPECT().Patch(mock.Anything, mock.Anything).Return(report, nil)

	cmd.SetArgs([]string{"patch", "--config", config, "--dir", base, "--report", reportPath})

	err := cmd.Execute()
	require.NoError(t, err)

	saved, err := reportStore.LoadReport(m.Path(reportPath))
	require.NoError(t, err)
	assert.Equal(t, report.RunID, saved.RunID)
	assert.Equal(t, report.Methods(), saved.Methods())
	assert.Equal(t, "target missing", saved.Targets[1].Skipped)
}

func TestPatchCmd_ReturnsRunError(t *testing.T) {
	wf := domainmocks.NewMockWorkflow(t)
	useWorkflow(t, wf)

	cmd, out := newTestRoot(t, newPatchCmd())
	config := writeConfig(t, licenseConfig)

	runErr := &domain.PatchError{Kind: domain.KindLoad, Path: "App.dll", Op: "load", Err: errors.New("bad signature")}
	report := &m.PatchReport{
		RunID:   "run",
		Targets: []m.TargetReport{{Path: "App.dll", Methods: []string{}, Error: runErr.Error()}},
	}

	wf.EXPECT().Patch(mock.Anything, mock.Anything).Return(report, runErr)

	cmd.SetArgs([]string{"patch", "--config", config})

	err := cmd.Execute()
	require.ErrorIs(t, err, domain.ErrLoad)

	assert.Contains(t, out.String(), "failed App.dll")
	assert.Contains(t, out.String(), "patch failed:")
}

func TestPatchCmd_InvalidConfigSkipsWorkflow(t *testing.T) {
	wf := domainmocks.NewMockWorkflow(t)
	useWorkflow(t, wf)

	cmd, _ := newTestRoot(t, newPatchCmd())
	config := writeConfig(t, "targets:\n  - path: App.dll\n    rules:\n      - methods: [CheckLicense]\n        value: true\n")

	cmd.SetArgs([]string{"patch", "--config", config})

	err := cmd.Execute()
	require.ErrorIs(t, err, domain.ErrInvalidRule)
}

func TestPatchCmd_PositionalArgsAreRejected(t *testing.T) {
	wf := domainmocks.NewMockWorkflow(t)
	useWorkflow(t, wf)

	cmd, _ := newTestRoot(t, newPatchCmd())
	cmd.SetArgs([]string{"patch", "App.dll"})

	err := cmd.Execute()
	require.Error(t, err)
}
