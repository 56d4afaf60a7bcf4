package cmd

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ilpatch.dev/pkg/ilpatch/internal/domain"
	domainmocks "ilpatch.dev/pkg/ilpatch/internal/domain/mocks"
	m "ilpatch.dev/pkg/ilpatch/internal/model"
)

func sampleInspections() []m.Inspection {
	return []m.Inspection{{
		Path: "App.dll",
		Name: "Acme",
		Kind: m.ManagedOnly,
		Size: 4096,
		Methods: []m.MethodInfo{
			{FullName: "Acme.App::CheckLicense", Token: "0x06000001", ReturnKind: m.ReturnBoolean, ReturnType: "bool", HasBody: true, BodySize: 12, Matched: true},
			{FullName: "Acme.App::Log", Token: "0x06000002", ReturnKind: m.ReturnVoid, ReturnType: "void", HasBody: true, BodySize: 1},
		},
	}}
}

func TestInspectCmd_ListsMethods(t *testing.T) {
	wf := domainmocks.NewMockWorkflow(t)
	useWorkflow(t, wf)

	cmd, out := newTestRoot(t, newInspectCmd())
	config := writeConfig(t, licenseConfig)

	wf.EXPECT().Inspect(mock.Anything, mock.MatchedBy(func(args domain.InspectArgs) bool {
		return args.Threads == 2 && len(args.Targets) == 2
	})).Return(sampleInspections(), nil)

	cmd.SetArgs([]string{"inspect", "--config", config, "--threads", "2"})

	err := cmd.Execute()
	require.NoError(t, err)

	assert.Contains(t, out.String(), "Acme.App::CheckLicense")
	assert.Contains(t, out.String(), "Acme.App::Log")
}

func TestInspectCmd_UsesConfiguredThreads(t *testing.T) {
	wf := domainmocks.NewMockWorkflow(t)
	useWorkflow(t, wf)

	cmd, _ := newTestRoot(t, newInspectCmd())
	config := writeConfig(t, licenseConfig+"inspect:\n  threads: 7\n")

	wf.EXPECT().Inspect(mock.Anything, mock.MatchedBy(func(args domain.InspectArgs) bool {
		return args.Threads == 7
	})).Return([]m.Inspection{}, nil)

	cmd.SetArgs([]string{"inspect", "--config", config})

	err := cmd.Execute()
	require.NoError(t, err)
}

func TestInspectCmd_WritesOutput(t *testing.T) {
	wf := domainmocks.NewMockWorkflow(t)
	useWorkflow(t, wf)

	cmd, _ := newTestRoot(t, newInspectCmd())
	config := writeConfig(t, licenseConfig)
	output := filepath.Join(t.TempDir(), "methods.yaml")

	wf.EXPECT().Inspect(mock.Anything, mock.Anything).Return(sampleInspections(), nil)

	cmd.SetArgs([]string{"inspect", "--config", config, "-o", output})

	err := cmd.Execute()
	require.NoError(t, err)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Contains(t, string(data), "assembly: Acme")
	assert.Contains(t, string(data), "Acme.App::CheckLicense")
}

func TestInspectCmd_Error(t *testing.T) {
	wf := domainmocks.NewMockWorkflow(t)
	useWorkflow(t, wf)

	cmd, _ := newTestRoot(t, newInspectCmd())
	config := writeConfig(t, licenseConfig)

	wf.EXPECT().Inspect(mock.Anything, mock.Anything).Return(nil, domain.ErrTargetMissing)

	cmd.SetArgs([]string{"inspect", "--config", config})

	err := cmd.Execute()
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrTargetMissing))
	assert.Contains(t, err.Error(), "inspect:")
}
