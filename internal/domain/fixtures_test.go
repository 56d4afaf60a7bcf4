package domain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"ilpatch.dev/pkg/ilpatch/internal/adapter"
	"ilpatch.dev/pkg/ilpatch/internal/cil/ciltest"
	m "ilpatch.dev/pkg/ilpatch/internal/model"
)

func loadModule(t *testing.T, asm ciltest.Assembly) *m.Module {
	t.Helper()

	loader := adapter.NewLocalModuleLoader(adapter.NewLocalBinaryFSAdapter())

	module, err := loader.LoadBytes(context.Background(), m.Path(asm.Name+".dll"), ciltest.MustBuild(asm), nil)
	require.NoError(t, err)

	return module
}

func findMethod(t *testing.T, module *m.Module, typeName, name string) *m.Method {
	t.Helper()

	typ, ok := module.Type(typeName)
	require.True(t, ok, "type %s", typeName)

	methods := typ.Lookup(name)
	require.Len(t, methods, 1, "method %s::%s", typeName, name)

	return methods[0]
}

func invoke(t *testing.T, data []byte, typeName, method string) ciltest.Result {
	t.Helper()

	res, err := ciltest.Invoke(data, typeName, method)
	require.NoError(t, err, "%s::%s", typeName, method)

	return res
}

func returns(v int64) ciltest.Result {
	return ciltest.Result{Value: v, HasValue: true}
}
