package domain

import (
	"errors"
	"fmt"

	m "ilpatch.dev/pkg/ilpatch/internal/model"
)

// ErrorKind classifies a patch failure.
type ErrorKind int

const (
	// KindAccessDenied means the target directory is not writable.
	KindAccessDenied ErrorKind = iota
	// KindLoad means the module could not be read or parsed.
	KindLoad
	// KindUnsupportedReturnKind means a rule's constant does not fit the method's return type.
	KindUnsupportedReturnKind
	// KindSerialization means the rewritten module failed a consistency check.
	KindSerialization
	// KindRename means the final rename failed. The temporary file is kept.
	KindRename
	// KindTargetMissing means a target and its backup both do not exist.
	KindTargetMissing
	// KindBackup means the pre-patch backup copy could not be written.
	KindBackup
)

// Sentinels for errors.Is. A PatchError matches the sentinel of its kind.
var (
	ErrAccessDenied          = errors.New("access denied")
	ErrLoad                  = errors.New("load error")
	ErrUnsupportedReturnKind = errors.New("unsupported return kind")
	ErrSerialization         = errors.New("serialization error")
	ErrRename                = errors.New("rename error")
	ErrTargetMissing         = errors.New("target missing")
	ErrBackup                = errors.New("backup error")
)

var kindSentinels = map[ErrorKind]error{
	KindAccessDenied:          ErrAccessDenied,
	KindLoad:                  ErrLoad,
	KindUnsupportedReturnKind: ErrUnsupportedReturnKind,
	KindSerialization:         ErrSerialization,
	KindRename:                ErrRename,
	KindTargetMissing:         ErrTargetMissing,
	KindBackup:                ErrBackup,
}

// String returns the error kind name.
func (k ErrorKind) String() string {
	if err, ok := kindSentinels[k]; ok {
		return err.Error()
	}

	return "error"
}

// PatchError is a typed failure of one pipeline stage.
type PatchError struct {
	Kind ErrorKind
	// Path is the target binary.
	Path m.Path
	// Op names what was being done, for example a method full name or "rename".
	Op string
	// Temp is the temporary output left on disk by a failed rename.
	Temp m.Path
	Err  error
}

// Error implements the error interface.
func (e *PatchError) Error() string {
	msg := e.Kind.String()
	if e.Path != "" {
		msg += " " + string(e.Path)
	}

	if e.Op != "" {
		msg += " (" + e.Op + ")"
	}

	if e.Temp != "" {
		msg += fmt.Sprintf(", output kept at %s", e.Temp)
	}

	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

// Unwrap returns the underlying cause.
func (e *PatchError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind.
func (e *PatchError) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

func newPatchError(kind ErrorKind, path m.Path, op string, err error) *PatchError {
	return &PatchError{Kind: kind, Path: path, Op: op, Err: err}
}

// KindOf returns the kind of the first PatchError in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var pe *PatchError
	if errors.As(err, &pe) {
		return pe.Kind, true
	}

	return 0, false
}
