package ciltest

import "ilpatch.dev/pkg/ilpatch/internal/cil"

// Names used by the sample assemblies.
const (
	SampleName   = "Acme.Licensing"
	VendorName   = "Vendor.Shared"
	AppType      = "Acme.Licensing.App"
	InnerType    = "Inner"
	BaseType     = "Acme.Licensing.Base"
	StateEnum    = "Acme.Licensing.LicenseState"
	TierEnum     = "Acme.Licensing.Tier"
	EditionEnum  = "Vendor.Shared.Edition"
	RuntimeScope = "System.Runtime"
)

// Op builds an instruction.
func Op(code cil.OpCode, operand ...int64) cil.Instruction {
	inst := cil.Instruction{OpCode: code}
	if len(operand) > 0 {
		inst.Operand = operand[0]
	}

	return inst
}

// Tiny returns a body with the default tiny-header settings.
func Tiny(instructions ...cil.Instruction) *cil.MethodBody {
	return &cil.MethodBody{MaxStack: 8, Instructions: instructions}
}

func enumType(fullName string, underlying cil.ElementType) Type {
	ns, name := splitName(fullName)

	return Type{
		Namespace: ns,
		Name:      name,
		Flags:     0x00000101,
		Extends:   "System.Enum",
		Fields:    []Field{{Name: "value__", Flags: 0x0606, Type: Scalar(underlying)}},
	}
}

func splitName(fullName string) (string, string) {
	for i := len(fullName) - 1; i >= 0; i-- {
		if fullName[i] == '.' {
			return fullName[:i], fullName[i+1:]
		}
	}

	return "", fullName
}

// FooBody is a fat body with a local and a finally clause that returns 7.
func FooBody() *cil.MethodBody {
	return &cil.MethodBody{
		MaxStack:   2,
		InitLocals: true,
		Instructions: []cil.Instruction{
			Op(cil.LdcI40 + 5),
			Op(cil.Stloc0),
			Op(cil.Ldloc0),
			Op(cil.LdcI40 + 2),
			Op(cil.Add),
			Op(cil.Stloc0),
			Op(cil.LeaveS, 1),
			Op(cil.Endfinally),
			Op(cil.Ldloc0),
			Op(cil.Ret),
		},
		Clauses: []cil.ExceptionClause{{
			Flags:         cil.ClauseFinally,
			TryOffset:     2,
			TryLength:     6,
			HandlerOffset: 8,
			HandlerLength: 1,
		}},
	}
}

// Sample returns the managed-only fixture assembly. Its App type holds:
//
//	CheckLicense  bool    false
//	TrialDaysLeft int32   23 (30 - 7)
//	Foo           int32   7, fat body with a local and a finally clause
//	Small         int32   1, three-byte tiny body
//	Log           void
//	Banner        string
//	State         LicenseState (int32 enum) 1
//	Tier          Tier (uint8 enum) 0
//	Edition       Vendor.Shared.Edition (enum in another assembly)
//	Serial        int64   5
//	Level         int16   3
//	Ticks         uint64  9
//	Handle        native int
//	Counter       int32 returned by reference
//	IsEnabled     bool    true
//	IsVisible     bool    true, shares the IsEnabled body
//	Beep          pinvoke, no body
//
// plus a nested App/Inner::Ok (bool) and an abstract Base::Run (int32).
func Sample() Assembly {
	ret := Op(cil.Ret)

	return Assembly{
		Name:         SampleName,
		AssemblyRefs: []string{RuntimeScope, VendorName},
		TypeRefs: []TypeRef{
			{Namespace: "System", Name: "Object", Scope: RuntimeScope},
			{Namespace: "System", Name: "Enum", Scope: RuntimeScope},
			{Namespace: "Vendor.Shared", Name: "Edition", Scope: VendorName},
		},
		Types: []Type{
			enumType(StateEnum, cil.ElementI4),
			enumType(TierEnum, cil.ElementU1),
			{
				Namespace: "Acme.Licensing",
				Name:      "App",
				Extends:   "System.Object",
				Methods: []Method{
					{Name: "CheckLicense", Returns: Scalar(cil.ElementBoolean), Body: Tiny(Op(cil.LdcI40), ret)},
					{Name: "TrialDaysLeft", Returns: Scalar(cil.ElementI4), Body: Tiny(Op(cil.LdcI4S, 30), Op(cil.LdcI40+7), Op(cil.Sub), ret)},
					{Name: "Foo", Returns: Scalar(cil.ElementI4), Body: FooBody(), Locals: []Sig{Scalar(cil.ElementI4)}},
					{Name: "Small", Returns: Scalar(cil.ElementI4), Body: Tiny(Op(cil.LdcI41), ret)},
					{Name: "Log", Returns: Scalar(cil.ElementVoid), Body: Tiny(Op(cil.LdcI41), Op(cil.Pop), ret)},
					{Name: "Banner", Returns: Scalar(cil.ElementString), Body: Tiny(Op(cil.Ldnull), ret)},
					{Name: "State", Returns: ValueTypeDef(StateEnum), Body: Tiny(Op(cil.LdcI41), ret)},
					{Name: "Tier", Returns: ValueTypeDef(TierEnum), Body: Tiny(Op(cil.LdcI40), ret)},
					{Name: "Edition", Returns: ValueTypeRef(EditionEnum), Body: Tiny(Op(cil.LdcI40), ret)},
					{Name: "Serial", Returns: Scalar(cil.ElementI8), Body: Tiny(Op(cil.LdcI8, 5), ret)},
					{Name: "Level", Returns: Scalar(cil.ElementI2), Body: Tiny(Op(cil.LdcI40+3), ret)},
					{Name: "Ticks", Returns: Scalar(cil.ElementU8), Body: Tiny(Op(cil.LdcI8, 9), ret)},
					{Name: "Handle", Returns: Scalar(cil.ElementI), Body: Tiny(Op(cil.LdcI40), ret)},
					{Name: "Counter", Returns: Sig{Elem: cil.ElementI4, ByRef: true}, Body: Tiny(Op(cil.Ldnull), ret)},
					{Name: "IsEnabled", Returns: Scalar(cil.ElementBoolean), Body: Tiny(Op(cil.LdcI41), ret)},
					{Name: "IsVisible", Returns: Scalar(cil.ElementBoolean), SharedWith: "IsEnabled"},
					{Name: "Beep", Flags: MethodPublicStatic | MethodPInvoke, Returns: Scalar(cil.ElementVoid)},
				},
			},
			{
				Name:      InnerType,
				Flags:     0x00100002,
				Extends:   "System.Object",
				Enclosing: AppType,
				Methods: []Method{
					{Name: "Ok", Returns: Scalar(cil.ElementBoolean), Body: Tiny(Op(cil.LdcI40), ret)},
				},
			},
			{
				Namespace: "Acme.Licensing",
				Name:      "Base",
				Flags:     0x00100081,
				Extends:   "System.Object",
				Methods: []Method{
					{Name: "Run", Flags: MethodPublicInstance | MethodVirtual | MethodAbstract, Instance: true, Returns: Scalar(cil.ElementI4)},
				},
			},
		},
	}
}

// Vendor returns the assembly that defines Vendor.Shared.Edition as a uint16 enum.
func Vendor() Assembly {
	return Assembly{
		Name:         VendorName,
		AssemblyRefs: []string{RuntimeScope},
		TypeRefs:     []TypeRef{{Namespace: "System", Name: "Enum", Scope: RuntimeScope}},
		Types:        []Type{enumType(EditionEnum, cil.ElementU2)},
	}
}

// MixedSample returns Sample as a mixed-mode image with a native method.
func MixedSample() Assembly {
	asm := Sample()
	asm.Mixed = true

	app := &asm.Types[2]
	app.Methods = append(app.Methods, Method{
		Name:      "NativeCheck",
		ImplFlags: ImplNative,
		Returns:   Scalar(cil.ElementBoolean),
		Native:    []byte{0x31, 0xC0, 0xC3},
	})

	return asm
}
