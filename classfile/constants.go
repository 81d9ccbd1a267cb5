package classfile

// Class file framing.
const (
	Magic   uint32 = 0xC0DE0C0D
	Version uint32 = 1
)

// Opcodes. Values are part of the binary format; append only.
const (
	OpNop byte = iota
	OpAconstNull
	OpIconst
	OpLconst
	OpFconst
	OpDconst
	OpLdc

	OpIload
	OpLload
	OpFload
	OpDload
	OpAload
	OpIstore
	OpLstore
	OpFstore
	OpDstore
	OpAstore
	OpIinc

	OpPop
	OpDup
	OpSwap

	OpIadd
	OpLadd
	OpFadd
	OpDadd
	OpIsub
	OpLsub
	OpFsub
	OpDsub
	OpImul
	OpLmul
	OpFmul
	OpDmul
	OpIdiv
	OpLdiv
	OpFdiv
	OpDdiv
	OpIrem
	OpLrem
	OpIneg
	OpLneg
	OpFneg
	OpDneg
	OpIshl
	OpIshr
	OpIushr
	OpIand
	OpIor
	OpIxor

	OpI2L
	OpI2F
	OpI2D
	OpL2I
	OpL2F
	OpL2D
	OpF2I
	OpF2L
	OpF2D
	OpD2I
	OpD2L
	OpD2F

	OpLcmp
	OpFcmpl
	OpFcmpg
	OpDcmpl
	OpDcmpg

	OpIfeq
	OpIfne
	OpIflt
	OpIfge
	OpIfgt
	OpIfle
	OpIfIcmpeq
	OpIfIcmpne
	OpIfIcmplt
	OpIfIcmpge
	OpIfIcmpgt
	OpIfIcmple
	OpIfAcmpeq
	OpIfAcmpne
	OpIfnull
	OpIfnonnull
	OpGoto
	OpTableswitch

	OpIreturn
	OpLreturn
	OpFreturn
	OpDreturn
	OpAreturn
	OpReturn

	OpGetstatic
	OpPutstatic
	OpGetfield
	OpPutfield
	OpInvokevirtual
	OpInvokespecial
	OpInvokestatic
	OpInvokeinterface

	OpNew
	OpCheckcast
	OpInstanceof
	OpAthrow
	OpMonitorenter
	OpMonitorexit

	opCount
)

// ImmKind describes the immediate operand layout of an opcode.
type ImmKind uint8

const (
	ImmNone ImmKind = iota
	ImmLocal
	ImmIinc
	ImmI32
	ImmI64
	ImmF32
	ImmF64
	ImmString
	ImmBranch
	ImmTable
	ImmMember
	ImmClass
)

var opcodeNames = [opCount]string{
	OpNop:        "nop",
	OpAconstNull: "aconst_null",
	OpIconst:     "iconst",
	OpLconst:     "lconst",
	OpFconst:     "fconst",
	OpDconst:     "dconst",
	OpLdc:        "ldc",

	OpIload:  "iload",
	OpLload:  "lload",
	OpFload:  "fload",
	OpDload:  "dload",
	OpAload:  "aload",
	OpIstore: "istore",
	OpLstore: "lstore",
	OpFstore: "fstore",
	OpDstore: "dstore",
	OpAstore: "astore",
	OpIinc:   "iinc",

	OpPop:  "pop",
	OpDup:  "dup",
	OpSwap: "swap",

	OpIadd:  "iadd",
	OpLadd:  "ladd",
	OpFadd:  "fadd",
	OpDadd:  "dadd",
	OpIsub:  "isub",
	OpLsub:  "lsub",
	OpFsub:  "fsub",
	OpDsub:  "dsub",
	OpImul:  "imul",
	OpLmul:  "lmul",
	OpFmul:  "fmul",
	OpDmul:  "dmul",
	OpIdiv:  "idiv",
	OpLdiv:  "ldiv",
	OpFdiv:  "fdiv",
	OpDdiv:  "ddiv",
	OpIrem:  "irem",
	OpLrem:  "lrem",
	OpIneg:  "ineg",
	OpLneg:  "lneg",
	OpFneg:  "fneg",
	OpDneg:  "dneg",
	OpIshl:  "ishl",
	OpIshr:  "ishr",
	OpIushr: "iushr",
	OpIand:  "iand",
	OpIor:   "ior",
	OpIxor:  "ixor",

	OpI2L: "i2l",
	OpI2F: "i2f",
	OpI2D: "i2d",
	OpL2I: "l2i",
	OpL2F: "l2f",
	OpL2D: "l2d",
	OpF2I: "f2i",
	OpF2L: "f2l",
	OpF2D: "f2d",
	OpD2I: "d2i",
	OpD2L: "d2l",
	OpD2F: "d2f",

	OpLcmp:  "lcmp",
	OpFcmpl: "fcmpl",
	OpFcmpg: "fcmpg",
	OpDcmpl: "dcmpl",
	OpDcmpg: "dcmpg",

	OpIfeq:        "ifeq",
	OpIfne:        "ifne",
	OpIflt:        "iflt",
	OpIfge:        "ifge",
	OpIfgt:        "ifgt",
	OpIfle:        "ifle",
	OpIfIcmpeq:    "if_icmpeq",
	OpIfIcmpne:    "if_icmpne",
	OpIfIcmplt:    "if_icmplt",
	OpIfIcmpge:    "if_icmpge",
	OpIfIcmpgt:    "if_icmpgt",
	OpIfIcmple:    "if_icmple",
	OpIfAcmpeq:    "if_acmpeq",
	OpIfAcmpne:    "if_acmpne",
	OpIfnull:      "ifnull",
	OpIfnonnull:   "ifnonnull",
	OpGoto:        "goto",
	OpTableswitch: "tableswitch",

	OpIreturn: "ireturn",
	OpLreturn: "lreturn",
	OpFreturn: "freturn",
	OpDreturn: "dreturn",
	OpAreturn: "areturn",
	OpReturn:  "return",

	OpGetstatic:       "getstatic",
	OpPutstatic:       "putstatic",
	OpGetfield:        "getfield",
	OpPutfield:        "putfield",
	OpInvokevirtual:   "invokevirtual",
	OpInvokespecial:   "invokespecial",
	OpInvokestatic:    "invokestatic",
	OpInvokeinterface: "invokeinterface",

	OpNew:          "new",
	OpCheckcast:    "checkcast",
	OpInstanceof:   "instanceof",
	OpAthrow:       "athrow",
	OpMonitorenter: "monitorenter",
	OpMonitorexit:  "monitorexit",
}

var opcodesByName = func() map[string]byte {
	m := make(map[string]byte, opCount)
	for op, name := range opcodeNames {
		m[name] = byte(op)
	}
	return m
}()

// OpcodeName returns the mnemonic for op, or "" if op is unknown.
func OpcodeName(op byte) string {
	if int(op) >= len(opcodeNames) {
		return ""
	}
	return opcodeNames[op]
}

// OpcodeByName looks up an opcode by mnemonic.
func OpcodeByName(name string) (byte, bool) {
	op, ok := opcodesByName[name]
	return op, ok
}

// ValidOpcode reports whether op is defined.
func ValidOpcode(op byte) bool {
	return op < opCount
}

// Immediate returns the immediate layout of op.
func Immediate(op byte) ImmKind {
	switch op {
	case OpIload, OpLload, OpFload, OpDload, OpAload,
		OpIstore, OpLstore, OpFstore, OpDstore, OpAstore:
		return ImmLocal
	case OpIinc:
		return ImmIinc
	case OpIconst:
		return ImmI32
	case OpLconst:
		return ImmI64
	case OpFconst:
		return ImmF32
	case OpDconst:
		return ImmF64
	case OpLdc:
		return ImmString
	case OpIfeq, OpIfne, OpIflt, OpIfge, OpIfgt, OpIfle,
		OpIfIcmpeq, OpIfIcmpne, OpIfIcmplt, OpIfIcmpge, OpIfIcmpgt, OpIfIcmple,
		OpIfAcmpeq, OpIfAcmpne, OpIfnull, OpIfnonnull, OpGoto:
		return ImmBranch
	case OpTableswitch:
		return ImmTable
	case OpGetstatic, OpPutstatic, OpGetfield, OpPutfield,
		OpInvokevirtual, OpInvokespecial, OpInvokestatic, OpInvokeinterface:
		return ImmMember
	case OpNew, OpCheckcast, OpInstanceof:
		return ImmClass
	}
	return ImmNone
}

// AccessFlags are class, field and method modifiers.
type AccessFlags uint32

const (
	AccPublic       AccessFlags = 0x0001
	AccPrivate      AccessFlags = 0x0002
	AccProtected    AccessFlags = 0x0004
	AccStatic       AccessFlags = 0x0008
	AccFinal        AccessFlags = 0x0010
	AccSynchronized AccessFlags = 0x0020
	AccNative       AccessFlags = 0x0100
	AccInterface    AccessFlags = 0x0200
	AccAbstract     AccessFlags = 0x0400
)

var flagNames = []struct {
	name string
	flag AccessFlags
}{
	{"public", AccPublic},
	{"private", AccPrivate},
	{"protected", AccProtected},
	{"static", AccStatic},
	{"final", AccFinal},
	{"synchronized", AccSynchronized},
	{"native", AccNative},
	{"interface", AccInterface},
	{"abstract", AccAbstract},
}

// Has reports whether all bits of f are set.
func (a AccessFlags) Has(f AccessFlags) bool {
	return a&f == f
}

// Names returns the modifier keywords set in a, in canonical order.
func (a AccessFlags) Names() []string {
	var out []string
	for _, fn := range flagNames {
		if a.Has(fn.flag) {
			out = append(out, fn.name)
		}
	}
	return out
}

// FlagByName looks up a modifier keyword.
func FlagByName(name string) (AccessFlags, bool) {
	for _, fn := range flagNames {
		if fn.name == name {
			return fn.flag, true
		}
	}
	return 0, false
}

// Well-known names.
const (
	ObjectClass = "Object"
	StringClass = "String"
	InitName    = "<init>"
)
