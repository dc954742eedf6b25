package vm

// ---------------------------------------------------------------------------
// Layout constants
// ---------------------------------------------------------------------------

const (
	BytesPerWord = 8
	BitsPerWord  = 64

	// ArrayLength is the byte offset of an array's length word; element
	// storage starts at ArrayBody.
	ArrayLength = BytesPerWord
	ArrayBody   = 2 * BytesPerWord

	ThreadHeapSizeInBytes          = 64 * 1024
	ThreadBackupHeapSizeInBytes    = 2 * 1024
	ThreadHeapPoolSize             = 64
	FixedFootprintThresholdInBytes = ThreadHeapPoolSize * ThreadHeapSizeInBytes

	DefaultHeapSizeInBytes = 128 * 1024 * 1024

	// objects that survive this many minor collections are tenured
	TenureThreshold = 1
)

// ceilWords rounds n bytes up to whole words.
func ceilWords(n int) int {
	return (n + BytesPerWord - 1) / BytesPerWord
}

func padToWord(n int) int {
	return ceilWords(n) * BytesPerWord
}

// ---------------------------------------------------------------------------
// Access flags (class file) and VM flags
// ---------------------------------------------------------------------------

const (
	AccPublic       = 0x0001
	AccPrivate      = 0x0002
	AccProtected    = 0x0004
	AccStatic       = 0x0008
	AccFinal        = 0x0010
	AccSuper        = 0x0020
	AccSynchronized = 0x0020
	AccVolatile     = 0x0040
	AccBridge       = 0x0040
	AccTransient    = 0x0080
	AccVarargs      = 0x0080
	AccNative       = 0x0100
	AccInterface    = 0x0200
	AccAbstract     = 0x0400
	AccStrict       = 0x0800
	AccSynthetic    = 0x1000
	AccAnnotation   = 0x2000
	AccEnum         = 0x4000
)

// VMFlags are runtime-maintained class flags, separate from access flags.
type VMFlags uint32

const (
	ReferenceFlag VMFlags = 1 << iota
	WeakReferenceFlag
	NeedInitFlag
	InitFlag
	InitErrorFlag
	PrimitiveFlag
	BootstrapFlag
	HasFinalizerFlag
	LinkFlag
	HasFinalMemberFlag
	SingletonFlag
	ContinuationFlag
)

// method VM flags
const (
	ClassInitFlag   = 1 << 0
	ConstructorFlag = 1 << 1
	FastNative      = 1 << 2
)

// ---------------------------------------------------------------------------
// Field type codes
// ---------------------------------------------------------------------------

// FieldCode identifies the storage kind of a field or array element.
type FieldCode uint8

const (
	VoidField FieldCode = iota
	ByteField
	BooleanField
	CharField
	ShortField
	IntField
	FloatField
	LongField
	DoubleField
	ObjectField
)

var fieldCodeNames = [...]string{"void", "byte", "boolean", "char", "short", "int", "float", "long", "double", "object"}

func (c FieldCode) String() string {
	if int(c) < len(fieldCodeNames) {
		return fieldCodeNames[c]
	}
	return "?"
}

// FieldCodeOf maps a descriptor character to its field code.
func FieldCodeOf(ch byte) (FieldCode, bool) {
	switch ch {
	case 'B':
		return ByteField, true
	case 'Z':
		return BooleanField, true
	case 'C':
		return CharField, true
	case 'S':
		return ShortField, true
	case 'I':
		return IntField, true
	case 'F':
		return FloatField, true
	case 'J':
		return LongField, true
	case 'D':
		return DoubleField, true
	case 'L', '[':
		return ObjectField, true
	case 'V':
		return VoidField, true
	}
	return VoidField, false
}

// Size returns the number of bytes a field of this kind occupies.
func (c FieldCode) Size() int {
	switch c {
	case ByteField, BooleanField:
		return 1
	case CharField, ShortField:
		return 2
	case IntField, FloatField:
		return 4
	case LongField, DoubleField:
		return 8
	case ObjectField:
		return BytesPerWord
	}
	return 0
}

// Wide reports whether the kind takes two argument slots.
func (c FieldCode) Wide() bool {
	return c == LongField || c == DoubleField
}

// ---------------------------------------------------------------------------
// Well-known class names
// ---------------------------------------------------------------------------

const (
	NameObject           = "java/lang/Object"
	NameClass            = "java/lang/Class"
	NameString           = "java/lang/String"
	NameThrowable        = "java/lang/Throwable"
	NameThread           = "java/lang/Thread"
	NameReference        = "java/lang/ref/Reference"
	NameWeakReference    = "java/lang/ref/WeakReference"
	NameSoftReference    = "java/lang/ref/SoftReference"
	NamePhantomReference = "java/lang/ref/PhantomReference"
	NameReferenceQueue   = "java/lang/ref/ReferenceQueue"
	NameCleaner          = "sun/misc/Cleaner"
	NameCloneable        = "java/lang/Cloneable"
	NameSerializable     = "java/io/Serializable"
	NameObjectArray      = "[Ljava/lang/Object;"
)
