// Package value defines the tagged value union and heap object model
// shared by the compiler and the virtual machine.
//
// A Value is never boxed into an interface{}: it is a small struct
// carrying a type tag plus either a float64 payload or a pointer to a
// heap Object. Two Values compare equal structurally, except that
// Obj variants compare by pointer identity — the string intern pool
// makes this equivalent to content equality for strings (see Table).
package value

import "fmt"

// Tag identifies which variant a Value currently holds.
type Tag byte

const (
	TagNull Tag = iota
	TagNum
	TagObj
)

// Value is the tagged union every stack slot, constant, and global
// holds. True and false are encoded as Num(1) and Num(0); truthiness
// of a number is "non-zero" rather than a dedicated boolean tag.
type Value struct {
	tag Tag
	num float64
	obj *Object
}

// Null is the single canonical null value.
var Null = Value{tag: TagNull}

// Num builds a numeric value.
func Num(n float64) Value { return Value{tag: TagNum, num: n} }

// Bool encodes a Go bool the way the language does: 1.0 or 0.0.
func Bool(b bool) Value {
	if b {
		return Num(1)
	}
	return Num(0)
}

// Obj wraps a heap object reference.
func Obj(o *Object) Value { return Value{tag: TagObj, obj: o} }

func (v Value) Tag() Tag     { return v.tag }
func (v Value) IsNull() bool { return v.tag == TagNull }
func (v Value) IsNum() bool  { return v.tag == TagNum }
func (v Value) IsObj() bool  { return v.tag == TagObj }

// AsNum returns the numeric payload; callers must check IsNum first.
func (v Value) AsNum() float64 { return v.num }

// AsObj returns the object payload; callers must check IsObj first.
func (v Value) AsObj() *Object { return v.obj }

// IsString reports whether v holds a String object.
func (v Value) IsString() bool { return v.tag == TagObj && v.obj.Type == ObjString }

// AsString returns the Go string content of a String object. Callers
// must check IsString first.
func (v Value) AsString() string { return v.obj.Str.Chars }

// IsFunction reports whether v holds a Function object.
func (v Value) IsFunction() bool { return v.tag == TagObj && v.obj.Type == ObjFunction }

// AsFunction returns the Function payload. Callers must check
// IsFunction first.
func (v Value) AsFunction() *Function { return v.obj.Fn }

// Truthy implements the language's truthiness rule: numbers are
// truthy when non-zero, null is always falsy, strings are truthy
// when non-empty.
func (v Value) Truthy() bool {
	switch v.tag {
	case TagNum:
		return v.num != 0
	case TagNull:
		return false
	case TagObj:
		if v.obj.Type == ObjString {
			return v.obj.Str.Length > 0
		}
		return true
	}
	return false
}

// Equal implements the value equality used by OP_EQUAL: structural
// for Num/Null, identity for Obj (interning makes this the same as
// content equality for strings).
func Equal(a, b Value) bool {
	if a.tag != b.tag {
		return false
	}
	switch a.tag {
	case TagNum:
		return a.num == b.num
	case TagNull:
		return true
	case TagObj:
		return a.obj == b.obj
	}
	return false
}

// String renders v for disassembly and REPL echoing — not part of
// the language's own print surface, which does not exist in this core.
func (v Value) String() string {
	switch v.tag {
	case TagNull:
		return "null"
	case TagNum:
		return fmt.Sprintf("%g", v.num)
	case TagObj:
		return v.obj.String()
	}
	return "<invalid value>"
}

// ObjectType discriminates the payload carried by an Object header.
type ObjectType byte

const (
	ObjString ObjectType = iota
	ObjFunction
)

// Object is the common header every heap-allocated value carries.
// Next threads the object into the VM's intrusive object list, the
// sole mechanism by which the VM accounts for (simulated) memory at
// teardown.
type Object struct {
	Type ObjectType
	Next *Object

	Str *StringData
	Fn  *Function
}

func (o *Object) String() string {
	switch o.Type {
	case ObjString:
		return o.Str.Chars
	case ObjFunction:
		return fmt.Sprintf("<function/%d>", o.Fn.Arity)
	}
	return "<object>"
}

// StringData is the payload of an ObjString object: an immutable,
// interned string. Two ObjString objects with equal Chars are always
// the same *Object when created through the VM — see VM.InternString.
type StringData struct {
	Chars  string
	Length int
	Hash   uint32
}

// NewStringObject wraps a Go string, together with its hash, in a
// fresh Object. It does not intern — callers that need the interning
// invariant must go through the VM's string table.
func NewStringObject(s string) *Object {
	return &Object{
		Type: ObjString,
		Str:  &StringData{Chars: s, Length: len(s), Hash: HashString(s)},
	}
}

// HashString is the FNV-1a hash used throughout the hash table
// (ported from the reference's ms_hashMem).
func HashString(s string) uint32 {
	var hash uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		hash ^= uint32(s[i])
		hash *= 16777619
	}
	return hash
}

// Function is the object created for the top-level script and for
// every `function ... end function` form. Code is filled in by the
// compiler as it emits bytecode for the function body.
//
// Chunk lives in this package (rather than a separate pkg/chunk) for
// one reason: a Function owns a Chunk, and a Chunk's constant pool
// holds Values, which can themselves be Function objects (nested
// `function ... end function` literals). Splitting the two into
// separate packages makes that mutual reference an import cycle;
// keeping them together is the idiomatic way out of it.
type Function struct {
	Arity int
	Code  Chunk
	Name  string // empty for the top-level script; diagnostic only
}

// NewFunctionObject allocates a Function object with an empty chunk.
func NewFunctionObject() *Object {
	return &Object{Type: ObjFunction, Fn: &Function{}}
}
