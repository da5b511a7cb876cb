package resolve

// Profile holds the language-specific knobs of the resolver.
type Profile struct {
	Language string
	// Builtins are undotted names that never produce an edge.
	Builtins map[string]struct{}
	// SuperKeyword names the parent-dispatch call, empty when the language has none.
	SuperKeyword string
	// SelfKeyword names the implicit receiver, empty when receivers are ordinary variables.
	SelfKeyword string
}

// IsBuiltin reports whether name is a builtin of the language.
func (p Profile) IsBuiltin(name string) bool {
	_, ok := p.Builtins[name]
	return ok
}

// WithBuiltins returns a copy of p with extra builtin names.
func (p Profile) WithBuiltins(extra ...string) Profile {
	merged := make(map[string]struct{}, len(p.Builtins)+len(extra))
	for name := range p.Builtins {
		merged[name] = struct{}{}
	}
	for _, name := range extra {
		merged[name] = struct{}{}
	}
	p.Builtins = merged
	return p
}

// Profiles maps a language name to its profile.
type Profiles map[string]Profile

// For returns the profile of lang, or an empty profile for unknown languages.
func (ps Profiles) For(lang string) Profile {
	if p, ok := ps[lang]; ok {
		return p
	}
	return Profile{Language: lang}
}

// DefaultProfiles returns the profiles of every supported language.
func DefaultProfiles() Profiles {
	return Profiles{
		"python": PythonProfile(),
		"go":     GoProfile(),
	}
}

func set(names ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(names))
	for _, n := range names {
		m[n] = struct{}{}
	}
	return m
}

// PythonProfile returns the Python 3 profile.
func PythonProfile() Profile {
	return Profile{
		Language:     "python",
		SuperKeyword: "super",
		SelfKeyword:  "self",
		Builtins: set(
			"abs", "aiter", "all", "anext", "any", "ascii", "bin", "bool",
			"breakpoint", "bytearray", "bytes", "callable", "chr", "classmethod",
			"compile", "complex", "delattr", "dict", "dir", "divmod", "enumerate",
			"eval", "exec", "filter", "float", "format", "frozenset", "getattr",
			"globals", "hasattr", "hash", "help", "hex", "id", "input", "int",
			"isinstance", "issubclass", "iter", "len", "list", "locals", "map",
			"max", "memoryview", "min", "next", "object", "oct", "open", "ord",
			"pow", "print", "property", "range", "repr", "reversed", "round",
			"set", "setattr", "slice", "sorted", "staticmethod", "str", "sum",
			"tuple", "type", "vars", "zip", "__import__",
		),
	}
}

// GoProfile returns the Go profile. Conversions to predeclared types are
// treated as builtins.
func GoProfile() Profile {
	return Profile{
		Language: "go",
		Builtins: set(
			"append", "cap", "clear", "close", "complex", "copy", "delete",
			"imag", "len", "make", "max", "min", "new", "panic", "print",
			"println", "real", "recover",
			"any", "bool", "byte", "comparable", "complex64", "complex128",
			"error", "float32", "float64", "int", "int8", "int16", "int32",
			"int64", "rune", "string", "uint", "uint8", "uint16", "uint32",
			"uint64", "uintptr",
		),
	}
}
