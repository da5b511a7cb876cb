package graph

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind     Kind
		scope    bool
		callable bool
		variable bool
	}{
		{KindPackage, true, false, false},
		{KindModule, true, true, false},
		{KindFile, false, false, false},
		{KindFunction, true, true, false},
		{KindMethod, true, true, false},
		{KindClass, true, false, false},
		{KindField, false, false, true},
		{KindVariable, false, false, true},
		{KindBlock, true, false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.scope, tt.kind.IsScope())
			assert.Equal(t, tt.callable, tt.kind.IsCallable())
			assert.Equal(t, tt.variable, tt.kind.IsVariable())
		})
	}
}

func TestCallKindPairs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind    CallKind
		forward RelKind
		inverse RelKind
	}{
		{CallDirect, RelCall, RelCalledBy},
		{CallImplicitInternal, RelImplicitInternalCall, RelImplicitInternalCalledBy},
		{CallImplicitExternal, RelImplicitExternalCall, RelImplicitExternalCalledBy},
	}

	for _, tt := range tests {
		t.Run(string(tt.forward), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.forward, tt.kind.Forward())
			assert.Equal(t, tt.inverse, tt.kind.Inverse())
			assert.Equal(t, string(tt.forward), tt.kind.String())
			assert.Contains(t, ForwardCallKinds, tt.forward)
			assert.Contains(t, InverseCallKinds, tt.inverse)
		})
	}
}

func TestParseCallKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want CallKind
	}{
		{"direct", CallDirect},
		{"call", CallDirect},
		{"internal", CallImplicitInternal},
		{"implicit_internal_call", CallImplicitInternal},
		{"external", CallImplicitExternal},
		{"implicit_external_call", CallImplicitExternal},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseCallKind(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"", "called_by", "Direct"} {
		_, err := ParseCallKind(bad)
		assert.Error(t, err, bad)
	}
}

func TestCallKind_JSON(t *testing.T) {
	t.Parallel()

	type edge struct {
		Kind CallKind `json:"kind"`
	}
	data, err := json.Marshal(edge{Kind: CallImplicitExternal})
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"implicit_external_call"}`, string(data))

	var decoded edge
	require.NoError(t, json.Unmarshal([]byte(`{"kind":"internal"}`), &decoded))
	assert.Equal(t, CallImplicitInternal, decoded.Kind)

	assert.Error(t, json.Unmarshal([]byte(`{"kind":"bogus"}`), &decoded))
}

func TestEntity_NormalizeCallsOnce(t *testing.T) {
	t.Parallel()

	s := NewStore()
	fn, err := s.Declare(Decl{Kind: KindFunction, Name: "f", Parent: NoEntity})
	assert.NoError(t, err)
	assert.NoError(t, s.AddRawCall(fn, "a().b()"))

	e, _ := s.Get(fn)
	runs := 0
	split := func(in []string) []string {
		runs++
		return append([]string{"a()"}, in...)
	}

	first := e.NormalizeCalls(split)
	second := e.NormalizeCalls(split)

	assert.Equal(t, 1, runs)
	assert.Equal(t, []string{"a()", "a().b()"}, first)
	assert.Equal(t, first, second)
}

func TestEntity_CallList(t *testing.T) {
	t.Parallel()

	s := NewStore()
	cls, _ := s.Declare(Decl{Kind: KindClass, Name: "C", Parent: NoEntity})
	mod, _ := s.Declare(Decl{Kind: KindModule, Name: "m", Parent: NoEntity})
	assert.NoError(t, s.AddRawCall(mod, "run()"))

	c, _ := s.Get(cls)
	_, ok := c.CallList()
	assert.False(t, ok)
	assert.Nil(t, c.NormalizeCalls(func(in []string) []string { return in }))

	m, _ := s.Get(mod)
	calls, ok := m.CallList()
	assert.True(t, ok)
	assert.Equal(t, []string{"run()"}, calls)
}
