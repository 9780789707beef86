package context

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kristofer/stvm/pkg/bytecode"
	"github.com/kristofer/stvm/pkg/oop"
)

func ensureMethod() *bytecode.CompiledMethod {
	// tempCount=1, primitiveIndex=198, first temp left nil by construction.
	return bytecode.NewCompiledMethod("ensure:", 1, 1, ensurePrimitiveIndex, nil, nil, false)
}

func TestLocalReturnGoesToSender(t *testing.T) {
	s := NewStore()
	sender := s.New(&Context{Kind: KindMethod})
	active := s.New(&Context{Kind: KindMethod, Sender: sender})

	u := &Unwinder{Store: s}
	ev := u.LocalReturn(active, oop.SmallInteger(42))

	require.Equal(t, EventReturn, ev.Kind)
	require.Equal(t, sender, ev.New)
	require.Equal(t, oop.SmallInteger(42), ev.Value)
	require.Nil(t, ev.Err)
	require.True(t, s.Get(active).Returned())
}

func TestNonLocalReturnTargetsHomeSender(t *testing.T) {
	s := NewStore()
	homeSender := s.New(&Context{Kind: KindMethod})
	home := s.New(&Context{Kind: KindMethod, Sender: homeSender})
	block := s.New(&Context{Kind: KindBlock, Sender: home, Home: home})

	u := &Unwinder{Store: s}
	ev := u.NonLocalReturn(block, home, oop.SmallInteger(1))

	require.Equal(t, EventReturn, ev.Kind)
	require.Equal(t, homeSender, ev.New)
	require.True(t, s.Get(home).Returned())
}

func TestNonLocalReturnFailsWhenHomeAlreadyReturned(t *testing.T) {
	s := NewStore()
	home := s.New(&Context{Kind: KindMethod})
	s.Get(home).markReturned()
	block := s.New(&Context{Kind: KindBlock, Home: home})

	u := &Unwinder{Store: s}
	ev := u.NonLocalReturn(block, home, oop.SmallInteger(1))

	require.ErrorIs(t, ev.Err, ErrBlockCannotReturn)
}

// TestNonLocalReturnRunsNestedEnsuresInnermostFirst is the literal scenario
// from spec §8 #4: given
//
//	| x | x := 0. [[^ 1] ensure: [x := x + 10]] ensure: [x := x + 100]. x
//
// the sender observes x = 110, with the inner ensure's cleanup running
// before the outer one's.
func TestNonLocalReturnRunsNestedEnsuresInnermostFirst(t *testing.T) {
	s := NewStore()
	homeSender := s.New(&Context{Kind: KindMethod})
	home := s.New(&Context{Kind: KindMethod, Sender: homeSender})

	outerEnsure := s.New(&Context{Kind: KindMethod, Sender: home, Method: ensureMethod(),
		Stack: []oop.Value{oop.NilValue, oop.NilValue}})
	innerEnsure := s.New(&Context{Kind: KindMethod, Sender: outerEnsure, Method: ensureMethod(),
		Stack: []oop.Value{oop.NilValue, oop.NilValue}})
	block := s.New(&Context{Kind: KindBlock, Sender: innerEnsure, Home: home})

	var ranOrder []string
	u := &Unwinder{Store: s, RunCleanup: func(c *Context) error {
		if c.Sender == home {
			ranOrder = append(ranOrder, "outer")
		} else {
			ranOrder = append(ranOrder, "inner")
		}
		return nil
	}}

	ev := u.NonLocalReturn(block, home, oop.SmallInteger(1))

	require.Equal(t, EventReturn, ev.Kind)
	require.Equal(t, homeSender, ev.New)
	require.Equal(t, []string{"inner", "outer"}, ranOrder)
}

func TestIsEnsureMarkerRequiresNilFirstTemp(t *testing.T) {
	c := &Context{Method: ensureMethod(), Stack: []oop.Value{oop.NilValue, oop.NilValue}}
	require.True(t, c.isEnsureMarker())

	c.Stack[c.NumArgs] = oop.SmallInteger(7)
	require.False(t, c.isEnsureMarker())
}

func TestClosureRecordActivateBuildsArgsPlusCopiedStack(t *testing.T) {
	cr := &ClosureRecord{StartPC: 4, NumArgs: 1, Home: Ref(3), Copied: []oop.Value{oop.SmallInteger(9)}}
	ctx := cr.Activate(nil, []oop.Value{oop.SmallInteger(5)})

	require.Equal(t, KindBlock, ctx.Kind)
	require.Equal(t, []oop.Value{oop.SmallInteger(5), oop.SmallInteger(9)}, ctx.Stack)
	require.Equal(t, 4, ctx.PC)
}

func TestStoreFreeBreaksRefToNilContext(t *testing.T) {
	s := NewStore()
	ref := s.New(&Context{Kind: KindMethod})
	s.Free(ref)
	require.Nil(t, s.Get(ref))
}
