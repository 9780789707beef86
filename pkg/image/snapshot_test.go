package image

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBinaryFormatRoundTripsSnapshot(t *testing.T) {
	s := &Snapshot{
		RootClass:    "Object",
		RootSelector: "run",
		Classes: []ClassSpec{
			{
				Name:       "Object",
				FixedSlots: 0,
				Methods: []MethodSpec{
					{
						Selector:       "run",
						ArgCount:       0,
						TempCount:      1,
						PrimitiveIndex: 0,
						Literals: []Literal{
							{Kind: LiteralSmallInteger, Int: 42},
							{Kind: LiteralSymbol, Str: "printNl"},
							{Kind: LiteralNil},
							{Kind: LiteralBool, Bool: true},
							{Kind: LiteralFloat, Flt: 3.5},
						},
						Bytecodes: []byte{0x20, 0xD0, 0x7C},
					},
				},
			},
			{Name: "SmallInteger", Superclass: "Object"},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, BinaryFormat{}.Write(s, &buf))

	got, err := BinaryFormat{}.Read(&buf)
	require.NoError(t, err)
	require.Equal(t, s, got)
}

func TestBinaryFormatRejectsBadMagic(t *testing.T) {
	_, err := BinaryFormat{}.Read(bytes.NewReader([]byte{0, 0, 0, 0, 1, 0, 0, 0}))
	require.Error(t, err)
}

func TestBinaryFormatRejectsFutureVersion(t *testing.T) {
	var buf bytes.Buffer
	s := &Snapshot{RootClass: "Object", RootSelector: "run"}
	require.NoError(t, BinaryFormat{}.Write(s, &buf))

	raw := buf.Bytes()
	// version field follows the 4-byte magic
	raw[4] = 0xFF
	_, err := BinaryFormat{}.Read(bytes.NewReader(raw))
	require.Error(t, err)
}
