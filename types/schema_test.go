package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testTable() *TabMeta {
	return &TabMeta{
		Name: "t",
		Cols: []ColMeta{
			{TabName: "t", Name: "a", Type: TypeInt, Len: 4, Offset: 0, HasIndex: true},
			{TabName: "t", Name: "b", Type: TypeInt, Len: 4, Offset: 4},
		},
	}
}

func TestTupleLen(t *testing.T) {
	tab := testTable()
	require.Equal(t, 8, tab.TupleLen())
}

func TestIndexMetaFileName(t *testing.T) {
	tab := testTable()
	im, err := NewIndexMeta(tab, []string{"a"})
	require.NoError(t, err)
	require.Equal(t, "t_a_.idx", im.FileName())
	require.Equal(t, 4, im.ColTotLen)
}

func TestIxCompareInt(t *testing.T) {
	a := EncodeInt(5, 4)
	b := EncodeInt(10, 4)
	require.Equal(t, -1, IxCompare(a, b, TypeInt, 4))
	require.Equal(t, 1, IxCompare(b, a, TypeInt, 4))
	require.Equal(t, 0, IxCompare(a, a, TypeInt, 4))
}

func TestIxCompareString(t *testing.T) {
	a := EncodeString("apple", 8)
	b := EncodeString("banana", 8)
	require.Equal(t, -1, IxCompare(a, b, TypeString, 8))
	require.Equal(t, "apple", DecodeString(a))
}

func TestNewIndexMetaMissingColumn(t *testing.T) {
	tab := testTable()
	_, err := NewIndexMeta(tab, []string{"nope"})
	require.Error(t, err)
}
