package fm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-dcl/canbus"
)

func TestHandle(t *testing.T) {
	require := require.New(t)

	h := NewHandle(0x21, 3, 7)
	require.Equal(uint8(0x21), h.NodeType())
	require.Equal(uint8(3), h.NodeIndex())
	require.Equal(uint8(7), h.Channel())
	require.Equal(NodeKey{Type: 0x21, Index: 3}, h.Node())
	require.Equal("33/3/7", h.String())
	require.NoError(h.Validate())

	id := h.MessageID(canbus.ClassFunction, 0x10)
	require.Equal(h, HandleOf(id))
	require.Equal(canbus.MasterToSlave, id.Direction)

	require.ErrorIs(NewHandle(0, 0, 0).Validate(), ErrConfigInvalid)
	require.ErrorIs(NewHandle(1, 16, 0).Validate(), ErrConfigInvalid)
	require.ErrorIs(NewHandle(1, 0, 32).Validate(), ErrConfigInvalid)
}
