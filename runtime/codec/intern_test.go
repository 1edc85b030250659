package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/compcache/runtime/composition"
)

func TestWriteTable_FirstSightOrder(t *testing.T) {
	table := newWriteTable()
	a := composition.NewTypeDescriptor(nil, 1, "A")
	b := composition.NewTypeDescriptor(nil, 1, "A")

	id, isNew := table.intern(a)
	assert.Equal(t, uint32(1), id)
	assert.True(t, isNew)

	// Equal content, different instance: types intern by identity.
	id, isNew = table.intern(b)
	assert.Equal(t, uint32(2), id)
	assert.True(t, isNew)

	id, isNew = table.intern(a)
	assert.Equal(t, uint32(1), id)
	assert.False(t, isNew)

	assert.Equal(t, 2, table.len())
	assert.Equal(t, 1, table.refs)
}

func TestWriteTable_ValueKeys(t *testing.T) {
	table := newWriteTable()

	id1, _ := table.intern("System.String")
	id2, isNew := table.intern("System." + "String")
	assert.Equal(t, id1, id2)
	assert.False(t, isNew)

	m1, _ := table.intern(composition.NewModuleIdentity("Acme", "/lib/acme"))
	m2, isNew := table.intern(composition.NewModuleIdentity("Acme", "/lib/acme"))
	assert.Equal(t, m1, m2)
	assert.False(t, isNew)

	m3, isNew := table.intern(composition.NewModuleIdentity("Acme", ""))
	assert.NotEqual(t, m1, m3)
	assert.True(t, isNew)
}

func TestReadTable_Sequence(t *testing.T) {
	table := newReadTable()

	existing, isNew, err := table.lookup(0)
	require.NoError(t, err)
	assert.Nil(t, existing)
	assert.False(t, isNew)

	_, isNew, err = table.lookup(1)
	require.NoError(t, err)
	assert.True(t, isNew)
	require.NoError(t, table.register(1, "first"))

	existing, isNew, err = table.lookup(1)
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, "first", existing)
	assert.Equal(t, 1, table.refs)

	_, _, err = table.lookup(3)
	assert.ErrorIs(t, err, ErrCorrupt)

	err = table.register(3, "skipped")
	assert.ErrorIs(t, err, ErrCorrupt)
	assert.Equal(t, 1, table.len())
}
