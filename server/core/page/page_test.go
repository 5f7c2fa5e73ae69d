package page

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	p := NewPage()
	p.Header.ItemCount = 2
	p.Items = []ItemIDData{
		{Offset: 100, Length: 40, Flags: LPUsed},
		{Offset: 140, Length: 20, Flags: LPUsed},
	}
	copy(p.Data[100:140], []byte("hello world, this is a tuple body......"))

	buf := p.Serialize()
	require.Len(t, buf, Size)

	var got Page
	require.NoError(t, Deserialize(buf, &got))
	require.Equal(t, p.Header.ItemCount, got.Header.ItemCount)
	require.Equal(t, p.Items, got.Items)
	require.Equal(t, p.Data, got.Data)
}

func TestDeserializeDetectsCorruption(t *testing.T) {
	p := NewPage()
	buf := p.Serialize()
	buf[10] ^= 0xFF

	var got Page
	err := Deserialize(buf, &got)
	require.Error(t, err)
}

func TestFileSpaceManagerExtendReadWrite(t *testing.T) {
	dir := t.TempDir()
	m := NewFileSpaceManager(dir)
	defer m.Close()

	rel := RelID{DBID: 1, RelOID: 100}

	size, err := m.Size(rel)
	require.NoError(t, err)
	require.Equal(t, uint32(0), size)

	blockNo, err := m.Extend(rel)
	require.NoError(t, err)
	require.Equal(t, uint32(0), blockNo)

	p := NewPage()
	p.Header.ItemCount = 1
	p.Items = []ItemIDData{{Offset: headerLen + 8, Length: 5, Flags: LPUsed}}
	copy(p.Data[headerLen+8:headerLen+13], []byte("abcde"))
	require.NoError(t, m.WriteBlock(rel, blockNo, p))

	var readBack Page
	require.NoError(t, m.ReadBlock(rel, blockNo, &readBack))
	require.Equal(t, p.Items, readBack.Items)

	require.NoError(t, m.Unlink(rel))
}
