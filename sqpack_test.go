package xivtool

import (
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dervus/xivtool/index"
	"github.com/dervus/xivtool/packid"
)

func jamcrc(b []byte) uint32 { return ^crc32.ChecksumIEEE(b) }

// writeRepo builds a minimal two-pack repository ("ffxiv" + "ex1") on disk:
// one ".index2" per pack, each pointing a handful of virtual paths at
// offsets within a same-named ".dat0" sibling (whose contents this test
// never reads).
func writeRepo(t *testing.T) string {
	t.Helper()
	base := t.TempDir()

	writeIndex2 := func(dir, stem string, paths map[string]uint64) {
		type packed struct{ hash, location uint32 }
		var packedEntries []packed
		for p, offset := range paths {
			location := uint32(offset >> 3) // datnum 0
			packedEntries = append(packedEntries, packed{hash: jamcrc([]byte(p)), location: location})
		}

		const headerOffset = 0x80
		const entriesOffset = 0x100
		buf := make([]byte, entriesOffset+len(packedEntries)*8)
		copy(buf[0:8], []byte("SqPack\x00\x00"))
		binary.LittleEndian.PutUint32(buf[0x0C:], headerOffset)
		binary.LittleEndian.PutUint32(buf[headerOffset+8:], entriesOffset)
		binary.LittleEndian.PutUint32(buf[headerOffset+12:], uint32(len(packedEntries)*8))
		for i, pe := range packedEntries {
			off := entriesOffset + i*8
			binary.LittleEndian.PutUint32(buf[off:], pe.hash)
			binary.LittleEndian.PutUint32(buf[off+4:], pe.location)
		}

		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, stem+".win32.index2"), buf, 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, stem+".win32.dat0"), make([]byte, 4096), 0o644))
	}

	writeIndex2(filepath.Join(base, "ffxiv"), "0a0000", map[string]uint64{
		"exd/root.exl": 128,
	})
	writeIndex2(filepath.Join(base, "ex1"), "07011f", map[string]uint64{
		"sound/ex1/1f_testfile": 256,
	})

	return base
}

func TestOpenAndFind(t *testing.T) {
	base := writeRepo(t)

	repo, err := Open(base)
	require.NoError(t, err)

	ptr, err := repo.Find("exd/root.exl")
	require.NoError(t, err)
	require.NotNil(t, ptr)
	require.Equal(t, uint64(128), ptr.Offset)
	require.Equal(t, filepath.Join(base, "ffxiv", "0a0000.win32.dat0"), ptr.DatPath)

	ptr, err = repo.Find("sound/ex1/1f_testfile")
	require.NoError(t, err)
	require.NotNil(t, ptr)
	require.Equal(t, uint64(256), ptr.Offset)
}

func TestFindMissingPackReturnsNilNotError(t *testing.T) {
	base := writeRepo(t)
	repo, err := Open(base)
	require.NoError(t, err)

	// "chara" (0x04) has no pack registered in this fixture repo at all.
	ptr, err := repo.Find("chara/common/texture/white.tex")
	require.NoError(t, err)
	require.Nil(t, ptr)
}

func TestFindMissingEntryReturnsNilNotError(t *testing.T) {
	base := writeRepo(t)
	repo, err := Open(base)
	require.NoError(t, err)

	ptr, err := repo.Find("exd/nonexistent.exl")
	require.NoError(t, err)
	require.Nil(t, ptr)
}

func TestIndexLoadedAtMostOnce(t *testing.T) {
	base := writeRepo(t)
	repo, err := Open(base)
	require.NoError(t, err)

	id, err := packid.FromVirtualPath("exd/root.exl")
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]*index.Index, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			idx, err := repo.indexFor(id)
			require.NoError(t, err)
			results[i] = idx
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(results); i++ {
		require.Same(t, results[0], results[i])
	}
}
