// Package xivtool provides read-only access to a SqPack asset repository:
// the index + data container format used to package game assets (textures,
// tables, models, sounds, scripts) into a small number of large files on
// disk.
//
// A SqPack handle maps virtual asset paths (e.g. "exd/root.exl") to their
// physical location via per-pack hashed indexes (see package index), then
// the dat package reconstructs the asset's decoded bytes from the
// chunk/block stream at that location. The excel package builds table
// access ("exd"/"exh" sheets) on top of that byte stream.
package xivtool

import (
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dervus/xivtool/dat"
	"github.com/dervus/xivtool/index"
	"github.com/dervus/xivtool/packid"
	"github.com/dervus/xivtool/sqerr"
)

// indexSlot lazily loads and memoizes the Index for one PackId. Loading is
// at-most-once: the first caller to force the slot blocks every other
// caller of the same slot until it's published, while slots for other
// PackIds are independent and never contend with each other.
type indexSlot struct {
	once sync.Once
	idx  *index.Index
	err  error
}

// SqPack is a handle to one on-disk SqPack repository. It is safe to share
// across goroutines: index loading is one-shot per pack and, once loaded,
// an Index is immutable.
type SqPack struct {
	baseDir string
	slots   map[packid.PackId]*indexSlot
}

// Ptr locates one asset's decoded byte stream. It is a thin re-export of
// dat.Ptr so callers never need to import the dat package directly for the
// common case.
type Ptr = dat.Ptr

// File is the decoded result of reading an inner file.
type File = dat.File

// Open discovers every pack registered under baseDir by scanning its
// immediate subdirectories (one per expansion: "ffxiv", "ex1", ...) for
// ".index2" files. Each subdirectory is scanned concurrently, since the
// scans are independent filesystem walks; the per-PackId Index contents
// themselves are not read until first use.
func Open(baseDir string) (*SqPack, error) {
	repoEntries, err := os.ReadDir(baseDir)
	if err != nil {
		return nil, sqerr.Wrap(sqerr.IO, err)
	}

	var mu sync.Mutex
	slots := make(map[packid.PackId]*indexSlot)

	var g errgroup.Group
	for _, repoEntry := range repoEntries {
		if !repoEntry.IsDir() {
			continue
		}
		expDir := filepath.Join(baseDir, repoEntry.Name())

		g.Go(func() error {
			expEntries, err := os.ReadDir(expDir)
			if err != nil {
				return sqerr.Wrap(sqerr.IO, err)
			}

			found := make(map[packid.PackId]struct{})
			for _, expEntry := range expEntries {
				if expEntry.IsDir() {
					continue
				}
				if filepath.Ext(expEntry.Name()) != ".index2" {
					continue
				}
				id, err := packid.FromPackFilename(expEntry.Name())
				if err != nil {
					continue // not a recognizable pack file; skip it
				}
				found[id] = struct{}{}
			}

			mu.Lock()
			for id := range found {
				slots[id] = &indexSlot{}
			}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &SqPack{baseDir: baseDir, slots: slots}, nil
}

// indexFor returns the (lazily loaded) Index for id, or nil if no pack with
// that id was discovered by Open.
func (s *SqPack) indexFor(id packid.PackId) (*index.Index, error) {
	slot, ok := s.slots[id]
	if !ok {
		return nil, nil
	}

	slot.once.Do(func() {
		slot.idx, slot.err = index.Load(filepath.Join(s.baseDir, id.ToIndex2Path()))
	})
	return slot.idx, slot.err
}

// Find resolves a virtual asset path to a pointer at its decoded bytes. A
// nil Ptr and nil error together mean the asset's pack isn't present in
// this repository (a valid negative answer, not a failure).
func (s *SqPack) Find(path string) (*Ptr, error) {
	id, err := packid.FromVirtualPath(path)
	if err != nil {
		return nil, err
	}

	idx, err := s.indexFor(id)
	if err != nil {
		return nil, err
	}
	if idx == nil {
		return nil, nil
	}

	entry, ok := idx.Find(path)
	if !ok {
		return nil, nil
	}

	return &Ptr{
		DatPath: filepath.Join(s.baseDir, id.ToDatPath(entry.DatNum)),
		Offset:  entry.Offset,
	}, nil
}
