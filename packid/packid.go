// Package packid computes and formats the (category, expansion, patch)
// triple that identifies one SqPack repository file, from either a virtual
// asset path or a physical ".win32.index2"/".win32.datN" filename.
package packid

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/dervus/xivtool/sqerr"
)

var categoryNameToID = map[string]uint8{
	"common":        0x00,
	"bgcommon":      0x01,
	"bg":            0x02,
	"cut":           0x03,
	"chara":         0x04,
	"shader":        0x05,
	"ui":            0x06,
	"sound":         0x07,
	"vfx":           0x08,
	"ui_script":     0x09,
	"exd":           0x0a,
	"game_script":   0x0b,
	"music":         0x0c,
	"_sqpack_test":  0x12,
	"_debug":        0x13,
}

var (
	expansionRe = regexp.MustCompile(`^ex([1-9])$`)
	patchRe     = regexp.MustCompile(`^([0-9a-f]{2})_`)
	repoFileRe  = regexp.MustCompile(`^([0-9a-f]{2})([0-9a-f]{2})([0-9a-f]{2})\.win32\.(dat\d|index|index2)$`)
)

// PackId identifies one repository file: an index2/datN stem under either
// the base-game ("ffxiv") directory or one of the "ex<N>" expansion
// directories.
type PackId struct {
	Category  uint8
	Expansion uint8
	Patch     uint8
}

// New builds a PackId directly from its three components.
func New(category, expansion, patch uint8) PackId {
	return PackId{Category: category, Expansion: expansion, Patch: patch}
}

// FromVirtualPath derives a PackId from a caller-supplied asset path such as
// "exd/root.exl" or "sound/ex1/1f_testfile". Only the category segment is
// mandatory; a shorter path defaults expansion and patch to zero.
func FromVirtualPath(p string) (PackId, error) {
	segments := strings.Split(p, "/")
	if len(segments) == 0 || segments[0] == "" {
		return PackId{}, sqerr.New(sqerr.BadInnerPath)
	}

	category, ok := categoryNameToID[segments[0]]
	if !ok {
		return PackId{}, sqerr.New(sqerr.BadCategory)
	}

	var expansion, patch uint8
	if len(segments) >= 2 {
		if m := expansionRe.FindStringSubmatch(segments[1]); m != nil {
			n, err := strconv.ParseUint(m[1], 10, 8)
			if err != nil {
				return PackId{}, sqerr.Wrap(sqerr.BadExpansion, err)
			}
			expansion = uint8(n)

			if len(segments) >= 3 {
				if pm := patchRe.FindStringSubmatch(segments[2]); pm != nil {
					n, err := strconv.ParseUint(pm[1], 16, 8)
					if err != nil {
						return PackId{}, sqerr.Wrap(sqerr.BadPatch, err)
					}
					patch = uint8(n)
				}
			}
		}
	}

	return New(category, expansion, patch), nil
}

// FromPackFilename derives a PackId from a physical repository filename,
// e.g. "0a0000.win32.index2". Only the base name is inspected.
func FromPackFilename(name string) (PackId, error) {
	m := repoFileRe.FindStringSubmatch(path.Base(name))
	if m == nil {
		return PackId{}, sqerr.New(sqerr.BadRepoFile)
	}

	cat, err := strconv.ParseUint(m[1], 16, 8)
	if err != nil {
		return PackId{}, sqerr.Wrap(sqerr.BadCategory, err)
	}
	exp, err := strconv.ParseUint(m[2], 16, 8)
	if err != nil {
		return PackId{}, sqerr.Wrap(sqerr.BadExpansion, err)
	}
	patch, err := strconv.ParseUint(m[3], 16, 8)
	if err != nil {
		return PackId{}, sqerr.Wrap(sqerr.BadPatch, err)
	}

	return New(uint8(cat), uint8(exp), uint8(patch)), nil
}

// repoDir returns the expansion directory this PackId lives under:
// "ffxiv" for the base game, "ex<N>" otherwise.
func (id PackId) repoDir() string {
	if id.Expansion == 0 {
		return "ffxiv"
	}
	return fmt.Sprintf("ex%d", id.Expansion)
}

// stem returns the lowercase 6-hex filename stem shared by this PackId's
// index and dat files, e.g. "0a0000" or "07011f".
func (id PackId) stem() string {
	return fmt.Sprintf("%02x%02x%02x", id.Category, id.Expansion, id.Patch)
}

// ToIndex2Path returns this PackId's ".win32.index2" path, relative to a
// SqPack repository's base directory.
func (id PackId) ToIndex2Path() string {
	return path.Join(id.repoDir(), id.stem()+".win32.index2")
}

// ToDatPath returns this PackId's ".win32.dat<n>" path, relative to a
// SqPack repository's base directory.
func (id PackId) ToDatPath(n uint8) string {
	return path.Join(id.repoDir(), fmt.Sprintf("%s.win32.dat%d", id.stem(), n))
}

// String renders the PackId the way repository filenames spell it, e.g.
// "PackId(0a0000)".
func (id PackId) String() string {
	return fmt.Sprintf("PackId(%s)", id.stem())
}
