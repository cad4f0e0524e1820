// Package tdef implements the TDEF archive: a zip container holding numbered
// record batches per entity type, out-lined binaries under _files and an XML
// manifest.
//
// Layout, forward-slash separated:
//
//	treeDB/                                   root marker
//	treeDB/<Type>/<N>                         Nth batch of a type
//	treeDB/_files/<Tag>_<RowID>[_<Index>]     detached binary or file content
//	dbinfo.xml                                manifest
package tdef

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	Root         = "treeDB/"
	FilesDir     = Root + "_files/"
	ManifestName = "dbinfo.xml"
)

var (
	// ErrMissingManifest is returned when an archive has no dbinfo.xml.
	ErrMissingManifest = errors.New("tdef: archive has no manifest")
	// ErrMissingEntry is returned when an expected batch or file entry is absent.
	ErrMissingEntry = errors.New("tdef: missing archive entry")
)

// TypeDir returns the directory holding the batches of typ.
func TypeDir(typ string) string { return Root + typ + "/" }

// BatchPath returns the entry name of batch n of typ.
func BatchPath(typ string, n int) string {
	return TypeDir(typ) + strconv.Itoa(n)
}

// FilePath returns the entry name of a detached payload. The field index is
// only part of the name when the type has more than one detached field.
func FilePath(tag uint32, rowID int64, fieldIndex int, multi bool) string {
	name := fmt.Sprintf("%s%d_%d", FilesDir, tag, rowID)
	if multi {
		name += "_" + strconv.Itoa(fieldIndex)
	}
	return name
}

// ContentPath returns the entry name of a virtual file's content.
func ContentPath(tag uint32, rowID int64) string {
	return FilePath(tag, rowID, 0, false)
}

// ParseFilePath is the inverse of FilePath. index is -1 when the name has no
// field index.
func ParseFilePath(name string) (tag uint32, rowID int64, index int, err error) {
	rest, ok := strings.CutPrefix(name, FilesDir)
	if !ok {
		return 0, 0, 0, fmt.Errorf("tdef: %q is not a file entry", name)
	}
	parts := strings.Split(rest, "_")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, 0, 0, fmt.Errorf("tdef: malformed file entry %q", name)
	}
	t, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("tdef: file entry %q: %w", name, err)
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("tdef: file entry %q: %w", name, err)
	}
	index = -1
	if len(parts) == 3 {
		if index, err = strconv.Atoi(parts[2]); err != nil {
			return 0, 0, 0, fmt.Errorf("tdef: file entry %q: %w", name, err)
		}
	}
	return uint32(t), id, index, nil
}

// ParseBatchPath splits a batch entry name into type and batch number.
func ParseBatchPath(name string) (typ string, n int, ok bool) {
	rest, found := strings.CutPrefix(name, Root)
	if !found || strings.HasPrefix(rest, "_files/") {
		return "", 0, false
	}
	typ, num, found := strings.Cut(rest, "/")
	if !found || typ == "" {
		return "", 0, false
	}
	n, err := strconv.Atoi(num)
	if err != nil {
		return "", 0, false
	}
	return typ, n, true
}
