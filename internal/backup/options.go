// Package backup exports a TreeDB database, or one domain of it, into a TDEF
// archive and restores such archives into another database.
package backup

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pezi/treedb/internal/config"
	"github.com/pezi/treedb/internal/store"
	"github.com/pezi/treedb/internal/tdef"
)

var (
	// ErrConsistency reports an archive or database that contradicts itself:
	// a foreign key without a target, a file whose content does not match its
	// checksum, or a type tag that changed since export.
	ErrConsistency = errors.New("backup: consistency mismatch")
	// ErrSchemaVersion is returned for archives written by an incompatible schema.
	ErrSchemaVersion = errors.New("backup: incompatible schema version")
)

// Options for creating a backup.
type Options struct {
	Serialization tdef.Serialization // default JSON
	Compression   tdef.Method        // default deflate; media payloads are always stored
	FetchSize     int                // records per batch, default 256
	ActiveOnly    bool               // export only rows with active status
	ModifiedSince time.Time          // zero exports everything
	IncludeUsers  bool               // domain backups: export referenced users, anonymized
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Serialization: tdef.JSON,
		Compression:   tdef.Deflate,
		FetchSize:     store.DefaultPageSize,
		IncludeUsers:  true,
	}
}

// OptionsFromConfig builds options from the export section of the config.
func OptionsFromConfig(c config.ExportConfig) (Options, error) {
	opt := DefaultOptions()
	ser, err := tdef.ParseSerialization(c.Serialization)
	if err != nil {
		return opt, err
	}
	method, err := tdef.ParseMethod(c.Compression)
	if err != nil {
		return opt, err
	}
	opt.Serialization = ser
	opt.Compression = method
	if c.FetchSize > 0 {
		opt.FetchSize = c.FetchSize
	}
	opt.ActiveOnly = c.ActiveOnly
	opt.IncludeUsers = c.UsersIncluded()
	return opt, nil
}

func (o Options) normalized() Options {
	if o.Serialization == "" {
		o.Serialization = tdef.JSON
	}
	if o.Compression == "" {
		o.Compression = tdef.Deflate
	}
	if o.FetchSize <= 0 {
		o.FetchSize = store.DefaultPageSize
	}
	return o
}

// RestoreOptions defines restore behavior.
type RestoreOptions struct {
	// Purge deletes every existing row of the registered types before
	// inserting. Without it the target should be empty.
	Purge     bool
	FetchSize int // page size of the fix-up pass, default 256
}

// compatible reports whether an archive written with schema version v can be
// read: the major versions must match.
func compatible(v string) bool {
	major := func(s string) string {
		m, _, _ := strings.Cut(strings.TrimSpace(s), ".")
		return m
	}
	return v != "" && major(v) == major(tdef.SchemaVersion)
}

func consistencyf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConsistency, fmt.Sprintf(format, args...))
}
