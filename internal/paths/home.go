// Package paths resolves the local directories treedb reads and writes.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// EnvHome overrides the home directory.
const EnvHome = "TREEDB_HOME"

const dirName = ".treedb"

// Home is $TREEDB_HOME, else ~/.treedb, else .treedb in the working directory.
func Home() string {
	if v := os.Getenv(EnvHome); v != "" {
		return v
	}
	if hd, err := os.UserHomeDir(); err == nil && hd != "" {
		return filepath.Join(hd, dirName)
	}
	return dirName
}

// BackupDir is where backups land when no output path is given.
func BackupDir() string {
	return filepath.Join(Home(), "backups")
}

// DefaultArchive returns a fresh archive path under BackupDir, creating the
// directory. The name embeds t so consecutive backups do not collide.
func DefaultArchive(t time.Time) (string, error) {
	dir := BackupDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}
	return filepath.Join(dir, "treedb-"+t.UTC().Format("20060102-150405.000")+".tdef"), nil
}
