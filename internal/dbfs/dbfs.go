// Package dbfs stores virtual files as fixed-size blocks in the database.
//
// A file's content is split into BlockSize blocks. Each block is addressed by
// a 64-bit key (owner << 32) | index, where owner is the historization ID of
// the file record. Random access costs one block load.
//
// Streams are not safe for concurrent use; callers serialize access to a
// file themselves.
package dbfs

import (
	"context"
	"errors"
	"fmt"
)

// BlockSize is the payload capacity of one block.
const BlockSize = 512 * 1024

var (
	// ErrSeek is returned for seeks outside [0, size] or onto unloadable blocks.
	ErrSeek = errors.New("dbfs: invalid seek")
	// ErrCorrupt is returned when a file fails CheckIntegrity.
	ErrCorrupt = errors.New("dbfs: file failed integrity check")
	// ErrClosed is returned when writing to a closed stream.
	ErrClosed = errors.New("dbfs: stream closed")
)

// BlockStore persists blocks. ReadBlock returns nil, nil for a missing block.
// WriteBlock must not retain data after it returns.
type BlockStore interface {
	WriteBlock(ctx context.Context, key int64, data []byte) error
	ReadBlock(ctx context.Context, key int64) ([]byte, error)
	DeleteBlocks(ctx context.Context, owner uint32) error
}

// File is the record owning a block sequence.
type File interface {
	BlockOwner() uint32
	FileSize() int64
	FileCRC() uint32
	SetContent(size int64, crc uint32)
}

// BlockKey composes the key of block index of owner.
func BlockKey(owner, index uint32) int64 {
	return int64(uint64(owner)<<32 | uint64(index))
}

// SplitBlockKey is the inverse of BlockKey.
func SplitBlockKey(key int64) (owner, index uint32) {
	return uint32(uint64(key) >> 32), uint32(uint64(key))
}

// Write persists data[:size] as block index of owner. A zero size is a no-op,
// so no block is ever stored empty.
func Write(ctx context.Context, bs BlockStore, owner, index uint32, data []byte, size int) error {
	if size == 0 {
		return nil
	}
	if size < 0 || size > len(data) || size > BlockSize {
		return fmt.Errorf("dbfs: block size %d out of range", size)
	}
	return bs.WriteBlock(ctx, BlockKey(owner, index), data[:size])
}

// Read loads block index of owner. It returns nil when the block does not
// exist, which readers treat as end of file.
func Read(ctx context.Context, bs BlockStore, owner, index uint32) ([]byte, error) {
	return bs.ReadBlock(ctx, BlockKey(owner, index))
}

// CheckIntegrity reports whether f was closed properly: an empty file, or a
// file with a checksum. A writer that was never closed leaves a non-zero
// size without a checksum.
func CheckIntegrity(f File) bool {
	return f.FileSize() == 0 || f.FileCRC() != 0
}

// BlockCount returns the number of blocks a file of size bytes occupies.
func BlockCount(size int64) int64 {
	return (size + BlockSize - 1) / BlockSize
}
