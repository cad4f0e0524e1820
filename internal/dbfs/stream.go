package dbfs

import (
	"context"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
)

// Writer streams content into the blocks of a file.
type Writer struct {
	ctx     context.Context
	bs      BlockStore
	f       File
	persist func(context.Context) error

	buf    []byte
	index  uint32
	size   int64
	crc    hash.Hash32
	closed bool
}

// NewWriter truncates f and returns a writer for its content. persist is
// called on Close, after size and checksum have been set on f, to store the
// record; it may be nil.
func NewWriter(ctx context.Context, bs BlockStore, f File, persist func(context.Context) error) (*Writer, error) {
	if err := bs.DeleteBlocks(ctx, f.BlockOwner()); err != nil {
		return nil, fmt.Errorf("dbfs: truncate owner %d: %w", f.BlockOwner(), err)
	}
	f.SetContent(0, 0)
	return &Writer{
		ctx:     ctx,
		bs:      bs,
		f:       f,
		persist: persist,
		buf:     make([]byte, 0, BlockSize),
		crc:     crc32.NewIEEE(),
	}, nil
}

// Write buffers p and flushes every block that fills up. The record's size
// tracks the bytes written while its checksum stays zero until Close.
func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, ErrClosed
	}
	n := 0
	for len(p) > 0 {
		chunk := p
		if room := BlockSize - len(w.buf); len(chunk) > room {
			chunk = chunk[:room]
		}
		w.buf = append(w.buf, chunk...)
		_, _ = w.crc.Write(chunk)
		w.size += int64(len(chunk))
		n += len(chunk)
		p = p[len(chunk):]
		if len(w.buf) == BlockSize {
			if err := w.flush(); err != nil {
				return n, err
			}
		}
	}
	w.f.SetContent(w.size, 0)
	return n, nil
}

func (w *Writer) flush() error {
	if err := Write(w.ctx, w.bs, w.f.BlockOwner(), w.index, w.buf, len(w.buf)); err != nil {
		return fmt.Errorf("dbfs: write block %d of owner %d: %w", w.index, w.f.BlockOwner(), err)
	}
	if len(w.buf) > 0 {
		w.index++
	}
	w.buf = w.buf[:0]
	return nil
}

// Close flushes the last partial block and records size and checksum.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.flush(); err != nil {
		return err
	}
	w.f.SetContent(w.size, w.crc.Sum32())
	if w.persist != nil {
		return w.persist(w.ctx)
	}
	return nil
}

// Size returns the number of bytes written so far.
func (w *Writer) Size() int64 { return w.size }

// Reader reads the content of a file sequentially or by seeking. Only the
// block under the cursor is cached.
type Reader struct {
	ctx context.Context
	bs  BlockStore
	f   File

	pos   int64
	cur   int64
	block []byte
}

// NewReader returns a reader positioned at offset 0.
func NewReader(ctx context.Context, bs BlockStore, f File) *Reader {
	return &Reader{ctx: ctx, bs: bs, f: f, cur: -1}
}

func (r *Reader) load(idx int64) (bool, error) {
	if idx == r.cur {
		return r.block != nil, nil
	}
	b, err := Read(r.ctx, r.bs, r.f.BlockOwner(), uint32(idx))
	if err != nil {
		return false, err
	}
	r.cur, r.block = idx, b
	return b != nil, nil
}

// Read implements io.Reader. It returns io.EOF once the declared size is
// exhausted or the next block is missing.
func (r *Reader) Read(p []byte) (int, error) {
	size := r.f.FileSize()
	n := 0
	for n < len(p) && r.pos < size {
		ok, err := r.load(r.pos / BlockSize)
		if err != nil {
			return n, err
		}
		off := int(r.pos % BlockSize)
		if !ok || off >= len(r.block) {
			break
		}
		avail := r.block[off:]
		if rest := size - r.pos; int64(len(avail)) > rest {
			avail = avail[:rest]
		}
		c := copy(p[n:], avail)
		n += c
		r.pos += int64(c)
	}
	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Seek implements io.Seeker. Offsets outside [0, size] fail, as does a
// target block that cannot be loaded.
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = r.pos + offset
	case io.SeekEnd:
		abs = r.f.FileSize() + offset
	default:
		return r.pos, fmt.Errorf("%w: whence %d", ErrSeek, whence)
	}
	size := r.f.FileSize()
	if abs < 0 || abs > size {
		return r.pos, fmt.Errorf("%w: offset %d outside [0, %d]", ErrSeek, abs, size)
	}
	if abs < size {
		ok, err := r.load(abs / BlockSize)
		if err != nil {
			return r.pos, fmt.Errorf("%w: %v", ErrSeek, err)
		}
		if !ok {
			return r.pos, fmt.Errorf("%w: block %d missing", ErrSeek, abs/BlockSize)
		}
	}
	r.pos = abs
	return abs, nil
}

// Skip advances the cursor by up to n bytes without loading blocks and
// returns the distance moved.
func (r *Reader) Skip(n int64) int64 {
	if n <= 0 {
		return 0
	}
	if rest := r.f.FileSize() - r.pos; n > rest {
		n = rest
	}
	r.pos += n
	return n
}

// Store copies src into f and closes the writer.
func Store(ctx context.Context, bs BlockStore, f File, src io.Reader, persist func(context.Context) error) (int64, error) {
	w, err := NewWriter(ctx, bs, f, persist)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(w, src)
	if err != nil {
		return n, err
	}
	return n, w.Close()
}
