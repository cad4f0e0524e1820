package tdef

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"
)

// Method is a zip compression method name as it appears in the manifest.
type Method string

const (
	Deflate Method = "deflate"
	Store   Method = "store"
)

// ParseMethod validates a configured compression method. Empty means Deflate.
func ParseMethod(s string) (Method, error) {
	switch Method(strings.ToLower(strings.TrimSpace(s))) {
	case "", Deflate:
		return Deflate, nil
	case Store:
		return Store, nil
	default:
		return "", fmt.Errorf("tdef: unknown compression method %q", s)
	}
}

func (m Method) zip() uint16 {
	if m == Store {
		return zip.Store
	}
	return zip.Deflate
}

// Writer appends entries to a TDEF archive.
type Writer struct {
	f       *os.File
	zw      *zip.Writer
	written int64
	entries int
}

// Create creates (or truncates) the archive file at path.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &Writer{f: f, zw: zip.NewWriter(f)}, nil
}

// NewWriter writes an archive to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{zw: zip.NewWriter(w)}
}

// Dir adds a directory entry; name must end with a slash.
func (w *Writer) Dir(name string) error {
	if !strings.HasSuffix(name, "/") {
		name += "/"
	}
	_, err := w.zw.CreateHeader(&zip.FileHeader{Name: name, Modified: time.Now()})
	return err
}

// Create starts a new entry and returns a writer for its content. The writer
// is valid until the next call on w.
func (w *Writer) Create(name string, method Method) (io.Writer, error) {
	out, err := w.zw.CreateHeader(&zip.FileHeader{Name: name, Method: method.zip(), Modified: time.Now()})
	if err != nil {
		return nil, fmt.Errorf("tdef: create %s: %w", name, err)
	}
	w.entries++
	return &countingWriter{w: out, n: &w.written}, nil
}

// Put writes a complete entry.
func (w *Writer) Put(name string, data []byte, method Method) error {
	out, err := w.Create(name, method)
	if err != nil {
		return err
	}
	if _, err := out.Write(data); err != nil {
		return fmt.Errorf("tdef: write %s: %w", name, err)
	}
	return nil
}

// Written returns the uncompressed bytes written to entries so far.
func (w *Writer) Written() int64 { return w.written }

// Entries returns the number of non-directory entries written.
func (w *Writer) Entries() int { return w.entries }

// Close finishes the central directory and closes the file, if any.
func (w *Writer) Close() error {
	err := w.zw.Close()
	if w.f != nil {
		if cerr := w.f.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

type countingWriter struct {
	w io.Writer
	n *int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	*c.n += int64(n)
	return n, err
}

// Reader gives random access to the entries of a TDEF archive.
type Reader struct {
	closer io.Closer
	files  map[string]*zip.File
	names  []string
}

// Open opens the archive file at path.
func Open(path string) (*Reader, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	r := newReader(&rc.Reader)
	r.closer = rc
	return r, nil
}

// NewReader reads an archive from ra.
func NewReader(ra io.ReaderAt, size int64) (*Reader, error) {
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return nil, err
	}
	return newReader(zr), nil
}

func newReader(zr *zip.Reader) *Reader {
	r := &Reader{files: make(map[string]*zip.File, len(zr.File))}
	for _, f := range zr.File {
		r.files[f.Name] = f
		r.names = append(r.names, f.Name)
	}
	sort.Strings(r.names)
	return r
}

// Has reports whether the archive holds an entry called name.
func (r *Reader) Has(name string) bool {
	_, ok := r.files[name]
	return ok
}

// Size returns the uncompressed size of entry name, or -1 when absent.
func (r *Reader) Size(name string) int64 {
	f, ok := r.files[name]
	if !ok {
		return -1
	}
	return int64(f.UncompressedSize64)
}

// Method returns the compression method of entry name.
func (r *Reader) Method(name string) Method {
	if f, ok := r.files[name]; ok && f.Method == zip.Store {
		return Store
	}
	return Deflate
}

// OpenEntry opens entry name for reading.
func (r *Reader) OpenEntry(name string) (io.ReadCloser, error) {
	f, ok := r.files[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingEntry, name)
	}
	return f.Open()
}

// ReadAll returns the content of entry name.
func (r *Reader) ReadAll(name string) ([]byte, error) {
	rc, err := r.OpenEntry(name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	var buf bytes.Buffer
	if sz := r.Size(name); sz > 0 {
		buf.Grow(int(sz))
	}
	if _, err := io.Copy(&buf, rc); err != nil {
		return nil, fmt.Errorf("tdef: read %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

// List returns the sorted names of all non-directory entries below prefix.
func (r *Reader) List(prefix string) []string {
	var out []string
	for _, n := range r.names {
		if strings.HasPrefix(n, prefix) && !strings.HasSuffix(n, "/") {
			out = append(out, n)
		}
	}
	return out
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}
