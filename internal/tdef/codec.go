package tdef

import (
	"bytes"
	"encoding/gob"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/goccy/go-json"

	"github.com/pezi/treedb/internal/model"
)

// Serialization names a record codec.
type Serialization string

const (
	JSON   Serialization = "JSON"
	XML    Serialization = "XML"
	Binary Serialization = "BINARY"
)

// ParseSerialization accepts a codec name in any case. Empty means JSON.
func ParseSerialization(s string) (Serialization, error) {
	switch Serialization(strings.ToUpper(strings.TrimSpace(s))) {
	case "", JSON:
		return JSON, nil
	case XML:
		return XML, nil
	case Binary:
		return Binary, nil
	default:
		return "", fmt.Errorf("tdef: unknown serialization %q", s)
	}
}

// Factory allocates an empty entity of a type.
type Factory func(typ string) (model.Entity, error)

// Codec encodes a batch of records of one type.
type Codec interface {
	Encode(w io.Writer, batch []model.Entity) error
	Decode(data []byte, typ string, alloc Factory) ([]model.Entity, error)
}

// CodecFor returns the codec for s.
func CodecFor(s Serialization) (Codec, error) {
	switch s {
	case JSON:
		return jsonCodec{}, nil
	case XML:
		return xmlCodec{}, nil
	case Binary:
		// gob is bound to the Go struct layout and does not survive type changes.
		return gobCodec{}, nil
	default:
		return nil, fmt.Errorf("tdef: unknown serialization %q", s)
	}
}

type jsonCodec struct{}

func (jsonCodec) Encode(w io.Writer, batch []model.Entity) error {
	return json.NewEncoder(w).Encode(batch)
}

func (jsonCodec) Decode(data []byte, typ string, alloc Factory) ([]model.Entity, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("tdef: decode %s batch: %w", typ, err)
	}
	out := make([]model.Entity, 0, len(raw))
	for i, r := range raw {
		e, err := alloc(typ)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(r, e); err != nil {
			return nil, fmt.Errorf("tdef: decode %s record %d: %w", typ, i, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// ErrXMLText is returned when a text field holds characters XML 1.0 cannot
// carry. encoding/xml would replace them with U+FFFD.
var ErrXMLText = errors.New("tdef: text not representable in XML")

type xmlCodec struct{}

var recordElement = xml.StartElement{Name: xml.Name{Local: "record"}}

func (xmlCodec) Encode(w io.Writer, batch []model.Entity) error {
	enc := xml.NewEncoder(w)
	root := xml.StartElement{Name: xml.Name{Local: "batch"}}
	if err := enc.EncodeToken(root); err != nil {
		return err
	}
	for _, e := range batch {
		if err := checkXMLText(reflect.ValueOf(e), e.TypeName()); err != nil {
			return fmt.Errorf("tdef: encode %s %d: %w", e.TypeName(), e.Meta().ID, err)
		}
		if err := enc.EncodeElement(e, recordElement); err != nil {
			return fmt.Errorf("tdef: encode %s: %w", e.TypeName(), err)
		}
	}
	if err := enc.EncodeToken(root.End()); err != nil {
		return err
	}
	return enc.Flush()
}

func (xmlCodec) Decode(data []byte, typ string, alloc Factory) ([]model.Entity, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var out []model.Entity
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("tdef: decode %s batch: %w", typ, err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != recordElement.Name.Local {
			continue
		}
		e, err := alloc(typ)
		if err != nil {
			return nil, err
		}
		if err := dec.DecodeElement(e, &se); err != nil {
			return nil, fmt.Errorf("tdef: decode %s record %d: %w", typ, len(out), err)
		}
		out = append(out, e)
	}
}

// checkXMLText walks the exported fields of v the way encoding/xml does and
// fails on the first string or byte slice holding a character outside the
// XML 1.0 Char production or an invalid UTF-8 sequence.
func checkXMLText(v reflect.Value, field string) error {
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return checkXMLText(v.Elem(), field)
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			sf := t.Field(i)
			if !sf.IsExported() || sf.Tag.Get("xml") == "-" {
				continue
			}
			name := field
			if !sf.Anonymous {
				name += "." + sf.Name
			}
			if err := checkXMLText(v.Field(i), name); err != nil {
				return err
			}
		}
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8 {
			return checkXMLString(string(v.Bytes()), field)
		}
		for i := 0; i < v.Len(); i++ {
			if err := checkXMLText(v.Index(i), fmt.Sprintf("%s[%d]", field, i)); err != nil {
				return err
			}
		}
	case reflect.String:
		return checkXMLString(v.String(), field)
	}
	return nil
}

func checkXMLString(s, field string) error {
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			return fmt.Errorf("%w: %s has invalid UTF-8 at byte %d", ErrXMLText, field, i)
		}
		if !isXMLChar(r) {
			return fmt.Errorf("%w: %s has %U at byte %d", ErrXMLText, field, r, i)
		}
		i += size
	}
	return nil
}

func isXMLChar(r rune) bool {
	return r == '\t' || r == '\n' || r == '\r' ||
		r >= 0x20 && r <= 0xD7FF ||
		r >= 0xE000 && r <= 0xFFFD ||
		r >= 0x10000 && r <= 0x10FFFF
}

type gobCodec struct{}

func (gobCodec) Encode(w io.Writer, batch []model.Entity) error {
	enc := gob.NewEncoder(w)
	if err := enc.Encode(len(batch)); err != nil {
		return err
	}
	for _, e := range batch {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("tdef: encode %s: %w", e.TypeName(), err)
		}
	}
	return nil
}

func (gobCodec) Decode(data []byte, typ string, alloc Factory) ([]model.Entity, error) {
	dec := gob.NewDecoder(bytes.NewReader(data))
	var n int
	if err := dec.Decode(&n); err != nil {
		return nil, fmt.Errorf("tdef: decode %s batch: %w", typ, err)
	}
	out := make([]model.Entity, 0, n)
	for i := 0; i < n; i++ {
		e, err := alloc(typ)
		if err != nil {
			return nil, err
		}
		if err := dec.Decode(e); err != nil {
			return nil, fmt.Errorf("tdef: decode %s record %d: %w", typ, i, err)
		}
		out = append(out, e)
	}
	return out, nil
}
