package tdef

import (
	"bytes"
	"net/http"
	"strings"
)

var flvSignature = []byte("FLV\x01")

// precompressed lists media types whose payloads gain nothing from deflate.
var precompressed = map[string]bool{
	"image/jpeg":                   true,
	"image/png":                    true,
	"image/gif":                    true,
	"image/webp":                   true,
	"video/mp4":                    true,
	"video/webm":                   true,
	"video/x-flv":                  true,
	"application/zip":              true,
	"application/x-gzip":           true,
	"application/x-rar-compressed": true,
}

// ContentType sniffs the media type of data.
func ContentType(data []byte) string {
	if bytes.HasPrefix(data, flvSignature) {
		return "video/x-flv"
	}
	ct := http.DetectContentType(data)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return ct
}

// Precompressed reports whether data is already a compressed media format.
func Precompressed(data []byte) bool {
	return precompressed[ContentType(data)]
}

// MethodFor picks the compression method for a payload whose first bytes are
// head: Store for compressed media, def otherwise.
func MethodFor(head []byte, def Method) Method {
	if Precompressed(head) {
		return Store
	}
	return def
}
