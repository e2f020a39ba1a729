package scanner

import (
	"bytes"
	"io"
	"net/http"
	"os"
	"path"
	"strings"
)

// SniffLen is the number of leading bytes inspected by IsBinary.
const SniffLen = 512

var binaryExtensions = map[string]struct{}{
	// images
	"png": {}, "jpg": {}, "jpeg": {}, "gif": {}, "bmp": {}, "ico": {}, "webp": {}, "tiff": {}, "tif": {}, "psd": {}, "heic": {},
	// media
	"mp3": {}, "mp4": {}, "wav": {}, "flac": {}, "ogg": {}, "avi": {}, "mov": {}, "mkv": {}, "webm": {},
	// archives
	"zip": {}, "tar": {}, "gz": {}, "tgz": {}, "bz2": {}, "xz": {}, "7z": {}, "rar": {}, "zst": {}, "jar": {}, "war": {},
	// executables and objects
	"exe": {}, "dll": {}, "so": {}, "dylib": {}, "a": {}, "o": {}, "obj": {}, "lib": {}, "bin": {}, "class": {}, "pyc": {}, "pyo": {}, "wasm": {},
	// documents
	"pdf": {}, "doc": {}, "docx": {}, "xls": {}, "xlsx": {}, "ppt": {}, "pptx": {}, "odt": {},
	// fonts
	"ttf": {}, "otf": {}, "woff": {}, "woff2": {}, "eot": {},
	// databases
	"db": {}, "sqlite": {}, "sqlite3": {},
}

// Extension returns the lowercase extension of p without the leading dot.
func Extension(p string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(p), "."))
}

// HasBinaryExtension reports whether p has a known binary file extension.
func HasBinaryExtension(p string) bool {
	_, ok := binaryExtensions[Extension(p)]
	return ok
}

// IsBinary reports whether head, the first bytes of a file, looks like
// binary content: any NUL byte, or a sniffed type that is not text-like.
func IsBinary(head []byte) bool {
	if len(head) > SniffLen {
		head = head[:SniffLen]
	}
	if bytes.IndexByte(head, 0) >= 0 {
		return true
	}
	return http.DetectContentType(head) == "application/octet-stream"
}

func sniffFile(name string) (bool, error) {
	f, err := os.Open(name)
	if err != nil {
		return false, err
	}
	defer f.Close()

	buf := make([]byte, SniffLen)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return false, err
	}
	return IsBinary(buf[:n]), nil
}
