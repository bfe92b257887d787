// Package filetype maps file extensions to the small taxonomy the preview
// routing uses, and owns the dangerous-extension denylist enforced at
// upload. The two concerns are independent: a file can classify as "other"
// and still be stored and downloaded.
package filetype

import (
	"path/filepath"
	"strings"
)

type Kind string

const (
	KindImage   Kind = "image"
	KindPDF     Kind = "pdf"
	KindText    Kind = "text"
	KindDocx    Kind = "docx"
	KindXlsx    Kind = "xlsx"
	KindVideo   Kind = "video"
	KindOther   Kind = "other"
	KindUnknown Kind = "unknown"
)

var kindByExtension = map[string]Kind{
	"png":  KindImage,
	"jpg":  KindImage,
	"jpeg": KindImage,
	"gif":  KindImage,
	"bmp":  KindImage,
	"svg":  KindImage,
	"webp": KindImage,

	"pdf": KindPDF,

	"txt":  KindText,
	"md":   KindText,
	"csv":  KindText,
	"json": KindText,
	"xml":  KindText,
	"log":  KindText,

	"doc":  KindDocx,
	"docx": KindDocx,

	"xls":  KindXlsx,
	"xlsx": KindXlsx,

	"mp4":  KindVideo,
	"avi":  KindVideo,
	"mkv":  KindVideo,
	"mov":  KindVideo,
	"webm": KindVideo,
}

// dangerousExtensions is a fixed denylist of executable and script types
// rejected at upload regardless of anything else. Everything not listed is
// accepted by default; the earlier allow-list approach was abandoned.
var dangerousExtensions = map[string]bool{
	"exe": true,
	"bat": true,
	"cmd": true,
	"com": true,
	"pif": true,
	"scr": true,
	"vbs": true,
	"js":  true,
	"jar": true,
	"msi": true,
	"app": true,
	"deb": true,
	"rpm": true,
	"sh":  true,
	"ps1": true,
	"php": true,
	"dll": true,
	"so":  true,
}

// Classify maps a filename to its preview kind. KindUnknown is reserved
// for names without any extension; an extension that matches nothing
// classifies as KindOther.
func Classify(filename string) Kind {
	ext := Ext(filename)
	if ext == "" {
		return KindUnknown
	}
	if kind, ok := kindByExtension[ext]; ok {
		return kind
	}
	return KindOther
}

// IsDangerous reports whether the filename carries a denylisted extension.
func IsDangerous(filename string) bool {
	return dangerousExtensions[Ext(filename)]
}

// Ext returns the lowercased extension without the leading dot, or "" for
// extension-less names. A bare leading dot (hidden file like ".config")
// does not count as an extension.
func Ext(filename string) string {
	base := filepath.Base(filename)
	ext := filepath.Ext(base)
	if ext == "" || ext == base {
		return ""
	}
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}
