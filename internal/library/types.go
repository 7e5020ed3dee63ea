// Package library maintains the indexed view of the document collection.
package library

import (
	"strings"
	"time"
)

// Kind identifies the document type of an indexed file.
type Kind string

const (
	KindPDF      Kind = "pdf"
	KindMarkdown Kind = "markdown"
	KindSlides   Kind = "pptx"
	KindWord     Kind = "docx"
)

// KindForExtension maps a file extension (with or without leading dot) to
// its document kind. The second result is false for unknown extensions.
func KindForExtension(ext string) (Kind, bool) {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "pptx", "ppt":
		return KindSlides, true
	case "pdf":
		return KindPDF, true
	case "md", "markdown":
		return KindMarkdown, true
	case "docx", "doc":
		return KindWord, true
	}
	return "", false
}

// NeedsConversion reports whether documents of this kind are converted to
// PDF before viewing.
func (k Kind) NeedsConversion() bool {
	return k == KindSlides || k == KindWord
}

// FileEntry describes one indexed document. Entries are created during a
// scan pass and replaced wholesale by the next pass, never mutated.
type FileEntry struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	RelPath string    `json:"path"`
	AbsPath string    `json:"-"`
	Kind    Kind      `json:"doc_type"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mtime"`
}

// Node is a directory or file in the library tree. Directories carry
// children; files wrap the fields of their FileEntry.
type Node struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	IsDir    bool      `json:"is_dir"`
	ID       string    `json:"id,omitempty"`
	Kind     Kind      `json:"doc_type,omitempty"`
	Size     int64     `json:"size,omitempty"`
	ModTime  time.Time `json:"mtime,omitzero"`
	Children []*Node   `json:"children,omitempty"`
}

// Snapshot is one immutable scan result: the tree and the flat id table
// are always derived from the same pass.
type Snapshot struct {
	Root  *Node
	ByID  map[string]FileEntry
	Taken time.Time
}

// IDs returns the set of identifiers present in the snapshot.
func (s *Snapshot) IDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(s.ByID))
	for id := range s.ByID {
		ids[id] = struct{}{}
	}
	return ids
}

// CountNodes counts all nodes in a tree.
func CountNodes(root *Node) int {
	if root == nil {
		return 0
	}
	count := 1
	for _, child := range root.Children {
		count += CountNodes(child)
	}
	return count
}
