package frontend

import (
	"strings"

	"github.com/jacktea/blobfront/pkg/meta"
)

// SubResourceBlobInfo is the sub-path that fetches blob metadata with GET.
const SubResourceBlobInfo = "BlobInfo"

// Target is the operand of a request path.
type Target struct {
	// Operand is everything after the leading slash, undecoded.
	Operand string
	// ID is the blob the request addresses.
	ID meta.BlobID
	// SubResource is set for "<id>/BlobInfo".
	SubResource string
}

// ParseTarget interprets path as "/" or "/<operand>".
func ParseTarget(path string) Target {
	operand := strings.TrimPrefix(path, "/")
	t := Target{Operand: operand, ID: meta.BlobID(operand)}
	if id, sub, ok := strings.Cut(operand, "/"); ok && sub == SubResourceBlobInfo {
		t.ID = meta.BlobID(id)
		t.SubResource = sub
	}
	return t
}

// IsControl reports whether the target is the frontend itself rather than a
// blob: the root or the frontend's name.
func (t Target) IsControl(name string) bool {
	return t.Operand == "" || t.Operand == name
}
