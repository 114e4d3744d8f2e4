package frontend

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jacktea/blobfront/pkg/router"
	"github.com/jacktea/blobfront/pkg/xerrors"
)

// byteRangeSpec is a parsed "bytes=" range whose bounds may depend on the
// blob size. A suffix spec selects the last suffix bytes; openEnd runs to
// the end of the blob.
type byteRangeSpec struct {
	start   int64
	end     int64
	suffix  int64
	openEnd bool
}

func rangeError(header string, cause error) error {
	return xerrors.Wrap(xerrors.KindRangeNotSatisfiable, "HandleGet", header, cause)
}

// parseRangeSpec parses a single-range Range header value.
func parseRangeSpec(header string) (*byteRangeSpec, error) {
	if !strings.HasPrefix(header, "bytes=") {
		return nil, rangeError(header, fmt.Errorf("unsupported range unit"))
	}
	spec := strings.TrimSpace(strings.TrimPrefix(header, "bytes="))
	if spec == "" || strings.Contains(spec, ",") {
		return nil, rangeError(header, fmt.Errorf("invalid range"))
	}
	if strings.HasPrefix(spec, "-") {
		n, err := strconv.ParseInt(strings.TrimPrefix(spec, "-"), 10, 64)
		if err != nil || n <= 0 {
			return nil, rangeError(header, fmt.Errorf("invalid suffix range"))
		}
		return &byteRangeSpec{suffix: n}, nil
	}
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return nil, rangeError(header, fmt.Errorf("invalid range spec"))
	}
	start, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil || start < 0 {
		return nil, rangeError(header, fmt.Errorf("invalid range start"))
	}
	out := &byteRangeSpec{start: start}
	if strings.TrimSpace(parts[1]) == "" {
		out.openEnd = true
		return out, nil
	}
	out.end, err = strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil || out.end < 0 {
		return nil, rangeError(header, fmt.Errorf("invalid range end"))
	}
	if start > out.end {
		return nil, rangeError(header, fmt.Errorf("start greater than end"))
	}
	return out, nil
}

// resolve clamps the spec to a blob of the given size.
func (s *byteRangeSpec) resolve(size int64) (*router.ByteRange, error) {
	if size <= 0 {
		return nil, xerrors.Wrap(xerrors.KindRangeNotSatisfiable, "HandleGet", "", fmt.Errorf("resource empty"))
	}
	if s.suffix > 0 {
		n := min(s.suffix, size)
		return &router.ByteRange{Start: size - n, End: size - 1}, nil
	}
	if s.start >= size {
		return nil, xerrors.Wrap(xerrors.KindRangeNotSatisfiable, "HandleGet", "", fmt.Errorf("start beyond size"))
	}
	end := s.end
	if s.openEnd || end >= size {
		end = size - 1
	}
	return &router.ByteRange{Start: s.start, End: end}, nil
}

func contentRange(r *router.ByteRange, size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, size)
}
