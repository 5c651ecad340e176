// Package tags builds and serializes the tags file: one line per function,
// deduplicated and sorted so editors can binary-search it.
package tags

import (
	"bufio"
	"bytes"
	"cmp"
	"io"
	"slices"
	"strconv"
	"strings"
)

const (
	// UnknownFile is written in place of a path that could not be resolved.
	UnknownFile = "??"
	// KindFunction is the kind field of every record.
	KindFunction = "f"
	// DefaultFile is the conventional tags file name.
	DefaultFile = "tags"
)

// Record is one output line.
type Record struct {
	Name string
	Path string
	Line uint64
}

// Compare orders records by name, then path, then line, comparing bytes.
func Compare(a, b Record) int {
	if c := strings.Compare(a.Name, b.Name); c != 0 {
		return c
	}
	if c := strings.Compare(a.Path, b.Path); c != 0 {
		return c
	}
	return cmp.Compare(a.Line, b.Line)
}

// Set accumulates records and drops duplicates by (name, path, line).
// The zero value is ready to use.
type Set struct {
	seen map[Record]struct{}
}

// Add inserts r and reports whether it was new. Tabs and line breaks in the
// name and path are replaced first, so records that would print identically
// are duplicates.
func (s *Set) Add(r Record) bool {
	r.Name, r.Path = sanitize(r.Name), sanitize(r.Path)
	if s.seen == nil {
		s.seen = make(map[Record]struct{})
	}
	if _, dup := s.seen[r]; dup {
		return false
	}
	s.seen[r] = struct{}{}
	return true
}

// Len returns the number of distinct records.
func (s *Set) Len() int {
	return len(s.seen)
}

// Records returns the distinct records in output order.
func (s *Set) Records() []Record {
	out := make([]Record, 0, len(s.seen))
	for r := range s.seen {
		out = append(out, r)
	}
	slices.SortFunc(out, Compare)
	return out
}

// Build deduplicates and sorts records.
func Build(records []Record) []Record {
	var s Set
	for _, r := range records {
		s.Add(r)
	}
	return s.Records()
}

// WriteOptions controls serialization.
type WriteOptions struct {
	// Header emits the !_TAG_ pseudo-tags before the records.
	Header bool
	// Program is the name reported in the !_TAG_PROGRAM_NAME pseudo-tag.
	Program string
	// Version is reported in !_TAG_PROGRAM_VERSION when non-empty.
	Version string
}

// Write serializes sorted records, one per line:
//
//	<name>\t<path>\t<line>;"\tf
func Write(w io.Writer, records []Record, opts WriteOptions) error {
	bw := bufio.NewWriter(w)

	if opts.Header {
		bw.WriteString("!_TAG_FILE_FORMAT\t2\t/extended format; --format=1 will not append ;\" to lines/\n")
		bw.WriteString("!_TAG_FILE_SORTED\t1\t/0=unsorted, 1=sorted, 2=foldcase/\n")
		if opts.Program != "" {
			bw.WriteString("!_TAG_PROGRAM_NAME\t" + opts.Program + "\t//\n")
		}
		if opts.Version != "" {
			bw.WriteString("!_TAG_PROGRAM_VERSION\t" + opts.Version + "\t//\n")
		}
	}

	for _, r := range records {
		bw.WriteString(sanitize(r.Name))
		bw.WriteByte('\t')
		bw.WriteString(sanitize(r.Path))
		bw.WriteByte('\t')
		bw.WriteString(strconv.FormatUint(r.Line, 10))
		bw.WriteString(";\"\t")
		bw.WriteString(KindFunction)
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// Marshal returns the serialized form of records.
func Marshal(records []Record, opts WriteOptions) []byte {
	var buf bytes.Buffer
	_ = Write(&buf, records, opts)
	return buf.Bytes()
}

// sanitize replaces characters that would break the line-oriented format.
func sanitize(s string) string {
	if !strings.ContainsAny(s, "\t\r\n") {
		return s
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '\t', '\r', '\n':
			return ' '
		}
		return r
	}, s)
}
