package backup

import (
	"archive/tar"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"github.com/BadgerOps/rollcall/internal/row"
)

// Supported tabular compressions.
const (
	CompressionZstd = "zstd"
	CompressionXZ   = "xz"
)

// utf8BOM lets spreadsheet tools detect UTF-8 so non-Latin names survive.
const utf8BOM = "\ufeff"

// nameLayout embeds the creation instant at second resolution.
const nameLayout = "20060102-150405"

// Packager serializes snapshots into artifacts.
type Packager struct {
	compression string
}

// NewPackager creates a packager; compression applies to tabular artifacts.
func NewPackager(compression string) (*Packager, error) {
	switch compression {
	case "", CompressionZstd:
		return &Packager{compression: CompressionZstd}, nil
	case CompressionXZ:
		return &Packager{compression: CompressionXZ}, nil
	}
	return nil, fmt.Errorf("unsupported compression %q: must be zstd or xz", compression)
}

// Extension returns the file extension for artifacts of the given format.
func (p *Packager) Extension(format Format) string {
	if format == Structured {
		return ".json"
	}
	if p.compression == CompressionXZ {
		return ".tar.xz"
	}
	return ".tar.zst"
}

// ArtifactName builds prefix + creation instant + extension.
func (p *Packager) ArtifactName(prefix string, format Format, at time.Time) string {
	return prefix + at.UTC().Format(nameLayout) + p.Extension(format)
}

// Pack serializes the successful tables of a snapshot. Failed tables are
// left out and listed in Artifact.Dropped. It returns ErrNothingToPackage
// when no table succeeded.
func (p *Packager) Pack(result *SnapshotResult, format Format, prefix string, at time.Time) (*Artifact, error) {
	ok := result.Succeeded()
	if len(ok) == 0 {
		return nil, ErrNothingToPackage
	}

	var (
		data []byte
		err  error
	)
	switch format {
	case Structured:
		data, err = encodeStructured(ok)
	case Tabular:
		data, err = p.encodeTabular(ok, at)
	default:
		return nil, invalid("format", "unknown format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to package %s artifact: %w", format, err)
	}

	names := make([]string, len(ok))
	for i, t := range ok {
		names[i] = t.Table
	}
	return &Artifact{
		Format:    format,
		Name:      p.ArtifactName(prefix, format, at),
		Data:      data,
		SizeBytes: int64(len(data)),
		CreatedAt: at.UTC(),
		Tables:    names,
		Dropped:   result.Failures(),
	}, nil
}

// encodeStructured writes one JSON object keyed by table name, in snapshot
// order, each value an array of row objects.
func encodeStructured(snaps []TableSnapshot) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("{\n")
	for i, t := range snaps {
		key, err := json.Marshal(t.Table)
		if err != nil {
			return nil, err
		}
		rows := t.Rows
		if rows == nil {
			rows = []row.Row{}
		}
		val, err := json.MarshalIndent(rows, "  ", "  ")
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", t.Table, err)
		}
		buf.WriteString("  ")
		buf.Write(key)
		buf.WriteString(": ")
		buf.Write(val)
		if i < len(snaps)-1 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
	buf.WriteString("}\n")
	return buf.Bytes(), nil
}

// DecodeStructured parses a structured artifact into tables in document
// order.
func DecodeStructured(data []byte) ([]TableSnapshot, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("document must be an object keyed by table name")
	}

	var out []TableSnapshot
	seen := make(map[string]bool)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("failed to read table name: %w", err)
		}
		name, _ := tok.(string)
		if seen[name] {
			return nil, fmt.Errorf("table %q appears twice", name)
		}
		seen[name] = true

		rows, err := decodeTableRows(dec)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", name, err)
		}
		out = append(out, TableSnapshot{Table: name, Rows: rows})
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("failed to read document end: %w", err)
	}
	return out, nil
}

// decodeTableRows reads one table's value, which must be an array of row
// objects. null and any other non-array value are rejected.
func decodeTableRows(dec *json.Decoder) ([]row.Row, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return nil, fmt.Errorf("value must be an array of row objects, got %s", describeToken(tok))
	}
	rows := []row.Row{}
	for dec.More() {
		var r row.Row
		if err := dec.Decode(&r); err != nil {
			return nil, fmt.Errorf("row %d: %w", len(rows), err)
		}
		rows = append(rows, r)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return rows, nil
}

func describeToken(tok json.Token) string {
	switch v := tok.(type) {
	case nil:
		return "null"
	case json.Delim:
		if v == '{' {
			return "an object"
		}
		return string(v)
	case string:
		return "a string"
	case bool:
		return "a boolean"
	default:
		return "a number"
	}
}

func (p *Packager) encodeTabular(snaps []TableSnapshot, at time.Time) ([]byte, error) {
	var buf bytes.Buffer
	var cw io.WriteCloser
	switch p.compression {
	case CompressionXZ:
		w, err := xz.NewWriter(&buf)
		if err != nil {
			return nil, fmt.Errorf("creating xz writer: %w", err)
		}
		cw = w
	default:
		w, err := zstd.NewWriter(&buf)
		if err != nil {
			return nil, fmt.Errorf("creating zstd writer: %w", err)
		}
		cw = w
	}

	tw := tar.NewWriter(cw)
	for _, t := range snaps {
		body, err := encodeCSV(t.Rows, t.Columns)
		if err != nil {
			_ = cw.Close()
			return nil, fmt.Errorf("table %s: %w", t.Table, err)
		}
		header := &tar.Header{
			Name:     t.Table + ".csv",
			Mode:     0o644,
			Size:     int64(len(body)),
			ModTime:  at.UTC(),
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(header); err != nil {
			_ = cw.Close()
			return nil, fmt.Errorf("writing tar header for %s: %w", t.Table, err)
		}
		if _, err := tw.Write(body); err != nil {
			_ = cw.Close()
			return nil, fmt.Errorf("writing %s to tar: %w", t.Table, err)
		}
	}
	if err := tw.Close(); err != nil {
		_ = cw.Close()
		return nil, fmt.Errorf("closing tar writer: %w", err)
	}
	if err := cw.Close(); err != nil {
		return nil, fmt.Errorf("closing %s writer: %w", p.compression, err)
	}
	return buf.Bytes(), nil
}

// encodeCSV renders rows with a header built from the union of field
// names in first-seen order. Missing fields render empty. With no rows the
// header falls back to columns.
func encodeCSV(rows []row.Row, columns []string) ([]byte, error) {
	var header []string
	index := make(map[string]int)
	for _, r := range rows {
		for _, name := range r.Names() {
			if _, ok := index[name]; !ok {
				index[name] = len(header)
				header = append(header, name)
			}
		}
	}
	if len(header) == 0 {
		header = columns
	}

	var buf bytes.Buffer
	buf.WriteString(utf8BOM)
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	record := make([]string, len(header))
	for _, r := range rows {
		clear(record)
		for _, f := range r.Fields {
			record[index[f.Name]] = f.Value.Text()
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var (
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	xzMagic   = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
)

// IsTabular reports whether data starts with a tabular archive's
// compression magic.
func IsTabular(data []byte) bool {
	return bytes.HasPrefix(data, zstdMagic) || bytes.HasPrefix(data, xzMagic)
}

// ReadTabular lists the files inside a tabular artifact and their contents.
func ReadTabular(data []byte) (map[string][]byte, error) {
	var r io.Reader
	switch {
	case bytes.HasPrefix(data, zstdMagic):
		zr, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("creating zstd reader: %w", err)
		}
		defer zr.Close()
		r = zr
	case bytes.HasPrefix(data, xzMagic):
		xr, err := xz.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("creating xz reader: %w", err)
		}
		r = xr
	default:
		return nil, fmt.Errorf("not a tabular artifact")
	}

	files := make(map[string][]byte)
	tr := tar.NewReader(r)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading tar entry: %w", err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		body, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", header.Name, err)
		}
		files[header.Name] = body
	}
	return files, nil
}
