// Package export encodes lead lists for download.
package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"leadmachine/pkg/domain"
)

// Format is a download format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

var csvHeader = []string{"Company Name", "Contact Person", "Role", "Website", "Email", "Phone", "Industry", "Fit Reason"}

// ParseFormat maps a query value to a Format. Empty means JSON.
func ParseFormat(raw string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "json":
		return FormatJSON, nil
	case "csv":
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", raw)
	}
}

// ContentType returns the MIME type for f.
func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv; charset=utf-8"
	}
	return "application/json"
}

// Options tune the CSV layout.
type Options struct {
	// IncludeScore appends a Score column; leads without a score get an empty cell.
	IncludeScore bool
}

// WriteCSV writes leads with every field double-quoted and inner quotes
// doubled. Rows are separated by "\n".
func WriteCSV(w io.Writer, leads []domain.Lead, opts Options) error {
	header := csvHeader
	if opts.IncludeScore {
		header = append(append([]string{}, csvHeader...), "Score")
	}
	var buf bytes.Buffer
	writeRow(&buf, header)
	for _, l := range leads {
		row := []string{l.CompanyName, l.ContactPerson, l.Role, l.Website, l.Email, l.Phone, l.Industry, l.FitReason}
		if opts.IncludeScore {
			score := ""
			if l.Score != nil {
				score = strconv.Itoa(*l.Score)
			}
			row = append(row, score)
		}
		writeRow(&buf, row)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func writeRow(buf *bytes.Buffer, fields []string) {
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('"')
		buf.WriteString(strings.ReplaceAll(f, `"`, `""`))
		buf.WriteByte('"')
	}
	buf.WriteByte('\n')
}

// WriteJSON writes leads as a pretty-printed JSON array.
func WriteJSON(w io.Writer, leads []domain.Lead) error {
	if leads == nil {
		leads = []domain.Lead{}
	}
	raw, err := json.MarshalIndent(leads, "", "  ")
	if err != nil {
		return fmt.Errorf("encode leads: %w", err)
	}
	raw = append(raw, '\n')
	_, err = w.Write(raw)
	return err
}

// Write dispatches on f.
func Write(w io.Writer, f Format, leads []domain.Lead, opts Options) error {
	if f == FormatCSV {
		return WriteCSV(w, leads, opts)
	}
	return WriteJSON(w, leads)
}

// FileName builds a download file name from an export name.
func FileName(name string, f Format) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	base := strings.Trim(b.String(), "-.")
	if base == "" {
		base = "leads"
	}
	return base + "." + string(f)
}
