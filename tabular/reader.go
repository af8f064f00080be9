// Package tabular reads one raw payload table (CSV with a header row) as a
// stream of plsk.RawRecord. Reading is pure: two readers over the same bytes
// yield identical record sequences, which the pipeline relies on for
// idempotent edition re-runs.
package tabular

import (
	"bytes"
	"encoding/csv"
	"io"
	"strings"

	"github.com/libsurvey/plsk"
	"github.com/pkg/errors"
)

// Reader implements plsk.TableReader over an in-memory CSV table. The survey
// files quote commas inside address and name fields, so rows go through a
// real CSV parser rather than a line split.
type Reader struct {
	header []string
	cr     *csv.Reader
	row    int
}

// NewReader parses the header row and prepares to stream the data rows.
func NewReader(data []byte) (*Reader, error) {
	cr := csv.NewReader(bytes.NewReader(data))
	cr.FieldsPerRecord = -1 // ragged rows happen; short rows read as blanks
	header, err := cr.Read()
	if err == io.EOF {
		return nil, errors.New("empty table: no header row")
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading header row")
	}
	for i, col := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(col, "\ufeff"))
	}
	return &Reader{header: header, cr: cr}, nil
}

// Open adapts NewReader to the plsk.TableOpener signature.
func Open(data []byte) (plsk.TableReader, error) {
	return NewReader(data)
}

// Header returns the source column names.
func (r *Reader) Header() []string {
	return r.header
}

// Next returns the next data row, skipping fully blank lines, or io.EOF.
func (r *Reader) Next() (plsk.RawRecord, error) {
	for {
		row, err := r.cr.Read()
		if err == io.EOF {
			return plsk.RawRecord{}, io.EOF
		}
		if err != nil {
			return plsk.RawRecord{}, errors.Wrapf(err, "reading row %d", r.row)
		}
		// Count every physical row, skipped or not, so Row stays aligned
		// with the file for diagnostics.
		idx := r.row
		r.row++
		blank := true
		for _, v := range row {
			if strings.TrimSpace(v) != "" {
				blank = false
				break
			}
		}
		if blank {
			continue
		}
		rec := plsk.RawRecord{Row: idx, Values: make(map[string]string, len(r.header))}
		for i, col := range r.header {
			if i < len(row) {
				rec.Values[col] = row[i]
			} else {
				rec.Values[col] = ""
			}
		}
		return rec, nil
	}
}
