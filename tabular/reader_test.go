package tabular_test

import (
	"io"
	"reflect"
	"testing"

	"github.com/libsurvey/plsk"
	"github.com/libsurvey/plsk/tabular"
)

func drain(t *testing.T, r *tabular.Reader) []plsk.RawRecord {
	t.Helper()
	var recs []plsk.RawRecord
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return recs
		}
		if err != nil {
			t.Fatalf("reading: %v", err)
		}
		recs = append(recs, rec)
	}
}

func TestReaderBasic(t *testing.T) {
	r, err := tabular.NewReader([]byte("FSCSKEY,LIBNAME\nAK0001,ANCHORAGE\nAK0002,FAIRBANKS\n"))
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	if !reflect.DeepEqual(r.Header(), []string{"FSCSKEY", "LIBNAME"}) {
		t.Fatalf("wrong header: %v", r.Header())
	}
	recs := drain(t, r)
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].Values["FSCSKEY"] != "AK0001" || recs[1].Values["LIBNAME"] != "FAIRBANKS" {
		t.Fatalf("wrong values: %v", recs)
	}
	if recs[0].Row != 0 || recs[1].Row != 1 {
		t.Fatalf("wrong row indexes: %d, %d", recs[0].Row, recs[1].Row)
	}
}

func TestReaderQuotedCommas(t *testing.T) {
	r, err := tabular.NewReader([]byte("FSCSKEY,ADDRESS\nAK0001,\"3600 DENALI ST, SUITE 100\"\n"))
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	recs := drain(t, r)
	if got := recs[0].Values["ADDRESS"]; got != "3600 DENALI ST, SUITE 100" {
		t.Fatalf("quoted comma mangled: %q", got)
	}
}

func TestReaderRaggedRows(t *testing.T) {
	r, err := tabular.NewReader([]byte("A,B,C\n1,2\n"))
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	recs := drain(t, r)
	if recs[0].Values["C"] != "" {
		t.Fatalf("short row should read missing cells as blank, got %q", recs[0].Values["C"])
	}
}

func TestReaderBOMAndWhitespaceHeader(t *testing.T) {
	r, err := tabular.NewReader([]byte("\ufeffFSCSKEY, LIBNAME \nAK0001,X\n"))
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	if !reflect.DeepEqual(r.Header(), []string{"FSCSKEY", "LIBNAME"}) {
		t.Fatalf("header not cleaned: %#v", r.Header())
	}
}

func TestReaderEmptyTable(t *testing.T) {
	if _, err := tabular.NewReader(nil); err == nil {
		t.Fatalf("expected error for empty table")
	}
}

func TestReaderRowIndexCountsSkippedRows(t *testing.T) {
	// A whitespace-only row is skipped but still occupies a row index, so
	// diagnostics keep pointing at the right line of the file.
	r, err := tabular.NewReader([]byte("A,B\n1,2\n , \n3,4\n"))
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	recs := drain(t, r)
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].Row != 0 || recs[1].Row != 2 {
		t.Fatalf("row indexes must count the skipped row: %d, %d", recs[0].Row, recs[1].Row)
	}
}

func TestReaderRestartable(t *testing.T) {
	data := []byte("A,B\n1,2\n3,4\n\n5,6\n")
	first, err := tabular.NewReader(data)
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	second, err := tabular.NewReader(data)
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	if !reflect.DeepEqual(drain(t, first), drain(t, second)) {
		t.Fatalf("two readers over the same bytes must agree")
	}
}
