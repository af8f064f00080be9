package imls_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/libsurvey/plsk"
	"github.com/libsurvey/plsk/imls"
)

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/index.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `[
			{"year": 2020, "last_modified": "2021-07-01T00:00:00Z",
			 "files": {"library": %q}},
			{"year": 2021, "revision": "r2", "last_modified": "2022-08-01T00:00:00Z",
			 "files": {"library": %q, "outlet": %q}}
		]`, srvURL(r)+"/fy2020/library.csv", srvURL(r)+"/fy2021/library.csv", srvURL(r)+"/fy2021/outlet.csv")
	})
	mux.HandleFunc("/fy2020/library.csv", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "LIBID,LIBNAME\nAK0001,ANCHORAGE\n")
	})
	mux.HandleFunc("/fy2021/library.csv", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "FSCSKEY,LIBNAME\nAK0001,ANCHORAGE\n")
	})
	mux.HandleFunc("/fy2021/outlet.csv", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "FSCSKEY,FSCS_SEQ,LIBNAME\nAK0001,002,LOUSSAC\n")
	})
	return httptest.NewServer(mux)
}

// srvURL rebuilds the test server's base URL from the incoming request.
func srvURL(r *http.Request) string {
	return "http://" + r.Host
}

func TestListEditionsNewestFirst(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()
	src := imls.NewSource(srv.URL + "/index.json")
	eds, err := src.ListEditions(context.Background())
	if err != nil {
		t.Fatalf("listing: %v", err)
	}
	if len(eds) != 2 {
		t.Fatalf("expected 2 editions, got %d", len(eds))
	}
	if eds[0].Year != 2021 || eds[1].Year != 2020 {
		t.Fatalf("wrong order: %d, %d", eds[0].Year, eds[1].Year)
	}
	if eds[0].Revision != "r2" {
		t.Fatalf("revision lost: %q", eds[0].Revision)
	}
	if len(eds[0].Files) != 2 {
		t.Fatalf("files lost: %v", eds[0].Files)
	}
}

func TestListEditionsUnavailable(t *testing.T) {
	src := imls.NewSource("http://127.0.0.1:1/index.json", imls.WithTimeout(time.Second))
	if _, err := src.ListEditions(context.Background()); err == nil {
		t.Fatalf("expected listing failure")
	}
}

func TestListEditionsAllOrNothing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// One good entry, one malformed (no files).
		fmt.Fprint(w, `[{"year": 2021, "files": {"library": "x"}}, {"year": 2020, "files": {}}]`)
	}))
	defer srv.Close()
	src := imls.NewSource(srv.URL)
	if _, err := src.ListEditions(context.Background()); err == nil {
		t.Fatalf("a malformed entry must fail the whole listing")
	}
}

func TestFetchChecksumStable(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()
	src := imls.NewSource(srv.URL + "/index.json")
	eds, err := src.ListEditions(context.Background())
	if err != nil {
		t.Fatalf("listing: %v", err)
	}
	p1, err := src.Fetch(context.Background(), eds[0])
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	p2, err := src.Fetch(context.Background(), eds[0])
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if p1.Checksum == "" || p1.Checksum != p2.Checksum {
		t.Fatalf("unchanged edition must checksum identically: %q vs %q", p1.Checksum, p2.Checksum)
	}
	if string(p1.Tables[plsk.KindOutlet]) != string(p2.Tables[plsk.KindOutlet]) {
		t.Fatalf("tables differ between fetches")
	}
}

func TestFetchWithdrawnEdition(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()
	src := imls.NewSource(srv.URL + "/index.json")
	ed := plsk.EditionDescriptor{
		Year:  1999,
		Files: map[plsk.EntityKind]string{plsk.KindLibrary: srv.URL + "/fy1999/library.csv"},
	}
	_, err := src.Fetch(context.Background(), ed)
	if err == nil {
		t.Fatalf("expected fetch failure for withdrawn edition")
	}
	ferr, ok := err.(*plsk.FetchError)
	if !ok {
		t.Fatalf("expected *plsk.FetchError, got %T", err)
	}
	if ferr.Edition.Year != 1999 {
		t.Fatalf("error must name the edition: %+v", ferr)
	}
}

func TestFetchRetriesTransient(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, "FSCSKEY,LIBNAME\nAK0001,ANCHORAGE\n")
	}))
	defer srv.Close()
	src := imls.NewSource(srv.URL + "/index.json")
	ed := plsk.EditionDescriptor{
		Year:  2021,
		Files: map[plsk.EntityKind]string{plsk.KindLibrary: srv.URL + "/file.csv"},
	}
	p, err := src.Fetch(context.Background(), ed)
	if err != nil {
		t.Fatalf("transient failure should be retried once: %v", err)
	}
	if atomic.LoadInt64(&calls) != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", calls)
	}
	if len(p.Tables[plsk.KindLibrary]) == 0 {
		t.Fatalf("payload missing after retry")
	}
}

func TestFetchDoesNotRetryPermanent(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()
	src := imls.NewSource(srv.URL + "/index.json")
	ed := plsk.EditionDescriptor{
		Year:  2021,
		Files: map[plsk.EntityKind]string{plsk.KindLibrary: srv.URL + "/file.csv"},
	}
	_, err := src.Fetch(context.Background(), ed)
	if err == nil {
		t.Fatalf("404 must fail")
	}
	if _, ok := err.(*plsk.FetchError); !ok {
		t.Fatalf("expected *plsk.FetchError, got %T", err)
	}
	if atomic.LoadInt64(&calls) != 1 {
		t.Fatalf("permanent failure must not retry, got %d attempts", calls)
	}
}
