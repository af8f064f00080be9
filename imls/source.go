// Package imls implements the plsk.Source for the survey publisher's HTTP
// endpoints, plus the survey's canonical schemas and the CLI entrypoints.
//
// The publisher exposes a JSON index of available editions; each index entry
// names the year, an optional revision tag, a last-modified marker, and the
// URL of each entity table (libraries, outlets, state summary) for that
// year. The tables themselves are CSV.
package imls

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/libsurvey/plsk"
	"github.com/pkg/errors"
)

// Source fetches survey editions from the publisher. Safe for concurrent
// use; every request carries a bounded timeout and transient network
// failures get a single retry.
type Source struct {
	indexURL string
	client   *http.Client
	timeout  time.Duration
	log      plsk.Logger
}

// Option is a functional option to pass to NewSource.
type Option func(*Source)

// WithTimeout sets the per-request timeout for listing and fetch calls.
func WithTimeout(d time.Duration) Option {
	return func(s *Source) { s.timeout = d }
}

// WithHTTPClient replaces the HTTP client (tests use this).
func WithHTTPClient(c *http.Client) Option {
	return func(s *Source) { s.client = c }
}

// WithLogger sets the source's logger.
func WithLogger(l plsk.Logger) Option {
	return func(s *Source) { s.log = l }
}

// NewSource creates a Source reading the edition index at indexURL.
func NewSource(indexURL string, options ...Option) *Source {
	s := &Source{
		indexURL: indexURL,
		client:   http.DefaultClient,
		timeout:  30 * time.Second,
		log:      plsk.NopLogger{},
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// indexEntry is the wire shape of one edition in the publisher's index.
type indexEntry struct {
	Year         int               `json:"year"`
	Revision     string            `json:"revision"`
	LastModified time.Time         `json:"last_modified"`
	Files        map[string]string `json:"files"`
}

// ListEditions retrieves and parses the publisher's index, newest year
// first. The listing is all-or-nothing: a malformed entry fails the whole
// call rather than returning a partial list.
func (s *Source) ListEditions(ctx context.Context) ([]plsk.EditionDescriptor, error) {
	body, err := s.get(ctx, s.indexURL)
	if err != nil {
		return nil, errors.Wrap(err, "listing editions")
	}
	var entries []indexEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, errors.Wrap(err, "decoding edition index")
	}
	eds := make([]plsk.EditionDescriptor, 0, len(entries))
	for _, e := range entries {
		if e.Year == 0 || len(e.Files) == 0 {
			return nil, errors.Errorf("malformed index entry for year %d", e.Year)
		}
		files := make(map[plsk.EntityKind]string, len(e.Files))
		for kind, url := range e.Files {
			files[plsk.EntityKind(kind)] = url
		}
		eds = append(eds, plsk.EditionDescriptor{
			Year:         e.Year,
			Revision:     e.Revision,
			LastModified: e.LastModified,
			Files:        files,
		})
	}
	sort.Slice(eds, func(i, j int) bool { return eds[i].Year > eds[j].Year })
	return eds, nil
}

// Fetch retrieves every table of one edition and checksums the result.
// Failures (including 404 for a withdrawn edition) come back as
// *plsk.FetchError.
func (s *Source) Fetch(ctx context.Context, ed plsk.EditionDescriptor) (*plsk.Payload, error) {
	tables := make(map[plsk.EntityKind][]byte, len(ed.Files))
	for kind, url := range ed.Files {
		data, err := s.get(ctx, url)
		if err != nil {
			return nil, &plsk.FetchError{Edition: ed, Err: errors.Wrapf(err, "table %s", kind)}
		}
		tables[kind] = data
	}
	return &plsk.Payload{
		Edition:  ed,
		Tables:   tables,
		Checksum: plsk.ChecksumTables(tables),
	}, nil
}

// get performs one GET with the configured timeout, retrying once on
// transient failures (network timeouts and 5xx responses). 4xx responses are
// permanent and fail immediately.
func (s *Source) get(ctx context.Context, url string) ([]byte, error) {
	body, err := s.getOnce(ctx, url)
	if err == nil || !transient(err) || ctx.Err() != nil {
		return body, err
	}
	s.log.Debugf("retrying %s after transient error: %v", url, err)
	return s.getOnce(ctx, url)
}

func (s *Source) getOnce(ctx context.Context, url string) ([]byte, error) {
	rctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "building request")
	}
	resp, err := s.client.Do(req.WithContext(rctx))
	if err != nil {
		return nil, errors.Wrapf(err, "getting %s", url)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return nil, &statusError{url: url, code: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("getting %s: status %d", url, resp.StatusCode)
	}
	data, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "reading body of %s", url)
	}
	return data, nil
}

// statusError marks a retryable HTTP response.
type statusError struct {
	url  string
	code int
}

func (e *statusError) Error() string {
	return errors.Errorf("getting %s: status %d", e.url, e.code).Error()
}

// transient reports whether an error is worth one retry.
func transient(err error) bool {
	cause := errors.Cause(err)
	if _, ok := cause.(*statusError); ok {
		return true
	}
	if ne, ok := cause.(net.Error); ok {
		return ne.Timeout() || ne.Temporary()
	}
	return false
}
