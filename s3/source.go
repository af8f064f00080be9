// Package s3 implements a plsk.Source over a mirror bucket holding the
// survey files. Object keys follow fy<year>[<revision>]/<kind>.csv, e.g.
// fy2021/library.csv or fy2020r2/outlet.csv. Useful when the publisher's
// site is slow or a team keeps a vetted copy of the files.
package s3

import (
	"context"
	"fmt"
	"io/ioutil"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/libsurvey/plsk"
	"github.com/pkg/errors"
)

// Source is a plsk.Source reading edition files from one bucket.
type Source struct {
	bucket string
	prefix string
	s3     *s3.S3
}

// SrcOption is a functional option type for s3.Source.
type SrcOption func(s *Source)

// OptSrcPrefix restricts listing to keys under the prefix.
func OptSrcPrefix(prefix string) SrcOption {
	return func(s *Source) { s.prefix = prefix }
}

// NewSource connects to the mirror bucket in the given region.
func NewSource(region, bucket string, opts ...SrcOption) (*Source, error) {
	src := &Source{bucket: bucket}
	for _, opt := range opts {
		opt(src)
	}
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, errors.Wrap(err, "getting aws session")
	}
	src.s3 = s3.New(sess)
	return src, nil
}

var keyPattern = regexp.MustCompile(`^fy(\d{4})(r\d+)?/([a-z_]+)\.csv$`)

// ListEditions lists the bucket and groups object keys into editions,
// newest year first. The publisher marker for an edition is the most recent
// object modification time among its files.
func (s *Source) ListEditions(ctx context.Context) ([]plsk.EditionDescriptor, error) {
	resp, err := s.s3.ListObjectsWithContext(ctx, &s3.ListObjectsInput{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})
	if err != nil {
		return nil, errors.Wrap(err, "listing objects")
	}
	byRef := make(map[string]*plsk.EditionDescriptor)
	for _, obj := range resp.Contents {
		key := strings.TrimPrefix(*obj.Key, s.prefix)
		m := keyPattern.FindStringSubmatch(key)
		if m == nil {
			continue
		}
		year, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		ref := m[1] + m[2]
		ed, ok := byRef[ref]
		if !ok {
			ed = &plsk.EditionDescriptor{
				Year:     year,
				Revision: m[2],
				Files:    make(map[plsk.EntityKind]string),
			}
			byRef[ref] = ed
		}
		ed.Files[plsk.EntityKind(m[3])] = *obj.Key
		if obj.LastModified != nil && obj.LastModified.After(ed.LastModified) {
			ed.LastModified = *obj.LastModified
		}
	}
	eds := make([]plsk.EditionDescriptor, 0, len(byRef))
	for _, ed := range byRef {
		eds = append(eds, *ed)
	}
	sort.Slice(eds, func(i, j int) bool {
		if eds[i].Year != eds[j].Year {
			return eds[i].Year > eds[j].Year
		}
		return eds[i].Revision > eds[j].Revision
	})
	return eds, nil
}

// Fetch downloads every table of one edition.
func (s *Source) Fetch(ctx context.Context, ed plsk.EditionDescriptor) (*plsk.Payload, error) {
	tables := make(map[plsk.EntityKind][]byte, len(ed.Files))
	for kind, key := range ed.Files {
		result, err := s.s3.GetObjectWithContext(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return nil, &plsk.FetchError{Edition: ed, Err: errors.Wrapf(err, "fetching %v", key)}
		}
		data, err := ioutil.ReadAll(result.Body)
		result.Body.Close()
		if err != nil {
			return nil, &plsk.FetchError{Edition: ed, Err: errors.Wrapf(err, "reading %v", key)}
		}
		tables[kind] = data
	}
	return &plsk.Payload{
		Edition:  ed,
		Tables:   tables,
		Checksum: plsk.ChecksumTables(tables),
	}, nil
}

// String names the source for logs.
func (s *Source) String() string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, s.prefix)
}
