package imls

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/libsurvey/plsk"
	"github.com/libsurvey/plsk/boltcache"
	"github.com/libsurvey/plsk/kafkanotify"
	"github.com/libsurvey/plsk/keymap"
	s3src "github.com/libsurvey/plsk/s3"
	"github.com/libsurvey/plsk/sqlstore"
	"github.com/libsurvey/plsk/tabular"
	"github.com/libsurvey/plsk/termstat"
	"github.com/pkg/errors"
)

// Config holds the flags shared by the collector commands.
type Config struct {
	IndexURL string `help:"URL of the publisher's edition index."`
	S3Bucket string `help:"Read editions from this S3 mirror bucket instead of the publisher."`
	S3Region string `help:"AWS region of the mirror bucket."`
	S3Prefix string `help:"Key prefix within the mirror bucket."`

	DB     string `help:"Path to the sqlite database file."`
	Keymap string `help:"Directory for the surrogate id keymap."`
	Cache  string `help:"Path to the payload cache file ('' disables caching)."`

	KafkaHosts []string `help:"Kafka brokers to publish run summaries to ('' disables)."`
	KafkaTopic string   `help:"Kafka topic for run summaries."`

	Timeout          time.Duration `help:"Per-request timeout for listing and fetches."`
	FetchConcurrency int           `help:"Concurrent payload fetches during a backfill."`
	MaxRejectRatio   float64       `help:"Abort an edition whose rejected-row share exceeds this (0 disables)."`
	Verbose          bool          `help:"Enable debug logging."`
}

func defaultConfig() Config {
	return Config{
		IndexURL:         "https://www.imls.gov/sites/default/files/pls/index.json",
		S3Region:         "us-east-1",
		DB:               "pls.db",
		Keymap:           "pls-keymap",
		Cache:            "pls-cache.db",
		KafkaTopic:       "pls-runs",
		Timeout:          30 * time.Second,
		FetchConcurrency: 1,
		MaxRejectRatio:   0.5,
	}
}

func (c Config) logger(stderr io.Writer) plsk.Logger {
	l := log.New(stderr, "plsk ", log.LstdFlags)
	if c.Verbose {
		return plsk.VerboseLogger{Logger: l}
	}
	return plsk.StdLogger{Logger: l}
}

func (c Config) source(lg plsk.Logger) (plsk.Source, error) {
	if c.S3Bucket != "" {
		return s3src.NewSource(c.S3Region, c.S3Bucket, s3src.OptSrcPrefix(c.S3Prefix))
	}
	return NewSource(c.IndexURL, WithTimeout(c.Timeout), WithLogger(lg)), nil
}

// collector assembles the full pipeline from the config. The returned
// cleanup closes everything that opened.
func (c Config) collector(stderr io.Writer) (*plsk.Collector, func(), error) {
	lg := c.logger(stderr)
	src, err := c.source(lg)
	if err != nil {
		return nil, nil, errors.Wrap(err, "getting source")
	}

	var closers []func() error
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				lg.Printf("closing: %v", err)
			}
		}
	}

	km, err := keymap.Open(c.Keymap)
	if err != nil {
		return nil, nil, errors.Wrap(err, "opening keymap")
	}
	closers = append(closers, km.Close)

	store, err := sqlstore.Open(c.DB, km)
	if err != nil {
		cleanup()
		return nil, nil, errors.Wrap(err, "opening store")
	}
	closers = append(closers, store.Close)

	opts := []plsk.CollectorOption{
		plsk.OptLogger(lg),
		plsk.OptStats(termstat.NewCollector(stderr)),
		plsk.OptMaxRejectRatio(c.MaxRejectRatio),
		plsk.OptFetchConcurrency(c.FetchConcurrency),
		plsk.OptClamps(plsk.KindLibrary, LibraryClamps()),
		plsk.OptClamps(plsk.KindOutlet, OutletClamps()),
	}
	if c.Cache != "" {
		pc, err := boltcache.Open(c.Cache)
		if err != nil {
			cleanup()
			return nil, nil, errors.Wrap(err, "opening payload cache")
		}
		closers = append(closers, pc.Close)
		opts = append(opts, plsk.OptCache(pc))
	}
	if len(c.KafkaHosts) > 0 {
		kn, err := kafkanotify.New(c.KafkaHosts, c.KafkaTopic)
		if err != nil {
			cleanup()
			return nil, nil, errors.Wrap(err, "connecting kafka notifier")
		}
		closers = append(closers, kn.Close)
		opts = append(opts, plsk.OptNotifier(kn))
	}

	col := plsk.NewCollector(src, store, Schemas(), tabular.Open, opts...)
	return col, cleanup, nil
}

// runContext is cancelled on SIGINT so a backfill stops at the next edition
// boundary rather than mid-transaction.
func runContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

// DiscoverMain holds the config for the discover command.
type DiscoverMain struct {
	Config
	stdout io.Writer
	stderr io.Writer
}

// NewDiscoverMain gets a new DiscoverMain with default values.
func NewDiscoverMain() *DiscoverMain {
	return &DiscoverMain{Config: defaultConfig(), stdout: os.Stdout, stderr: os.Stderr}
}

// Run lists the editions the publisher currently offers.
func (m *DiscoverMain) Run() error {
	ctx, cancel := runContext()
	defer cancel()
	lg := m.logger(m.stderr)
	src, err := m.source(lg)
	if err != nil {
		return errors.Wrap(err, "getting source")
	}
	eds, err := src.ListEditions(ctx)
	if err != nil {
		return errors.Wrap(plsk.ErrSourceUnavailable, err.Error())
	}
	for _, ed := range eds {
		fmt.Fprintf(m.stdout, "%s\tlast modified %s\ttables %d\n", ed.Ref(), ed.LastModified.Format("2006-01-02"), len(ed.Files))
	}
	return nil
}

// UpdateMain holds the config for the update command.
type UpdateMain struct {
	Config
	stdout io.Writer
	stderr io.Writer
}

// NewUpdateMain gets a new UpdateMain with default values.
func NewUpdateMain() *UpdateMain {
	return &UpdateMain{Config: defaultConfig(), stdout: os.Stdout, stderr: os.Stderr}
}

// Run loads the newest edition not already loaded (a no-op when unchanged).
func (m *UpdateMain) Run() error {
	ctx, cancel := runContext()
	defer cancel()
	col, cleanup, err := m.collector(m.stderr)
	if err != nil {
		return err
	}
	defer cleanup()
	sum, err := col.UpdateWithLatestData(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(m.stdout, sum)
	return nil
}

// BackfillMain holds the config for the backfill command.
type BackfillMain struct {
	Config
	stdout io.Writer
	stderr io.Writer
}

// NewBackfillMain gets a new BackfillMain with default values.
func NewBackfillMain() *BackfillMain {
	return &BackfillMain{Config: defaultConfig(), stdout: os.Stdout, stderr: os.Stderr}
}

// Run loads every discovered edition, isolating failures per edition.
func (m *BackfillMain) Run() error {
	ctx, cancel := runContext()
	defer cancel()
	col, cleanup, err := m.collector(m.stderr)
	if err != nil {
		return err
	}
	defer cleanup()
	sum, err := col.UpdateAll(ctx)
	if sum != nil {
		fmt.Fprintln(m.stdout, sum)
	}
	return err
}
