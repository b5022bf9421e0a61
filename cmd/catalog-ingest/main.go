// Command catalog-ingest imports gzip JSON-lines supplier feeds into the
// catalog. A book is imported when at least --min-sources feeds list its ISBN;
// the record from the last listed feed wins.
package main

import (
	"bufio"
	"context"
	"flag"
	"math/bits"
	"os"
	"os/signal"
	"path/filepath"
	"slices"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/bookshop-orders/internal/catalogfeed"
	"github.com/xenking/bookshop-orders/internal/domain/catalog"
	"github.com/xenking/bookshop-orders/internal/storage/postgres"
)

const (
	bloomFPR      = 0.001
	progressEvery = 1_000_000
	writeChunk    = 500
	maxLineBytes  = 1 << 20
)

type options struct {
	minSources    int
	bloomCapacity uint
}

// candidate is a book found in one feed, with a bit per feed that lists it.
type candidate struct {
	mask uint
	file int
	book catalog.Book
}

func main() {
	var (
		dataDir     string
		pattern     string
		databaseURL string
		opts        options
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing feed files")
	flag.StringVar(&pattern, "pattern", "*.jsonl.gz", "feed file glob inside data-dir")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&opts.minSources, "min-sources", 1, "feeds that must list an ISBN before it is imported")
	flag.UintVar(&opts.bloomCapacity, "bloom-capacity", 10_000_000, "expected ISBNs per feed")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, filepath.Join(dataDir, pattern), databaseURL, opts); err != nil {
		lg.Fatal("Catalog ingest failed", zap.Error(err))
	}
	lg.Info("Catalog ingest completed")
}

func run(ctx context.Context, lg *zap.Logger, glob, databaseURL string, opts options) error {
	files, err := filepath.Glob(glob)
	if err != nil {
		return errors.Wrap(err, "glob feeds")
	}
	slices.Sort(files)
	if len(files) == 0 {
		return errors.Errorf("no feeds match %s", glob)
	}
	if opts.minSources < 1 || opts.minSources > len(files) {
		return errors.Errorf("min-sources must be between 1 and %d", len(files))
	}
	if len(files) > bits.UintSize {
		return errors.Errorf("at most %d feeds per run", bits.UintSize)
	}

	books, err := collectBooks(ctx, lg, files, opts)
	if err != nil {
		return err
	}
	lg.Info("Books selected", zap.Int("count", len(books)))
	if len(books) == 0 {
		return nil
	}

	lg.Info("Connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL, 4)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}
	return writeBooks(ctx, lg, postgres.NewBookRepository(pool), books)
}

// collectBooks returns the books listed by at least opts.minSources feeds,
// ordered by ISBN.
func collectBooks(ctx context.Context, lg *zap.Logger, files []string, opts options) ([]catalog.Book, error) {
	var filters []*bloom.BloomFilter
	if opts.minSources > 1 {
		// Pass 1: one bloom filter of ISBNs per feed.
		lg.Info("Pass 1: building bloom filters", zap.Int("files", len(files)))
		var err error
		if filters, err = buildBloomFilters(ctx, lg, files, opts.bloomCapacity); err != nil {
			return nil, errors.Wrap(err, "build bloom filters")
		}
	}

	// Pass 2: keep books that other feeds probably list too, then count the
	// exact number of feeds per ISBN.
	lg.Info("Pass 2: collecting candidates")
	results := make([]map[string]candidate, len(files))
	g, gCtx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			c, err := findCandidates(gCtx, lg, i, f, filters, opts.minSources)
			if err != nil {
				return errors.Wrapf(err, "scan %s", f)
			}
			results[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]candidate)
	for _, r := range results {
		for isbn, c := range r {
			prev, ok := merged[isbn]
			if ok {
				c.mask |= prev.mask
				if prev.file > c.file {
					c.book, c.file = prev.book, prev.file
				}
			}
			merged[isbn] = c
		}
	}

	var books []catalog.Book
	for _, c := range merged {
		if bits.OnesCount(c.mask) >= opts.minSources {
			books = append(books, c.book)
		}
	}
	slices.SortFunc(books, func(a, b catalog.Book) int {
		switch {
		case a.ISBN < b.ISBN:
			return -1
		case a.ISBN > b.ISBN:
			return 1
		}
		return 0
	})
	return books, nil
}

func buildBloomFilters(ctx context.Context, lg *zap.Logger, files []string, capacity uint) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))
	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(capacity, bloomFPR)
			var count uint64
			if err := streamFeed(ctx, path, func(b catalog.Book) {
				filter.AddString(b.ISBN)
				count++
				if count%progressEvery == 0 {
					lg.Info("Pass 1 progress", zap.Int("file", i+1), zap.Uint64("books", count))
				}
			}, nil); err != nil {
				return errors.Wrapf(err, "build filter for %s", path)
			}
			lg.Info("Pass 1 complete", zap.Int("file", i+1), zap.Uint64("books", count))
			filters[i] = filter
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// findCandidates collects the books of feed idx that at least minSources-1
// other feeds may list. Without filters every valid book is a candidate.
func findCandidates(
	ctx context.Context,
	lg *zap.Logger,
	idx int,
	path string,
	filters []*bloom.BloomFilter,
	minSources int,
) (map[string]candidate, error) {
	candidates := make(map[string]candidate)
	var count, skipped uint64

	err := streamFeed(ctx, path, func(b catalog.Book) {
		count++
		if filters != nil {
			others := 0
			for j, f := range filters {
				if j != idx && f.TestString(b.ISBN) {
					others++
				}
			}
			if others+1 < minSources {
				return
			}
		}
		candidates[b.ISBN] = candidate{mask: 1 << uint(idx), file: idx, book: b}
	}, func(line int, err error) {
		skipped++
		lg.Debug("Skipping invalid feed line", zap.String("file", path), zap.Int("line", line), zap.Error(err))
	})
	if err != nil {
		return nil, err
	}

	lg.Info("Pass 2 complete",
		zap.Int("file", idx+1),
		zap.Uint64("books", count),
		zap.Uint64("skipped", skipped),
		zap.Int("candidates", len(candidates)),
	)
	return candidates, nil
}

// streamFeed decodes a gzip JSON-lines feed and calls fn for each valid book.
// Invalid lines go to onInvalid when it is set.
func streamFeed(ctx context.Context, path string, fn func(catalog.Book), onInvalid func(line int, err error)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 64<<10), maxLineBytes)
	line := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		b, err := catalogfeed.DecodeLine(raw)
		if err != nil {
			if onInvalid != nil {
				onInvalid(line, err)
			}
			continue
		}
		fn(b)
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}

type bookWriter interface {
	Upsert(ctx context.Context, books []catalog.Book) (int64, error)
}

// writeBooks upserts books in chunks.
func writeBooks(ctx context.Context, lg *zap.Logger, repo bookWriter, books []catalog.Book) error {
	lg.Info("Writing books to database", zap.Int("count", len(books)))
	var written int64
	for chunk := range slices.Chunk(books, writeChunk) {
		n, err := repo.Upsert(ctx, chunk)
		if err != nil {
			return errors.Wrap(err, "upsert books")
		}
		written += n
		lg.Info("Write progress", zap.Int64("written", written), zap.Int("total", len(books)))
	}
	return nil
}
