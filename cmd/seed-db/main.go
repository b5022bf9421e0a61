// Command seed-db loads the default catalog and shopper API keys.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/bookshop-orders/db"
	"github.com/xenking/bookshop-orders/internal/catalogfeed"
	"github.com/xenking/bookshop-orders/internal/domain/auth"
	"github.com/xenking/bookshop-orders/internal/storage/postgres"
)

// shopperKey is one API key bound to a shopper.
type shopperKey struct {
	key    string
	userID int64
}

// parseKeys parses "key:userID" pairs separated by commas.
func parseKeys(s string) ([]shopperKey, error) {
	var keys []shopperKey
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, rawID, ok := strings.Cut(pair, ":")
		if !ok || key == "" {
			return nil, errors.Errorf("invalid api key pair %q, want key:userID", pair)
		}
		id, err := strconv.ParseInt(rawID, 10, 64)
		if err != nil || id <= 0 {
			return nil, errors.Errorf("invalid user id in %q", pair)
		}
		keys = append(keys, shopperKey{key: key, userID: id})
	}
	return keys, nil
}

func main() {
	var (
		databaseURL  string
		booksFile    string
		apiKeys      string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&booksFile, "books-file", "", "path to a books JSON array (default: embedded catalog)")
	flag.StringVar(&apiKeys, "api-keys", "", "comma separated key:userID pairs (or BOOKSHOP_SEED_API_KEYS env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or BOOKSHOP_API_KEY_PEPPER env)")
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
	if apiKeys == "" {
		apiKeys = os.Getenv("BOOKSHOP_SEED_API_KEYS")
	}
	keys, err := parseKeys(apiKeys)
	if err != nil {
		lg.Fatal("Invalid api keys", zap.Error(err))
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("BOOKSHOP_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, booksFile, keys, apiKeyPepper); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed")
}

func run(ctx context.Context, lg *zap.Logger, databaseURL, booksFile string, keys []shopperKey, pepper string) error {
	lg.Info("Connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL, 4)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	lg.Info("Running migrations")
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedBooks(ctx, lg, postgres.NewBookRepository(pool), booksFile); err != nil {
		return errors.Wrap(err, "seed books")
	}
	if err := seedAPIKeys(ctx, lg, postgres.NewAPIKeyRepository(pool), keys, pepper); err != nil {
		return errors.Wrap(err, "seed api keys")
	}
	return nil
}

func seedBooks(ctx context.Context, lg *zap.Logger, repo *postgres.BookRepository, booksFile string) error {
	data := db.SeedBooks
	if booksFile != "" {
		lg.Info("Reading books file", zap.String("path", booksFile))
		var err error
		if data, err = os.ReadFile(booksFile); err != nil {
			return errors.Wrap(err, "read books file")
		}
	}

	books, err := catalogfeed.DecodeArray(data)
	if err != nil {
		return errors.Wrap(err, "parse books")
	}
	written, err := repo.Upsert(ctx, books)
	if err != nil {
		return err
	}
	lg.Info("Upserted books", zap.Int("count", len(books)), zap.Int64("written", written))
	return nil
}

func seedAPIKeys(ctx context.Context, lg *zap.Logger, repo *postgres.APIKeyRepository, keys []shopperKey, pepper string) error {
	if len(keys) == 0 {
		lg.Warn("No api keys given, shoppers cannot authenticate")
		return nil
	}
	for _, k := range keys {
		id := "user-" + strconv.FormatInt(k.userID, 10)
		if err := repo.Upsert(ctx, auth.APIKeyInfo{
			ID:      id,
			KeyHash: auth.Hash([]byte(pepper), k.key),
			UserID:  k.userID,
			Name:    "Seeded shopper key",
			Scopes:  []string{auth.ScopeShop},
		}); err != nil {
			return err
		}
		lg.Info("Upserted API key", zap.String("id", id), zap.Int64("user_id", k.userID))
	}
	return nil
}
