package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"rss_relay/internal/legacy"
	"rss_relay/internal/model"
	"rss_relay/internal/storage"
	"rss_relay/migrations"
)

func main() {
	dbPath := flag.String("db", envOrDefault("DATABASE_PATH", "./data/bot.db"), "path to sqlite database")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: migrate [-db path] <command> [file]")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Commands:")
		fmt.Fprintln(os.Stderr, "  up                     Migrate to the latest version")
		fmt.Fprintln(os.Stderr, "  up-one                 Migrate one version up")
		fmt.Fprintln(os.Stderr, "  down                   Roll back one version")
		fmt.Fprintln(os.Stderr, "  status                 Show migration status")
		fmt.Fprintln(os.Stderr, "  version                Show current version")
		fmt.Fprintln(os.Stderr, "  reset                  Roll back all migrations")
		fmt.Fprintln(os.Stderr, "  import-sent <file>     Merge a sent_posts.json TID list")
		fmt.Fprintln(os.Stderr, "  import-pending <file>  Merge a pending-moderation JSON file")
		os.Exit(1)
	}

	cmd := args[0]
	switch cmd {
	case "import-sent", "import-pending":
		if len(args) < 2 {
			log.Fatalf("usage: migrate %s <file>", cmd)
		}
		if err := runImport(context.Background(), *dbPath, cmd, args[1]); err != nil {
			log.Fatalf("%s: %v", cmd, err)
		}
		return
	}

	db, err := sql.Open("sqlite", *dbPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	if err := migrations.Setup(); err != nil {
		log.Fatalf("setup migrations: %v", err)
	}

	switch cmd {
	case "up":
		err = goose.Up(db, ".")
	case "up-one":
		err = goose.UpByOne(db, ".")
	case "down":
		err = goose.Down(db, ".")
	case "status":
		err = goose.Status(db, ".")
	case "version":
		err = goose.Version(db, ".")
	case "reset":
		err = goose.Reset(db, ".")
	default:
		log.Fatalf("unknown command: %s", cmd)
	}

	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}

// runImport merges a legacy JSON state file into the database. The file is
// fully validated before anything is written.
func runImport(ctx context.Context, dbPath, cmd, file string) error {
	var (
		tids  []int64
		posts []model.Post
		err   error
	)
	if cmd == "import-sent" {
		tids, err = legacy.ReadSentFile(file)
	} else {
		posts, err = legacy.ReadPendingFile(file)
	}
	if err != nil {
		return err
	}

	store, err := storage.NewSQLite(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = store.Close() }()

	if cmd == "import-sent" {
		added, err := store.ImportSent(ctx, tids)
		if err != nil {
			return err
		}
		total, err := store.CountSent(ctx)
		if err != nil {
			return err
		}
		log.Printf("imported %d sent posts (%d new, %d total)", len(tids), added, total)
		return nil
	}

	added := 0
	for _, p := range posts {
		ok, err := store.SavePending(ctx, p)
		if err != nil {
			return fmt.Errorf("tid %d: %w", p.TID, err)
		}
		if ok {
			added++
		}
	}
	log.Printf("imported %d pending posts (%d new)", len(posts), added)
	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
