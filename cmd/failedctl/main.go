// failedctl is the operator tool for failed products: list the directories
// the trawler has quarantined, show their failure reasons, and clear them so
// the next trawl pass re-ingests.
package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/radioarchive/trawler/internal/product"
	"github.com/radioarchive/trawler/pkg/catalog"
	"github.com/radioarchive/trawler/pkg/config"
	"github.com/radioarchive/trawler/pkg/errors"
	"github.com/radioarchive/trawler/pkg/logger"
	"github.com/radioarchive/trawler/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup("warn", "text")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pg, err := postgres.New(cfg.Catalog)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to catalog database: %v\n", err)
		os.Exit(1)
	}
	defer pg.Close()
	cat, err := catalog.NewPostgres(pg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise catalog: %v\n", err)
		os.Exit(1)
	}

	switch flag.Arg(0) {
	case "list":
		err = list(ctx, cfg.Trawl.RootDir, cat)
	case "show":
		err = requireName(show, cfg.Trawl.RootDir)
	case "clear":
		err = requireNameCat(ctx, clear, cfg.Trawl.RootDir, cat)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: failedctl [-config path] <command>

commands:
  list           list quarantined product directories and their catalog status
  show <name>    print the failure reason recorded for a directory
  clear <name>   remove the failed marker, move the directory back into the
                 trawl root and reset the catalog record for re-ingest`)
}

func requireName(fn func(root, name string) error, root string) error {
	if flag.NArg() < 2 {
		usage()
		os.Exit(2)
	}
	return fn(root, flag.Arg(1))
}

func requireNameCat(ctx context.Context, fn func(ctx context.Context, root, name string, cat catalog.Client) error, root string, cat catalog.Client) error {
	if flag.NArg() < 2 {
		usage()
		os.Exit(2)
	}
	return fn(ctx, root, flag.Arg(1), cat)
}

// list prints every quarantined directory with the catalog's view of it.
func list(ctx context.Context, root string, cat catalog.Client) error {
	failedRoot := filepath.Join(root, product.FailedDirName)
	entries, err := os.ReadDir(failedRoot)
	if os.IsNotExist(err) {
		fmt.Println("no failed products")
		return nil
	}
	if err != nil {
		return fmt.Errorf("listing %s: %w", failedRoot, err)
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		status := "not in catalog"
		rec, err := cat.Get(ctx, product.IDFromDirName(e.Name()))
		if err == nil {
			status = string(rec.TransferStatus)
			if rec.FailureReason != "" {
				status += ": " + rec.FailureReason
			}
		} else if !errorsIsNotFound(err) {
			status = fmt.Sprintf("catalog error: %v", err)
		}
		fmt.Printf("%s\t%s\n", e.Name(), status)
	}
	return nil
}

// show prints the failed marker's text for one quarantined directory.
func show(root, name string) error {
	marker := filepath.Join(root, product.FailedDirName, name, product.FailedMarker)
	data, err := os.ReadFile(marker)
	if err != nil {
		return fmt.Errorf("reading failed marker: %w", err)
	}
	if len(data) == 0 {
		fmt.Println("(no reason recorded)")
		return nil
	}
	fmt.Println(string(data))
	return nil
}

// clear reverses a quarantine: delete the marker, move the directory back
// under the trawl root, and reset the catalog record to CREATED so the next
// pass re-ingests it.
func clear(ctx context.Context, root, name string, cat catalog.Client) error {
	quarantined := filepath.Join(root, product.FailedDirName, name)
	if _, err := os.Stat(quarantined); err != nil {
		return fmt.Errorf("no quarantined directory %s: %w", name, err)
	}
	if err := os.Remove(filepath.Join(quarantined, product.FailedMarker)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing failed marker: %w", err)
	}
	dest := filepath.Join(root, name)
	if err := os.Rename(quarantined, dest); err != nil {
		return fmt.Errorf("restoring directory: %w", err)
	}
	fmt.Printf("restored %s\n", dest)

	rec, err := cat.Get(ctx, product.IDFromDirName(name))
	if err != nil {
		if errorsIsNotFound(err) {
			return nil
		}
		return fmt.Errorf("reading catalog record: %w", err)
	}
	if rec.TransferStatus != product.StatusFailed {
		return nil
	}
	next := rec.Clone()
	next.TransferStatus = product.StatusCreated
	next.FailureReason = ""
	if _, err := cat.Update(ctx, next, rec.Version); err != nil {
		return fmt.Errorf("resetting catalog record: %w", err)
	}
	fmt.Printf("catalog record %s reset to %s\n", rec.ID, product.StatusCreated)
	return nil
}

func errorsIsNotFound(err error) bool {
	return stderrors.Is(err, errors.ErrProductNotFound)
}
