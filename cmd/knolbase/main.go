package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/pflag"

	"github.com/conorfennell/knolbase/internal/collection"
	"github.com/conorfennell/knolbase/internal/config"
	"github.com/conorfennell/knolbase/internal/importer"
	"github.com/conorfennell/knolbase/internal/sync"
)

func main() {
	fs := pflag.NewFlagSet("knolbase", pflag.ExitOnError)
	config.RegisterFlags(fs)
	addSource := fs.String("add-source", "", "Register a directory or git URL as a note source")
	runSync := fs.Bool("sync", false, "Import notes from every source")
	listDecks := fs.Bool("decks", false, "List decks with their card counts")
	check := fs.Bool("check", false, "Repair orphaned cards and notes and rebuild the tag list")
	fs.Parse(os.Args[1:])

	cfg, err := config.Load(fs)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := cfg.Log.Logger(os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, logger, *addSource, *runSync, *listDecks, *check); err != nil {
		logger.Error("knolbase failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, addSource string, runSync, listDecks, check bool) error {
	col, err := collection.Open(ctx, collection.Options{
		Path:      cfg.DB,
		Logger:    logger,
		UndoLimit: cfg.Undo.Limit,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := col.Close(context.Background()); err != nil {
			logger.Error("failed to close collection", "error", err)
		}
	}()

	if addSource != "" {
		source, err := col.AddSource(ctx, addSource)
		if err != nil {
			return err
		}
		fmt.Printf("Source %d: %s\n", source.ID, source.Path)
	}

	if runSync {
		im := importer.New(col, importer.Options{Deck: cfg.Import.Deck, Model: cfg.Import.Model}, logger)
		report, err := sync.RunSync(ctx, col, im, cfg.Git.Dir)
		if err != nil {
			return err
		}
		fmt.Printf("Synced %d sources (%d failed): %d added, %d kept, %d removed, %d duplicates skipped.\n",
			report.Sources, report.Failed, report.Added, report.Existing, report.Removed, report.Duplicates)
	}

	if check {
		report, err := col.Check(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Moved %d orphaned cards, removed %d empty notes, %d tags in use.\n",
			report.OrphanCards, report.EmptyNotes, report.Tags)
	}

	if listDecks {
		for _, d := range col.Decks.AllSorted() {
			cids, err := col.CardIDs(ctx, d.ID, false)
			if err != nil {
				return err
			}
			kind := ""
			if d.Filtered {
				kind = " (filtered)"
			}
			fmt.Printf("%-40s %6d cards%s\n", d.Name, len(cids), kind)
		}
	}
	return nil
}
