package main

import (
	"context"
	"fmt"
	"os"
	"time"
)

func runAdd() {
	fs, configPath, logLevel := newFlagSet("add")
	fs.Parse(os.Args[2:])
	if fs.NArg() < 1 {
		fatalf("usage: rivulet add <URL>")
	}
	url := fs.Arg(0)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatalf("load config: %v", err)
	}
	ctx, err := buildContext(cfg, *logLevel)
	if err != nil {
		fatalf("initialize: %v", err)
	}
	defer ctx.Close(10 * time.Second)

	result, err := ctx.AddFeed(context.Background(), url)
	if err != nil {
		fatalf("add feed: %v", err)
	}
	fmt.Printf("subscribed to %s (feed id %d, %d items stored)\n", url, result.FeedID, result.ItemsInserted)
}

func runRemove() {
	fs, configPath, logLevel := newFlagSet("remove")
	fs.Parse(os.Args[2:])
	if fs.NArg() < 1 {
		fatalf("usage: rivulet remove <URL>")
	}
	url := fs.Arg(0)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatalf("load config: %v", err)
	}
	ctx, err := buildContext(cfg, *logLevel)
	if err != nil {
		fatalf("initialize: %v", err)
	}
	defer ctx.Close(10 * time.Second)

	if err := ctx.RemoveFeed(url); err != nil {
		fatalf("remove feed: %v", err)
	}
	fmt.Printf("unsubscribed from %s\n", url)
}

func runImport() {
	fs, configPath, logLevel := newFlagSet("import")
	concurrency := fs.Int("concurrency", 4, "concurrent feed adds")
	fs.Parse(os.Args[2:])
	if fs.NArg() < 1 {
		fatalf("usage: rivulet import <FILE.opml>")
	}
	path := fs.Arg(0)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatalf("load config: %v", err)
	}
	ctx, err := buildContext(cfg, *logLevel)
	if err != nil {
		fatalf("initialize: %v", err)
	}
	defer ctx.Close(10 * time.Second)

	result, err := ctx.ImportOPML(context.Background(), path, *concurrency)
	if err != nil {
		fatalf("import opml: %v", err)
	}
	fmt.Printf("imported %d/%d feeds\n", result.Added, result.Total)
	for _, failure := range result.Failed {
		fmt.Fprintf(os.Stderr, "  failed: %s: %v\n", failure.URL, failure.Err)
	}
}

func runExport() {
	fs, configPath, logLevel := newFlagSet("export")
	fs.Parse(os.Args[2:])
	if fs.NArg() < 1 {
		fatalf("usage: rivulet export <FILE.opml>")
	}
	path := fs.Arg(0)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatalf("load config: %v", err)
	}
	ctx, err := buildContext(cfg, *logLevel)
	if err != nil {
		fatalf("initialize: %v", err)
	}
	defer ctx.Close(10 * time.Second)

	if err := ctx.ExportOPML(path); err != nil {
		fatalf("export opml: %v", err)
	}
	fmt.Printf("exported subscriptions to %s\n", path)
}

func runUpdate() {
	fs, configPath, logLevel := newFlagSet("update")
	workers := fs.Int("workers", 0, "concurrent fetches (0 = use config default)")
	fs.Parse(os.Args[2:])

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatalf("load config: %v", err)
	}
	ctx, err := buildContext(cfg, *logLevel)
	if err != nil {
		fatalf("initialize: %v", err)
	}
	defer ctx.Close(10 * time.Second)

	w := *workers
	if w == 0 {
		w = cfg.FetchWorkers
	}
	result, err := ctx.UpdateAll(context.Background(), w)
	if err != nil {
		fatalf("update: %v", err)
	}

	var stored, failed, notModified int
	for _, r := range result.Results {
		switch {
		case r.Err != nil:
			failed++
			fmt.Fprintf(os.Stderr, "  %s: %v\n", r.URL, r.Err)
		case r.NotModified:
			notModified++
		default:
			stored += r.ItemsStored
		}
	}
	fmt.Printf("swept %d feeds: %d items stored, %d unchanged, %d failed\n", len(result.Results), stored, notModified, failed)
}

func runList() {
	fs, configPath, logLevel := newFlagSet("list")
	showItems := fs.Bool("items", false, "list items instead of feeds")
	fs.Parse(os.Args[2:])

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatalf("load config: %v", err)
	}
	ctx, err := buildContext(cfg, *logLevel)
	if err != nil {
		fatalf("initialize: %v", err)
	}
	defer ctx.Close(10 * time.Second)

	if *showItems {
		items, err := ctx.Store.GetAllItems(100, 0)
		if err != nil {
			fatalf("list items: %v", err)
		}
		for _, item := range items {
			title := "(untitled)"
			if item.Title != nil {
				title = *item.Title
			}
			fmt.Printf("%s  %s\n", item.ID[:12], title)
		}
		return
	}

	feeds, err := ctx.Store.GetAllFeeds()
	if err != nil {
		fatalf("list feeds: %v", err)
	}
	for _, feed := range feeds {
		title := feed.URL
		if feed.Title != nil {
			title = *feed.Title
		}
		unread, err := ctx.Store.UnreadCount(feed.ID)
		if err != nil {
			fatalf("unread count for %s: %v", feed.URL, err)
		}
		fmt.Printf("%d  %-40s  (%d unread)  %s\n", feed.ID, title, unread, feed.URL)
	}
}

func runTUI() {
	fmt.Println("interactive terminal interface is not implemented in this build")
}

func runScrape() {
	fs, configPath, logLevel := newFlagSet("scrape")
	feedURL := fs.String("feed", "", "restrict scraping to one subscribed feed")
	limit := fs.Int("limit", 20, "maximum items to scrape")
	concurrency := fs.Int("concurrency", 0, "override configured scraper concurrency")
	visible := fs.Bool("visible", false, "run the browser with a visible window")
	fs.Parse(os.Args[2:])

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatalf("load config: %v", err)
	}
	if *visible {
		cfg.Scraper.Enabled = true
		cfg.Scraper.Visible = true
	}
	ctx, err := buildContext(cfg, *logLevel)
	if err != nil {
		fatalf("initialize: %v", err)
	}
	defer ctx.Close(30 * time.Second)

	c := *concurrency
	if c == 0 {
		c = cfg.Scraper.MaxConcurrency
	}
	summary, err := ctx.Scrape(context.Background(), *feedURL, *limit, c)
	if err != nil {
		fatalf("scrape: %v", err)
	}
	fmt.Printf("scraped %d items (%d failed)\n", summary.Scraped, summary.Failed)
}
