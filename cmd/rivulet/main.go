// Command rivulet is the CLI entrypoint: it parses a command plus flags,
// wires up the application context, and dispatches to the matching
// pipeline operation.
package main

import (
	"flag"
	"fmt"
	"os"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	switch command {
	case "add":
		runAdd()
	case "remove":
		runRemove()
	case "import":
		runImport()
	case "export":
		runExport()
	case "update":
		runUpdate()
	case "list":
		runList()
	case "tui":
		runTUI()
	case "scrape":
		runScrape()
	case "daemon":
		runDaemon()
	case "version":
		fmt.Printf("rivulet version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`Rivulet - a terminal-first, offline-first feed reader

Usage:
  rivulet <command> [flags]

Commands:
  add <URL>                              Subscribe to a feed
  remove <URL>                           Unsubscribe from a feed
  import <FILE.opml>                     Import subscriptions from an OPML file
  export <FILE.opml>                     Export subscriptions to an OPML file
  update [--workers N]                   Fetch every subscribed feed
  list [--items]                         List feeds, or items with --items
  tui                                    Terminal interface (not implemented in this build)
  scrape [--feed URL] [--limit N] [--concurrency N] [--visible]
                                          Scrape sparse items now and wait for the results
  daemon start [--interval DUR] [--log PATH] [--foreground] [--no-initial-update]
  daemon stop
  daemon status

Global flags:
  --config PATH    Path to the TOML config file
  --log-level LVL  Override the configured log level (error|warn|info|debug)
`)
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func newFlagSet(name string) (*flag.FlagSet, *string, *string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath(), "path to config file")
	logLevel := fs.String("log-level", "", "override configured log level")
	return fs, configPath, logLevel
}
