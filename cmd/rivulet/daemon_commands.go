package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"rivulet/internal/daemon"
)

func lockPath() string {
	dir, err := dataDir()
	if err != nil {
		return "rivulet.lock"
	}
	return filepath.Join(dir, "rivulet.lock")
}

func pidPath() string {
	dir, err := dataDir()
	if err != nil {
		return "rivulet.pid"
	}
	return filepath.Join(dir, "rivulet.pid")
}

func runDaemon() {
	if len(os.Args) < 3 {
		fatalf("usage: rivulet daemon <start|stop|status>")
	}
	switch os.Args[2] {
	case "start":
		runDaemonStart()
	case "stop":
		runDaemonStop()
	case "status":
		runDaemonStatus()
	default:
		fatalf("usage: rivulet daemon <start|stop|status>")
	}
}

func runDaemonStart() {
	fs := flag.NewFlagSet("daemon start", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath(), "path to config file")
	interval := fs.String("interval", "", "update interval, e.g. 30m, 1h, 6h, 1d (overrides config)")
	foreground := fs.Bool("foreground", false, "run in the foreground instead of detaching")
	noInitial := fs.Bool("no-initial-update", false, "skip the update performed at startup")
	logPath := fs.String("log", "", "append log output to this file instead of stderr")
	logLevel := fs.String("log-level", "", "override configured log level")
	fs.Parse(os.Args[3:])

	if *logPath != "" {
		logFile, err := os.OpenFile(*logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fatalf("open log file: %v", err)
		}
		defer logFile.Close()
		log.SetOutput(logFile)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatalf("load config: %v", err)
	}

	intervalStr := cfg.DaemonInterval
	if *interval != "" {
		intervalStr = *interval
	}
	parsedInterval, err := daemon.ParseInterval(intervalStr)
	if err != nil {
		fatalf("invalid interval: %v", err)
	}

	lock, acquired, err := daemon.AcquireLock(lockPath())
	if err != nil {
		fatalf("acquire lock: %v", err)
	}
	if !acquired {
		fatalf("a rivulet daemon is already running")
	}
	defer lock.Release()

	if err := os.WriteFile(pidPath(), []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		fatalf("write pid file: %v", err)
	}
	defer os.Remove(pidPath())

	if !*foreground {
		fmt.Println("note: this build always runs in the foreground; --foreground is a no-op")
	}

	appCtx, err := buildContext(cfg, *logLevel)
	if err != nil {
		fatalf("initialize: %v", err)
	}
	defer appCtx.Close(30 * time.Second)

	update := func(ctx context.Context) error {
		_, err := appCtx.UpdateAll(ctx, cfg.FetchWorkers)
		return err
	}

	runErr := daemon.Run(context.Background(), daemon.Config{
		Interval:       parsedInterval,
		SkipInitialRun: *noInitial,
		ShutdownGrace:  30 * time.Second,
	}, update, appCtx.LogFilter.For("daemon"))
	if runErr != nil {
		fatalf("daemon: %v", runErr)
	}
}

func runDaemonStop() {
	data, err := os.ReadFile(pidPath())
	if err != nil {
		fatalf("daemon is not running (no pid file)")
	}
	pid, err := strconv.Atoi(string(data))
	if err != nil {
		fatalf("invalid pid file")
	}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		fatalf("stop daemon: %v", err)
	}
	fmt.Println("sent shutdown signal to daemon")
}

func runDaemonStatus() {
	data, err := os.ReadFile(pidPath())
	if err != nil {
		fmt.Println("not running")
		os.Exit(1)
	}
	pid, err := strconv.Atoi(string(data))
	if err != nil {
		fmt.Println("not running")
		os.Exit(1)
	}
	if err := syscall.Kill(pid, syscall.Signal(0)); err != nil {
		fmt.Println("not running")
		os.Exit(1)
	}
	fmt.Printf("running (pid %d)\n", pid)
}
