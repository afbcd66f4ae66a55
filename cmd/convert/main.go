// Command convert converts one bank statement PDF from the terminal, keeping
// the visitor state (credential, fingerprint, pending payment) in a local file.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"go.uber.org/zap"

	"github.com/wenwu/saas-platform/statement-portal/internal/anonymous"
	"github.com/wenwu/saas-platform/statement-portal/internal/config"
	"github.com/wenwu/saas-platform/statement-portal/internal/export"
	"github.com/wenwu/saas-platform/statement-portal/internal/logger"
	"github.com/wenwu/saas-platform/statement-portal/internal/models"
	"github.com/wenwu/saas-platform/statement-portal/internal/notify"
	"github.com/wenwu/saas-platform/statement-portal/internal/portal"
	"github.com/wenwu/saas-platform/statement-portal/internal/storage"
)

const cliVisitor = "cli"

func main() {
	var (
		email     = flag.String("email", "", "sign in with this email; the password is read from PORTAL_PASSWORD")
		format    = flag.String("format", "", "export format: csv, flat or xlsx (default from EXPORT_FORMAT)")
		outDir    = flag.String("out", ".", "directory to write the export to")
		statePath = flag.String("state", "", "storage file (default STORAGE_FILE)")
		logout    = flag.Bool("logout", false, "sign out and exit")
		verbose   = flag.Bool("v", false, "verbose logging")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] statement.pdf\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := run(*email, *format, *outDir, *statePath, *logout, *verbose, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(email, format, outDir, statePath string, logout, verbose bool, args []string) error {
	cfg := config.Load()
	if format != "" {
		cfg.Export.DefaultFormat = format
	}
	exportFormat, err := export.ParseFormat(cfg.Export.DefaultFormat)
	if err != nil {
		return err
	}
	if statePath != "" {
		cfg.Storage.FilePath = statePath
	}
	cfg.Storage.Driver = "file"

	log := zap.NewNop()
	if verbose {
		log = logger.New(config.LogConfig{Level: "debug"})
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := storage.Open(ctx, cfg.Storage, 0, log)
	if err != nil {
		return err
	}
	defer closeStore()

	console := notify.NewConsole(os.Stdout)
	p := portal.New(ctx, cliVisitor, cfg, store, nil, log)
	defer p.Close()
	flush := func() {
		for _, n := range p.Notes.Drain() {
			console.Notify(n)
		}
	}
	defer flush()

	p.Start(ctx)

	if logout {
		res := p.Auth.Logout(ctx)
		if !res.Success {
			return fmt.Errorf("%s", res.Error)
		}
		fmt.Println("Signed out")
		return nil
	}

	if email != "" && !p.Auth.Holder().Authenticated() {
		res := p.Auth.Login(ctx, email, os.Getenv("PORTAL_PASSWORD"))
		if !res.Success {
			return fmt.Errorf("login failed: %s", res.Error)
		}
	}

	// Resume a checkout confirmation left over from an earlier run.
	page := p.Load(ctx, nil)
	for _, n := range page.Notifications {
		console.Notify(n)
	}
	p.Wait()
	flush()

	if len(args) != 1 {
		flag.Usage()
		return fmt.Errorf("expected one PDF file")
	}

	if !p.Auth.Holder().Authenticated() {
		signals := anonymous.Signals{
			UserAgent:           "statement-portal-cli",
			Platform:            runtime.GOOS,
			HardwareConcurrency: runtime.NumCPU(),
			CookieEnabled:       true,
			LocalStorage:        true,
		}
		if _, err := p.Anonymous.Init(ctx, &signals); err != nil {
			return fmt.Errorf("check free conversion: %w", err)
		}
	}
	fmt.Println(p.Quota().Display)

	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	snap, err := p.Wizard.Submit(ctx, &models.Upload{
		Filename: filepath.Base(args[0]),
		Data:     data,
	})
	flush()
	if err != nil {
		return err
	}

	file, err := p.Wizard.Export(exportFormat)
	if err != nil {
		return err
	}
	dst := filepath.Join(outDir, file.Name)
	if err := os.WriteFile(dst, file.Data, 0o644); err != nil {
		return err
	}
	fmt.Printf("%d pages converted, %d transactions written to %s\n",
		snap.PagesUsed, snap.Data.TransactionCount(), dst)
	fmt.Println(p.Quota().Display)
	return nil
}
