// Command bot runs the daily Wikipedia article Telegram bot.
//
//	bot [--config path] [serve]   run until SIGINT/SIGTERM
//	bot [--config path] daily     deliver one article to every subscriber and exit
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"wikidaily/internal/app"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var cfgPath string
	flags := pflag.NewFlagSet("bot", pflag.ContinueOnError)
	flags.StringVarP(&cfgPath, "config", "c", "./config.json", "path to config file (json, yaml or toml)")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	cmd := "serve"
	if args := flags.Args(); len(args) > 0 {
		cmd = args[0]
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		return err
	}

	switch cmd {
	case "serve":
		return serve(ctx, a)
	case "daily":
		return daily(ctx, a)
	default:
		_ = a.Close()
		return fmt.Errorf("unknown command %q (want serve or daily)", cmd)
	}
}

func serve(ctx context.Context, a *app.App) error {
	if err := a.Start(ctx); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.Stop(stopCtx, app.StopFatalError)
		return fmt.Errorf("start: %w", err)
	}

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		if a.Err() != nil {
			reason = app.StopFatalError
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return a.Stop(stopCtx, reason)
}

func daily(ctx context.Context, a *app.App) error {
	defer a.Close()
	rep, err := a.RunDaily(ctx)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(rep)
	return err
}
