package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"fieldbridge/internal/app"
	"fieldbridge/internal/config"
	"fieldbridge/internal/credential"
	logx "fieldbridge/pkg/logx"
)

const stopTimeout = 30 * time.Second

func main() {
	var (
		cfgPath     string
		dryRun      bool
		testWebhook bool
		keyringSet  string
	)
	flag.StringVar(&cfgPath, "config", "./fieldbridge.yaml", "path to config (yaml or json, optional)")
	flag.BoolVar(&dryRun, "dry-run", false, "run a single poll cycle and exit")
	flag.BoolVar(&testWebhook, "test-webhook", false, "post a connection test to the Teams webhook and exit")
	flag.StringVar(&keyringSet, "keyring-set", "", "store a secret read from stdin under this keyring key and exit")
	flag.Parse()

	if keyringSet != "" {
		if err := storeSecret(keyringSet); err != nil {
			fmt.Fprintln(os.Stderr, "fatal:", err)
			os.Exit(1)
		}
		fmt.Printf("stored %q; reference it as keyring:%s\n", keyringSet, keyringSet)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(app.Options{
		ConfigPath: cfgPath,
		Lookup:     os.LookupEnv,
		Secrets:    credential.Get,
	})
	if err != nil {
		if errors.Is(err, config.ErrMissingAPIToken) || errors.Is(err, config.ErrMissingWebhook) {
			fmt.Fprintln(os.Stderr, "fatal: configuration incomplete:", err)
		} else {
			fmt.Fprintln(os.Stderr, "fatal:", err)
		}
		os.Exit(1)
	}

	os.Exit(run(ctx, a, dryRun, testWebhook))
}

func run(ctx context.Context, a *app.App, dryRun, testWebhook bool) int {
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), stopTimeout)
		defer scancel()
		_ = a.Stop(sctx)
	}()

	switch {
	case testWebhook:
		if !a.TestWebhook(ctx) {
			fmt.Fprintln(os.Stderr, "webhook test failed")
			return 1
		}
		fmt.Println("webhook test succeeded")
		return 0
	case dryRun:
		rep, err := a.RunOnce(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, "cycle failed:", err)
			return 1
		}
		fmt.Printf("cycle %s: %d tasks, %d delivered, %d failed\n", rep.RunID, rep.Tasks, rep.Success, rep.Failed)
		return 0
	}

	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		return 1
	}
	select {
	case <-ctx.Done():
	case <-a.Done():
	}
	if err := a.Err(); err != nil {
		a.Logger().Error("stopping after failure", logx.Err(err))
		return 1
	}
	return 0
}

func storeSecret(key string) error {
	fmt.Fprintf(os.Stderr, "enter value for %q: ", key)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("reading secret: %w", err)
	}
	value := strings.TrimSpace(line)
	if value == "" {
		return errors.New("empty secret")
	}
	return credential.Set(key, value)
}
