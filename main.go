package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/fatih/color"
	"github.com/peterbourgon/ff/v3/ffcli"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"phpScopeExporter/config"
)

type exitCode int

const (
	exitSuccess exitCode = 0
	exitFailure exitCode = 1

	// Go 'flag' package calls os.Exit(2) on flag parse errors, if ExitOnError is set
	exitParseError exitCode = 2
)

func printWelcomeBanner(w io.Writer, command string, cfg *config.Config, endpoint config.Configuration) {
	bannerLines := []string{
		"    ____  __  ______  _____                    ",
		"   / __ \\/ / / / __ \\/ ___/________  ____  ___ ",
		"  / /_/ / /_/ / /_/ /\\__ \\/ ___/ _ \\/ __ \\/ _ \\",
		" / ____/ __  / ____/___/ / /__/  __/ /_/ /  __/",
		"/_/   /_/ /_/_/    /____/\\___/\\___/ .___/\\___/ ",
		"                                 /_/  exporter  ",
	}

	orange := color.New(color.FgYellow)
	for _, line := range bannerLines {
		orange.Fprintln(w, line)
	}

	fmt.Fprintf(w, "\n🚀 Running %s with configuration:\n", command)
	fmt.Fprintf(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Fprintf(w, "📡 Mode:               %s\n", endpoint.Mode)
	switch endpoint.Mode {
	case config.ModeAgentless:
		fmt.Fprintf(w, "🌐 Site:               %s\n", endpoint.Site)
		fmt.Fprintf(w, "🔑 API Key:            %s\n", redact(endpoint.APIKey))
	case config.ModeAgent:
		fmt.Fprintf(w, "🌐 Agent URL:          %s\n", endpoint.BaseURL)
	}
	fmt.Fprintf(w, "⏱️  Upload Timeout:     %v\n", cfg.UploadTimeout)
	if len(cfg.Tags) > 0 {
		fmt.Fprintf(w, "🏷️  Tags:\n")
		for k, v := range cfg.Tags {
			fmt.Fprintf(w, "   ├─ %s: %s\n", k, v)
		}
	}
	fmt.Fprintf(w, "🐛 Debug Mode:         %v\n", cfg.Debug)
	fmt.Fprintf(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
}

func redact(secret string) string {
	if len(secret) <= 4 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}

func main() {
	os.Exit(int(mainWithExitCode(os.Args[1:])))
}

func mainWithExitCode(args []string) exitCode {
	log.SetReportCaller(false)
	log.SetFormatter(&log.TextFormatter{})

	root := newRootCmd(os.Stdout)
	if err := root.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitSuccess
		}
		return parseError("Failure to parse arguments: %v", err)
	}

	// Interrupting the process cancels the upload in flight.
	ctx, cancel := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)
	defer cancel()

	if err := root.Run(ctx); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, ffcli.DefaultUsageFunc(root))
			return exitParseError
		}
		return failure("%v", err)
	}
	return exitSuccess
}

func newRootCmd(out io.Writer) *ffcli.Command {
	return &ffcli.Command{
		Name:       "phpScopeExporter",
		ShortUsage: "phpScopeExporter <subcommand> [flags]",
		ShortHelp:  "Validate exporter settings and upload profiles to the profiling intake",
		FlagSet:    flag.NewFlagSet("phpScopeExporter", flag.ContinueOnError),
		Subcommands: []*ffcli.Command{
			newValidateCmd(out),
			newExportCmd(out),
		},
		Exec: func(context.Context, []string) error {
			return flag.ErrHelp
		},
	}
}

func parseError(msg string, args ...any) exitCode {
	log.Errorf(msg, args...)
	return exitParseError
}

func failure(msg string, args ...any) exitCode {
	log.Errorf(msg, args...)
	return exitFailure
}
