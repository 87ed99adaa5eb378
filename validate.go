package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/peterbourgon/ff/v3/ffcli"
	log "github.com/sirupsen/logrus"

	"phpScopeExporter/binding"
	"phpScopeExporter/config"
	"phpScopeExporter/transport"
)

type validateCmd struct {
	*cliConfig
	out io.Writer
}

func newValidateCmd(out io.Writer) *ffcli.Command {
	cmd := validateCmd{cliConfig: newCLIConfig(), out: out}
	set := flag.NewFlagSet("validate", flag.ContinueOnError)
	cmd.register(set)
	return &ffcli.Command{
		Name:       "validate",
		ShortUsage: "validate [flags]",
		ShortHelp:  "Check that an exporter can be built from the given settings",
		FlagSet:    set,
		Options:    options(),
		Exec:       cmd.exec,
	}
}

// prepare applies the parsed flags and prints the banner.
func (c *cliConfig) prepare(out io.Writer, command string) config.Configuration {
	if c.cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	c.applyTags()
	endpoint := c.cfg.Configuration()
	printWelcomeBanner(out, command, c.cfg, endpoint)
	return endpoint
}

func (cmd *validateCmd) exec(context.Context, []string) error {
	endpoint := cmd.prepare(cmd.out, "validate")

	res, err := transport.New(binding.Family, nil).ValidateExporter(endpoint)
	if err != nil {
		return err
	}
	if !res.OK() {
		return errors.New(res.Message())
	}
	fmt.Fprintln(cmd.out, "✅ Exporter configuration is valid")
	return nil
}
