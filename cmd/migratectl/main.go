package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	engineconfig "lendmigrate/config"
	"lendmigrate/services/migrated/api"
)

const defaultConfig = "./lendmigrate.toml"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	switch args[0] {
	case "plan":
		return runPlan(args[1:], stdout, stderr)
	case "simulate":
		return runSimulate(args[1:], stdout, stderr)
	case "calldata":
		return runCalldata(args[1:], stdout, stderr)
	case "snapshot":
		return runSnapshot(args[1:], stdout, stderr)
	case "submit":
		return runSubmit(args[1:], stdout, stderr)
	case "set-fee":
		return runSetFee(args[1:], stdout, stderr)
	case "export":
		return runExport(args[1:], stdout, stderr)
	case "protect-keystore":
		return runProtectKeystore(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func usage() string {
	return strings.Join([]string{
		"Usage: migratectl <command> [flags]",
		"",
		"Commands:",
		"  plan       compute the flash loan and re-borrow legs for a position file",
		"  simulate   rehearse a migration against an in-process pool",
		"  calldata   encode or decode transferAccount calldata",
		"  snapshot   read a live position from the protocol data provider",
		"  submit     sign and send transferAccount from the operator key",
		"  set-fee    sign and send changeFee from the operator key",
		"  export     write audit records to a parquet file",
		"  protect-keystore  encrypt the operator keystore with $MIGRATE_PASSPHRASE",
	}, "\n")
}

// commonFlags are shared by every command that reads the engine config.
type commonFlags struct {
	config string
	output string
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.config, "config", defaultConfig, "path to the engine TOML config")
	fs.StringVar(&c.output, "output", "json", "output format: json or yaml")
}

func (c *commonFlags) load() (*engineconfig.Config, error) {
	return engineconfig.Load(c.config)
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string, stderr io.Writer) bool {
	if err := fs.Parse(args); err != nil {
		return false
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return false
	}
	return true
}

func readPosition(path string) (api.PositionDocument, error) {
	var doc api.PositionDocument
	if strings.TrimSpace(path) == "" {
		return doc, fmt.Errorf("--position is required")
	}
	file, err := os.Open(path)
	if err != nil {
		return doc, err
	}
	defer file.Close()
	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&doc); err != nil {
		return doc, fmt.Errorf("decode %s: %w", path, err)
	}
	return doc, nil
}

func writeOutput(stdout io.Writer, format string, v interface{}) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		encoder := json.NewEncoder(stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(v)
	case "yaml":
		encoder := yaml.NewEncoder(stdout)
		encoder.SetIndent(2)
		defer encoder.Close()
		return encoder.Encode(v)
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

func fail(stderr io.Writer, err error) int {
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return 1
}
