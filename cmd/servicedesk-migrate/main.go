package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"servicedesk/internal/config"
	"servicedesk/internal/migrations"
)

func main() {
	cfg := config.Load()

	dsn := pflag.String("dsn", cfg.DatabaseURL, "postgres connection string (defaults to DB_DSN)")
	steps := pflag.Int("steps", 1, "number of migrations to roll back with down")
	version := pflag.Int("version", -1, "target version for force and goto")
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: servicedesk-migrate [flags] up|down|goto|force|version\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if pflag.NArg() != 1 {
		pflag.Usage()
		os.Exit(2)
	}
	if *dsn == "" {
		fmt.Fprintln(os.Stderr, "a database DSN is required (--dsn or DB_DSN)")
		os.Exit(2)
	}

	runner, err := migrations.Open(*dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
	defer runner.Close()

	if err := run(runner, pflag.Arg(0), *steps, *version); err != nil {
		fmt.Fprintf(os.Stderr, "migrate %s: %v\n", pflag.Arg(0), err)
		runner.Close()
		os.Exit(1)
	}
}

func run(runner *migrations.Runner, command string, steps, version int) error {
	switch command {
	case "up":
		return runner.Up()
	case "down":
		return runner.Down(steps)
	case "goto":
		if version < 0 {
			return fmt.Errorf("--version is required")
		}
		return runner.To(uint(version))
	case "force":
		if version < 0 {
			return fmt.Errorf("--version is required")
		}
		return runner.Force(version)
	case "version":
		current, dirty, err := runner.Version()
		if err != nil {
			return err
		}
		fmt.Printf("version %d dirty=%t\n", current, dirty)
		return nil
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}
