package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"relaybot/internal/config"
	"relaybot/internal/domain"
	"relaybot/internal/persona"
	"relaybot/internal/transport"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your Relaybot installation",
		Long: `Verifies that Relaybot's configuration, transport, providers, persona and
database are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("Relaybot Doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			d := &doctor{}

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				d.fail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'relaybot init' to create a default configuration.\n")
				return nil
			}
			d.pass("Config file", cfgPath)

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				d.fail("Config validation", err.Error())
				fmt.Printf("\n%d passed, %d failed\n", d.passed, d.failed)
				return fmt.Errorf("%d check(s) failed", d.failed)
			}
			d.pass("Config validation", "valid")

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			d.checkPersona(cfg)
			d.checkDatabase(cfg.Store.DBPath)
			d.checkProviders(cfg)
			d.checkTransport(ctx, cfg)

			if cfg.API.Enabled {
				if err := checkPort(cfg.API.Host, cfg.API.Port); err != nil {
					d.warn("API port", fmt.Sprintf("port %d may be in use: %v", cfg.API.Port, err))
				} else {
					d.pass("API port", fmt.Sprintf(":%d available", cfg.API.Port))
				}
			}

			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					d.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
				} else {
					d.pass("Log file", cfg.General.LogFile)
				}
			}

			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", d.passed, d.warned, d.failed)
			if d.failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running Relaybot.\n")
				return fmt.Errorf("%d check(s) failed", d.failed)
			}
			if d.warned > 0 {
				fmt.Printf("\nRelaybot should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! Relaybot is ready to run.\n")
			}
			return nil
		},
	}
}

type doctor struct {
	passed, failed, warned int
}

func (d *doctor) pass(check, detail string) {
	d.passed++
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func (d *doctor) fail(check, detail string) {
	d.failed++
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func (d *doctor) warn(check, detail string) {
	d.warned++
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}

func (d *doctor) checkPersona(cfg *config.Config) {
	p, err := persona.Load(cfg.Relay.PersonaFile)
	switch {
	case err != nil:
		d.fail("Persona", err.Error())
	case cfg.Relay.PersonaFile == "":
		d.pass("Persona", p.Name+" (built-in)")
	default:
		d.pass("Persona", p.Name+" from "+cfg.Relay.PersonaFile)
	}
}

func (d *doctor) checkDatabase(dbPath string) {
	if err := checkDatabase(dbPath); err != nil {
		d.fail("Database", err.Error())
		return
	}
	d.pass("Database", dbPath)
}

func (d *doctor) checkProviders(cfg *config.Config) {
	count := 0
	for name, p := range cfg.Providers {
		if !p.Enabled {
			continue
		}
		count++
		if p.APIKey == "" && p.AccessKey == "" && name != "ollama" {
			d.warn("Provider: "+name, "enabled but no API key configured")
		} else {
			d.pass("Provider: "+name, "configured")
		}
	}
	if count == 0 {
		d.fail("Providers", "no providers enabled")
	}
}

func (d *doctor) checkTransport(ctx context.Context, cfg *config.Config) {
	tr, err := transport.New(cfg.Transport, logger)
	if err != nil {
		d.fail("Transport", err.Error())
		return
	}
	hc, ok := tr.(domain.HealthChecker)
	if !ok {
		d.pass("Transport", tr.Name())
		return
	}
	if err := hc.Healthy(ctx); err != nil {
		d.fail("Transport", fmt.Sprintf("%s: %v", tr.Name(), err))
		return
	}
	d.pass("Transport", tr.Name())
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}

	// Try a write.
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")

	return nil
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}
