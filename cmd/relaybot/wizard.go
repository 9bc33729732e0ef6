package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"relaybot/internal/config"
)

// providerMeta describes a provider option for the wizard.
type providerMeta struct {
	Name         string
	NeedsKey     bool
	EnvVar       string
	APIBase      string
	DefaultModel string
}

var knownProviders = []providerMeta{
	{Name: "claude", NeedsKey: true, EnvVar: "ANTHROPIC_API_KEY", APIBase: "https://api.anthropic.com/v1", DefaultModel: "claude-3-sonnet-20240229"},
	{Name: "openai", NeedsKey: true, EnvVar: "OPENAI_API_KEY", APIBase: "https://api.openai.com/v1", DefaultModel: "gpt-4o-mini"},
	{Name: "ollama", NeedsKey: false, APIBase: "http://localhost:11434", DefaultModel: "llama3.1:8b"},
	{Name: "ark", NeedsKey: true, EnvVar: "ARK_API_KEY", APIBase: "https://ark.cn-beijing.volces.com/api/v3", DefaultModel: ""},
}

var knownTransports = []struct {
	Kind string
	Desc string
}{
	{config.TransportSignalCLI, "Signal via the signal-cli binary"},
	{config.TransportTelegram, "Telegram bot (long polling)"},
	{config.TransportWebhook, "Generic HTTP webhook in/out"},
}

func wizardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wizard",
		Short: "Interactive setup: transport → provider → persona → save config",
		Long:  "Guides you through the messaging transport, the LLM provider (and API key if needed) and the persona file. Writes config to the path used by --config or default.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				cfg = config.Defaults()
			}
			if err := runWizard(os.Stdin, os.Stdout, cfg); err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return fmt.Errorf("config validation: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "\nConfig saved to %s\n", cfgPath)
			fmt.Println("Next: run 'relaybot doctor', then 'relaybot serve'.")
			return nil
		},
	}
}

type wizardPrompter struct {
	r   *bufio.Reader
	out io.Writer
}

func (p *wizardPrompter) ask(label, def string) (string, error) {
	fmt.Fprint(p.out, label)
	if def != "" {
		fmt.Fprintf(p.out, " [%s]: ", def)
	} else {
		fmt.Fprint(p.out, ": ")
	}
	line, err := p.r.ReadString('\n')
	if err != nil && !(err == io.EOF && line != "") {
		return "", err
	}
	s := strings.TrimSpace(line)
	if s == "" {
		return def, nil
	}
	return s, nil
}

// choose prints options and returns the picked zero-based index. Out of
// range answers select def.
func (p *wizardPrompter) choose(label string, options []string, def int) (int, error) {
	for i, o := range options {
		fmt.Fprintf(p.out, "  %d) %s\n", i+1, o)
	}
	answer, err := p.ask(label, fmt.Sprint(def+1))
	if err != nil {
		return 0, err
	}
	var idx int
	if n, _ := fmt.Sscanf(answer, "%d", &idx); n != 1 || idx < 1 || idx > len(options) {
		return def, nil
	}
	return idx - 1, nil
}

// runWizard edits cfg in place from answers read from in.
func runWizard(in io.Reader, out io.Writer, cfg *config.Config) error {
	p := &wizardPrompter{r: bufio.NewReader(in), out: out}
	if cfg.Providers == nil {
		cfg.Providers = make(map[string]config.ProviderConfig)
	}

	// Step 1: Transport
	fmt.Fprintln(out, "\n--- Step 1: Transport ---")
	var opts []string
	def := 0
	for i, t := range knownTransports {
		opts = append(opts, fmt.Sprintf("%s - %s", t.Kind, t.Desc))
		if t.Kind == cfg.Transport.Kind {
			def = i
		}
	}
	idx, err := p.choose("Choose transport", opts, def)
	if err != nil {
		return err
	}
	cfg.Transport.Kind = knownTransports[idx].Kind

	switch cfg.Transport.Kind {
	case config.TransportSignalCLI:
		acct, err := p.ask("Signal account (E.164, e.g. +15551234567)", cfg.Transport.Signal.Account)
		if err != nil {
			return err
		}
		cfg.Transport.Signal.Account = acct
	case config.TransportTelegram:
		tok, err := p.ask("Telegram bot token (from @BotFather)", "${TELEGRAM_BOT_TOKEN}")
		if err != nil {
			return err
		}
		cfg.Transport.Telegram.Token = tok
	case config.TransportWebhook:
		u, err := p.ask("Outbound URL replies are POSTed to", cfg.Transport.Webhook.OutboundURL)
		if err != nil {
			return err
		}
		cfg.Transport.Webhook.OutboundURL = u
	}
	fmt.Fprintf(out, "  Using transport: %s\n", cfg.Transport.Kind)

	// Step 2: Provider
	fmt.Fprintln(out, "\n--- Step 2: LLM provider ---")
	opts = opts[:0]
	def = 0
	for i, pm := range knownProviders {
		o := pm.Name
		if pm.NeedsKey {
			o += fmt.Sprintf(" (set %s)", pm.EnvVar)
		}
		opts = append(opts, o)
		if pm.Name == cfg.General.DefaultProvider {
			def = i
		}
	}
	idx, err = p.choose("Choose provider", opts, def)
	if err != nil {
		return err
	}
	prov := knownProviders[idx]
	pc := cfg.Providers[prov.Name]
	pc.Enabled = true
	if pc.APIBase == "" {
		pc.APIBase = prov.APIBase
	}
	if pc.DefaultModel == "" {
		pc.DefaultModel = prov.DefaultModel
	}
	if prov.Name == "ark" {
		model, err := p.ask("Ark endpoint/model ID", pc.DefaultModel)
		if err != nil {
			return err
		}
		pc.DefaultModel = model
	}
	if prov.NeedsKey {
		key, err := p.ask(fmt.Sprintf("API key: paste key or env var (e.g. ${%s})", prov.EnvVar), "${"+prov.EnvVar+"}")
		if err != nil {
			return err
		}
		pc.APIKey = key
	}
	cfg.Providers[prov.Name] = pc
	cfg.General.DefaultProvider = prov.Name
	cfg.General.FailoverChain = nil
	fmt.Fprintf(out, "  Using provider: %s\n", prov.Name)

	// Step 3: Persona
	fmt.Fprintln(out, "\n--- Step 3: Persona ---")
	pf, err := p.ask("Persona YAML file (empty for the built-in persona)", cfg.Relay.PersonaFile)
	if err != nil {
		return err
	}
	cfg.Relay.PersonaFile = config.ExpandPath(pf)
	return nil
}
