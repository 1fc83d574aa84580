package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"agrireg/internal/app"
	"agrireg/internal/config"
	"agrireg/internal/page"
	"agrireg/internal/registry"
	"agrireg/internal/session"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func readConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}
	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// newApp reads the config and creates an App acting as the configured actor.
// The caller must defer a.Close().
func newApp(ctx context.Context, operation string) (*app.App, error) {
	cfg, err := readConfig()
	if err != nil {
		return nil, err
	}
	a, err := app.New(ctx, cfg, operation, session.StaticProvider{Value: app.ActorFromConfig(cfg.Actor)})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

// printRecord prints a record token, decoded unless --raw is set.
func printRecord(cmd *cobra.Command, a *app.App, token string) error {
	if raw, _ := cmd.Flags().GetBool("raw"); raw {
		fmt.Println(token)
		return nil
	}
	res, err := registry.DecodeRecord(a.Codec(), token)
	if err != nil {
		return err
	}
	return printJSON(res)
}

func parseFields(arg string) (map[string]any, error) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(arg), &fields); err != nil || fields == nil {
		return nil, fmt.Errorf("fields must be a JSON object, e.g. '{\"name\":\"North Block\"}'")
	}
	return fields, nil
}

func readPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

var rootCmd = &cobra.Command{
	Use:   "agrireg",
	Short: "Agricultural entity registry",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		hostID := uuid.New().String()
		cfg := config.NewConfig(hostID, defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Host ID: %s\n", hostID)
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}
		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Host ID:   %s\n", cfg.HostID)
		fmt.Printf("Base Dir:  %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:   %s\n", cfg.LogDir)
		fmt.Printf("Database:  %s\n", cfg.Database.Type)
		fmt.Printf("Sequence:  %s\n", cfg.Sequence.Strategy)
		fmt.Printf("Archive:   %t (vault %s)\n", cfg.Audit.Archive, cfg.Audit.Vault.Type)
		fmt.Printf("Listen:    %s\n", cfg.Server.Addr)
		fmt.Printf("Actor:     %s (%s)\n", cfg.Actor.Name, cfg.Actor.Role)
		return nil
	},
}

// db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the registry database",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}
		store, err := app.OpenStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.MigrateUp(); err != nil {
			return err
		}
		fmt.Println("Database is up to date.")
		return nil
	},
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}
		store, err := app.OpenStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.CheckMigrations(); err != nil {
			return err
		}
		fmt.Println("Database is up to date.")
		return nil
	},
}

var dbSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}
		store, err := app.OpenStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		schema, err := store.DumpSchema(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Print(schema)
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage signing and archive keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the archive key pair and envelope secret",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}

		pass, err := readPassphrase("Archive passphrase: ")
		if err != nil {
			return err
		}
		confirm, err := readPassphrase("Confirm passphrase: ")
		if err != nil {
			return err
		}
		if pass != confirm {
			return fmt.Errorf("passphrases do not match")
		}

		pk, err := app.InitKeys(cfg, pass)
		if err != nil {
			return err
		}
		if pk != "" {
			fmt.Printf("Archive public key: %s\n", pk)
		}
		fmt.Printf("Envelope secret: %s\n", cfg.Envelope.SecretPath)
		return nil
	},
}

// record commands
var listCmd = &cobra.Command{
	Use:   "list ENTITY",
	Short: "List records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, _ := cmd.Flags().GetInt("page")
		size, _ := cmd.Flags().GetInt("size")
		filters, _ := cmd.Flags().GetString("filter")
		scope, _ := cmd.Flags().GetString("scope")
		raw, _ := cmd.Flags().GetBool("raw")

		a, err := newApp(cmd.Context(), "List")
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())

		token, err := a.List(cmd.Context(), args[0], registry.ListRequest{
			Page:       page.Request{Index: index, Size: size},
			Filters:    filters,
			ScopeToken: scope,
		})
		if err != nil {
			return err
		}
		if raw {
			fmt.Println(token)
			return nil
		}
		res, err := registry.DecodeList(a.Codec(), token)
		if err != nil {
			return err
		}
		for _, w := range res.Warnings {
			fmt.Fprintf(os.Stderr, "warning: %s\n", w)
		}
		return printJSON(res)
	},
}

var getCmd = &cobra.Command{
	Use:   "get ENTITY UUID",
	Short: "Show one record",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Get")
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())

		token, err := a.Get(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		return printRecord(cmd, a, token)
	},
}

var createCmd = &cobra.Command{
	Use:   "create ENTITY FIELDS_JSON",
	Short: "Create a record",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		fields, err := parseFields(args[1])
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), "Create")
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())

		token, err := a.Create(cmd.Context(), args[0], fields)
		if err != nil {
			return err
		}
		return printRecord(cmd, a, token)
	},
}

var updateCmd = &cobra.Command{
	Use:   "update ENTITY UUID FIELDS_JSON",
	Short: "Update a record",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		fields, err := parseFields(args[2])
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), "Update")
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())

		token, err := a.Update(cmd.Context(), args[0], args[1], fields)
		if err != nil {
			return err
		}
		return printRecord(cmd, a, token)
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete ENTITY UUID",
	Short: "Soft-delete a record",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Delete")
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())

		token, err := a.Delete(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		return printRecord(cmd, a, token)
	},
}

var scopeCmd = &cobra.Command{
	Use:   "scope KIND UUID",
	Short: "Mint a scoping token for a company or farm",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "MintScope")
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())

		token, err := a.MintScope(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

// token command
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Work with signed tokens",
}

var tokenVerifyCmd = &cobra.Command{
	Use:   "verify TOKEN",
	Short: "Verify a token and print its payload",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "VerifyToken")
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())

		env, err := a.VerifyToken(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Kind:      %s\n", env.Kind)
		fmt.Printf("Version:   %d\n", env.Version)
		fmt.Printf("Issued at: %s\n", env.IssuedAt.UTC().Format("2006-01-02 15:04:05"))
		var payload any
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return err
		}
		return printJSON(payload)
	},
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue an API session token for the configured actor",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}
		actor := app.ActorFromConfig(cfg.Actor)
		a, err := app.New(cmd.Context(), cfg, "IssueSession", session.StaticProvider{Value: actor})
		if err != nil {
			return fmt.Errorf("initializing app: %w", err)
		}
		defer a.Close(cmd.Context())

		token, err := a.IssueSession(actor)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

// audit command
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the audit archive",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived audit segments",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "AuditList")
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())

		keys, err := a.AuditSegments(cmd.Context())
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			fmt.Println("No archived segments.")
			return nil
		}
		for _, k := range keys {
			fmt.Println(k)
		}
		return nil
	},
}

var auditFetchCmd = &cobra.Command{
	Use:   "fetch KEY",
	Short: "Decrypt and print an archived audit segment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "AuditFetch")
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())

		pass, err := readPassphrase("Archive passphrase: ")
		if err != nil {
			return err
		}
		entries, err := a.FetchAudit(cmd.Context(), pass, args[0])
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Printf("%s  %-6s  %-10s  %s  by %s\n",
				e.Timestamp.Format("2006-01-02 15:04:05"), e.Type, e.EntityName, e.EntityUUID, e.Actor.Name)
		}
		return nil
	},
}

// serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, err := readConfig()
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Server.Addr = addr
		}

		a, err := app.New(ctx, cfg, "Serve", session.ContextProvider{})
		if err != nil {
			return fmt.Errorf("initializing app: %w", err)
		}
		defer a.Close(context.WithoutCancel(ctx))

		return a.Serve(ctx)
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// db subcommands
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbStatusCmd)
	dbCmd.AddCommand(dbSchemaCmd)

	keysCmd.AddCommand(keysInitCmd)

	tokenCmd.AddCommand(tokenVerifyCmd)
	tokenCmd.AddCommand(tokenIssueCmd)

	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditFetchCmd)

	// record commands
	listCmd.Flags().IntP("page", "p", 0, "Zero-based page index")
	listCmd.Flags().IntP("size", "n", 25, "Page size")
	listCmd.Flags().StringP("filter", "f", "", `Filter specification, e.g. '[{"field":"name","value":"north"}]'`)
	listCmd.Flags().String("scope", "", "Scoping token from 'agrireg scope'")
	for _, c := range []*cobra.Command{listCmd, getCmd, createCmd, updateCmd, deleteCmd} {
		c.Flags().Bool("raw", false, "Print the signed token instead of its payload")
	}

	serveCmd.Flags().String("addr", "", "Listen address (overrides server.addr)")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(scopeCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(serveCmd)
}
