// Package main is the entrypoint for the webshell-bridge (binary name "webshell" in Docker).
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"time"

	"github.com/morezero/webshell-bridge/internal/config"
	"github.com/morezero/webshell-bridge/internal/server"
	"github.com/morezero/webshell-bridge/pkg/db"
	"github.com/morezero/webshell-bridge/pkg/events"
	"github.com/morezero/webshell-bridge/pkg/loader"
	"github.com/morezero/webshell-bridge/pkg/store"
)

const usage = `Usage: webshell [command]
       webshell serve                  Start the bridge (NATS, HTTP, content session).
       webshell config show            Print the effective endpoint configuration.
       webshell config set-url <url>   Persist a new server URL.
       webshell config reset-url       Remove the persisted server URL; the default applies again.
       webshell config reset-token     Remove the persisted security token; the default applies again.
       webshell migrate up             Run database migrations (postgres store).
       webshell migrate status         Show migration status.
       webshell ensure-db [name]       Create database if missing (default name: webshell_test). Uses DATABASE_URL host/user.
       webshell clear                  Truncate persisted endpoint settings (postgres store); schema is preserved.

Commands:
  serve           (default) Start the webshell bridge.
  config          Inspect or change the endpoint settings in STORE_BACKEND.
  migrate up      Run database migrations only.
  migrate status  Show current migration status.
  ensure-db [name] Create database (e.g. webshell_test) on same host as DATABASE_URL; then run tests with that URL.
  clear           Truncate endpoint settings; schema preserved.

Environment: STORE_BACKEND (memory, badger, postgres), STORE_PATH, DATABASE_URL, MIGRATION_PATH,
DEFAULT_SERVER_URL, BRIDGE_HTTP_ADDR (default :8080). See README.
`

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
	}

	switch cmd {
	case "config":
		if len(args) < 2 {
			log.Fatalf("webshell config: require subcommand (show, set-url, reset-url, reset-token)")
		}
		if err := runConfig(os.Stdout, args[1], args[2:]); err != nil {
			log.Fatalf("webshell config %s: %v", args[1], err)
		}
		return
	case "migrate":
		if len(args) < 2 {
			log.Fatalf("webshell migrate: require subcommand (up, status)")
		}
		sub := args[1]
		switch sub {
		case "up":
			if err := runMigrateUp(); err != nil {
				log.Fatalf("webshell migrate up: %v", err)
			}
		case "status":
			if err := runMigrateStatus(); err != nil {
				log.Fatalf("webshell migrate status: %v", err)
			}
		default:
			log.Fatalf("webshell migrate: unknown subcommand %q (use up, status)", sub)
		}
		return
	case "clear":
		if err := runClear(); err != nil {
			log.Fatalf("webshell clear: %v", err)
		}
		return
	case "ensure-db":
		dbName := "webshell_test"
		if len(args) > 1 && args[1] != "" {
			dbName = args[1]
		}
		if err := runEnsureDB(dbName); err != nil {
			log.Fatalf("webshell ensure-db: %v", err)
		}
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "serve", "":
		// serve (explicit or default)
		break
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	if err := server.Run(); err != nil {
		log.Fatalf("webshell: %v", err)
	}
}

func runConfig(w io.Writer, sub string, rest []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForStore(); err != nil {
		return err
	}
	ctx := context.Background()
	backend, err := store.OpenBackend(ctx, cfg.StoreOptions())
	if err != nil {
		return fmt.Errorf("open settings store: %w", err)
	}
	st := store.New(backend, cfg.Defaults(), nil)
	defer st.Close()

	return configCommand(ctx, w, st, sub, rest)
}

// configCommand runs one config subcommand against st.
func configCommand(ctx context.Context, w io.Writer, st *store.Store, sub string, rest []string) error {
	switch sub {
	case "show":
		ep, err := st.Load(ctx)
		if err != nil {
			return err
		}
		token := "custom"
		if ep.SecurityToken == st.Defaults().SecurityToken {
			token = "built-in default"
		}
		fmt.Fprintf(w, "serverUrl:        %s\n", ep.ServerURL)
		fmt.Fprintf(w, "defaultServerUrl: %s\n", st.Defaults().ServerURL)
		fmt.Fprintf(w, "securityToken:    %s\n", token)
		return nil
	case "set-url":
		if len(rest) != 1 {
			return fmt.Errorf("require exactly one url")
		}
		if !loader.ValidEndpoint(rest[0]) {
			return fmt.Errorf("%q is not a valid address", rest[0])
		}
		return st.SetServerURL(ctx, rest[0], events.ReasonSet)
	case "reset-url":
		return st.ResetServerURL(ctx)
	case "reset-token":
		return st.ResetSecurityToken(ctx)
	default:
		return fmt.Errorf("unknown subcommand %q (use show, set-url, reset-url, reset-token)", sub)
	}
}

func runMigrateUp() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	migrations, err := db.LoadMigrationFiles(cfg.MigrationPath)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	if err := db.RunMigrations(ctx, pool, migrations); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func runMigrateStatus() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	return db.MigrationStatus(ctx, pool, os.Stdout, cfg.MigrationPath)
}

func runClear() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	removed, err := db.NewRepository(pool).Clear(ctx)
	if err != nil {
		return fmt.Errorf("clear settings: %w", err)
	}
	for _, s := range removed {
		fmt.Printf("Removed %s (set %s)\n", s.Key, s.Modified.Format(time.RFC3339))
	}
	fmt.Printf("%d settings cleared; built-in defaults apply.\n", len(removed))
	return nil
}

func runEnsureDB(dbName string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	u, err := url.Parse(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	// Replace path with target database name; query (e.g. sslmode) is kept on u.RawQuery.
	u.Path = "/" + dbName
	created, err := db.EnsureDatabase(context.Background(), u.String())
	if err != nil {
		return err
	}
	if created {
		fmt.Printf("Database %q created.\n", dbName)
	} else {
		fmt.Printf("Database %q already exists.\n", dbName)
	}
	return nil
}
