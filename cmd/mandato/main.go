package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"mandato/internal/app"
	"mandato/internal/config"
	"mandato/internal/db"
	"mandato/internal/domain"
	"mandato/internal/engine"
	"mandato/internal/migrate"
	"mandato/internal/repo"
	"mandato/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "mandato",
	Short: "Mandato CLI",
	Long: `Mandato manages property management mandates between owners and agencies.
Core concepts:
- Workspace: the .mandato directory holding the database; config lives in the DB and is imported explicitly.
- Mandate: the agreement delegating one property (or the whole portfolio) to an agency, with a commission rate, dates and capabilities.
- Lifecycle: pending -> active (accept) with suspended as a pause state; expired and cancelled are exits.
- Permissions: the capability set the owner grants the agency; editable on active mandates only.
- Signatures: owner and agency each sign once; signing is independent of the lifecycle.
- Event log: diary of changes, view with 'mandato log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("MANDATO")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(mandateCmd())
	rootCmd.AddCommand(propertyCmd())
	rootCmd.AddCommand(profileCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func mandateCmd() *cobra.Command {
	m := &cobra.Command{Use: "mandate", Short: "Manage mandates"}
	m.AddCommand(mandateCreateCmd())
	for _, action := range []domain.Action{
		domain.ActionAccept,
		domain.ActionRefuse,
		domain.ActionSuspend,
		domain.ActionReactivate,
		domain.ActionTerminate,
		domain.ActionExpire,
	} {
		m.AddCommand(mandateActionCmd(action))
	}
	m.AddCommand(mandateSignCmd())
	m.AddCommand(mandatePermissionsCmd())
	m.AddCommand(mandateAttachCmd())
	m.AddCommand(mandateNotesCmd())
	m.AddCommand(mandateListCmd())
	m.AddCommand(mandateShowCmd())
	m.AddCommand(mandateKanbanCmd())
	m.AddCommand(mandateKPIsCmd())
	return m
}

func mandateCreateCmd() *cobra.Command {
	var agencyID, startDate, endDate, notes string
	var properties []string
	var rate float64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Invite an agency over one or more properties",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actorID := viper.GetString("actor-id")
				mandates, err := e.CreateBatch(ctx, engine.BatchCreateOptions{
					OwnerID:        actorID,
					AgencyID:       agencyID,
					PropertyIDs:    properties,
					CommissionRate: rate,
					StartDate:      startDate,
					EndDate:        endDate,
					Notes:          notes,
					ActorID:        actorID,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(mandates)
			})
		},
	}
	cmd.Flags().StringVar(&agencyID, "agency", "", "agency profile id")
	cmd.Flags().StringSliceVar(&properties, "property", nil, "property id (repeatable, empty = whole portfolio)")
	cmd.Flags().Float64Var(&rate, "rate", 0, "commission rate percent")
	cmd.Flags().StringVar(&startDate, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&endDate, "end", "", "end date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&notes, "notes", "", "free-form notes")
	_ = cmd.MarkFlagRequired("agency")
	_ = cmd.MarkFlagRequired("start")
	return cmd
}

func mandateActionCmd(action domain.Action) *cobra.Command {
	return &cobra.Command{
		Use:   fmt.Sprintf("%s <mandate-id>", action),
		Short: fmt.Sprintf("%s a mandate", capitalize(string(action))),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.Transition(ctx, args[0], action, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
}

func mandateSignCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sign <mandate-id>",
		Short: "Record the actor's signature",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.RecordSignature(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
}

func mandatePermissionsCmd() *cobra.Command {
	var grant, revoke []string
	cmd := &cobra.Command{
		Use:   "permissions <mandate-id>",
		Short: "Merge a permission update into an active mandate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(grant) == 0 && len(revoke) == 0 {
				return fmt.Errorf("--grant or --revoke required")
			}
			partial := map[string]bool{}
			for _, key := range grant {
				partial[key] = true
			}
			for _, key := range revoke {
				partial[key] = false
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.UpdatePermissions(ctx, args[0], viper.GetString("actor-id"), partial)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringSliceVar(&grant, "grant", nil, "permission key to grant (repeatable)")
	cmd.Flags().StringSliceVar(&revoke, "revoke", nil, "permission key to revoke (repeatable)")
	cmd.AddCommand(permissionCatalogCmd())
	return cmd
}

func permissionCatalogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "Show the capability catalog by group",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if viper.GetBool("json") {
					return printJSON(domain.PermissionGroups)
				}
				defaults := e.Config.DefaultGrant()
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Group", "Capability", "Default"})
				for _, g := range domain.PermissionGroups {
					for _, key := range g.Keys {
						granted, _ := defaults.Get(key)
						tw.AppendRow(table.Row{g.Name, key, granted})
					}
				}
				tw.Render()
				return nil
			})
		},
	}
}

func mandateAttachCmd() *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "attach <mandate-id>",
		Short: "Attach the signed mandate document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.AttachSignedDocument(ctx, args[0], viper.GetString("actor-id"), url)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "document URL")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func mandateNotesCmd() *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "notes <mandate-id>",
		Short: "Update mandate notes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.UpdateNotes(ctx, args[0], viper.GetString("actor-id"), notes)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "notes text")
	_ = cmd.MarkFlagRequired("notes")
	return cmd
}

func mandateListCmd() *cobra.Command {
	var status, search, sortBy string
	var desc bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List mandates visible to the actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				views, err := e.Query(ctx, viper.GetString("actor-id"), engine.QueryOptions{
					Status: domain.MandateStatus(status),
					Search: search,
					SortBy: engine.SortKey(sortBy),
					Desc:   desc,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(views)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Scope", "Counterparty", "Status", "Signatures", "Rate", "Commission"})
				for _, v := range views {
					scope := v.PropertyTitle
					if v.AllProperties() {
						scope = fmt.Sprintf("all properties (%d)", v.PropertyCount)
					}
					tw.AppendRow(table.Row{
						v.ID,
						scope,
						v.CounterpartyName,
						v.EffectiveStatus,
						v.SignatureState,
						fmt.Sprintf("%.2f%%", v.CommissionRate),
						v.MonthlyCommission,
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&search, "search", "", "search in property, city, counterparty or id")
	cmd.Flags().StringVar(&sortBy, "sort", "", "sort key (created_at, start_date, property_title, commission_rate, counterparty)")
	cmd.Flags().BoolVar(&desc, "desc", false, "sort descending")
	return cmd
}

func mandateShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <mandate-id>",
		Short: "Show a mandate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.GetMandate(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
}

func mandateKanbanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kanban",
		Short: "Mandates grouped by effective status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				columns, err := e.Kanban(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(columns)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Status", "ID", "Scope", "Counterparty", "Signatures"})
				for _, status := range domain.Statuses {
					for _, v := range columns[status] {
						scope := v.PropertyTitle
						if v.AllProperties() {
							scope = fmt.Sprintf("all properties (%d)", v.PropertyCount)
						}
						tw.AppendRow(table.Row{status, v.ID, scope, v.CounterpartyName, v.SignatureState})
					}
				}
				tw.Render()
				return nil
			})
		},
	}
}

func mandateKPIsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kpis",
		Short: "Mandate dashboard counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				kpis, err := e.KPIsFor(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(kpis)
			})
		},
	}
}

func propertyCmd() *cobra.Command {
	p := &cobra.Command{Use: "property", Short: "Manage reference properties"}
	p.AddCommand(propertyAddCmd())
	p.AddCommand(propertyListCmd())
	p.AddCommand(propertySetRentCmd())
	return p
}

func propertyAddCmd() *cobra.Command {
	var id, ownerID, title, city string
	var rent float64
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a property",
		RunE: func(cmd *cobra.Command, args []string) error {
			if title == "" {
				return fmt.Errorf("--title required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if id == "" {
					id = uuid.NewString()
				}
				if ownerID == "" {
					ownerID = viper.GetString("actor-id")
				}
				p := domain.Property{
					ID:        id,
					OwnerID:   ownerID,
					Title:     title,
					City:      city,
					Rent:      rent,
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertProperty(ctx, p); err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "property id (generated when empty)")
	cmd.Flags().StringVar(&ownerID, "owner", "", "owner profile id (defaults to actor)")
	cmd.Flags().StringVar(&title, "title", "", "property title")
	cmd.Flags().StringVar(&city, "city", "", "city")
	cmd.Flags().Float64Var(&rent, "rent", 0, "monthly rent")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func propertyListCmd() *cobra.Command {
	var ownerID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List properties",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if ownerID == "" {
					ownerID = viper.GetString("actor-id")
				}
				props, err := r.ListProperties(ctx, ownerID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(props)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "City", "Rent"})
				for _, p := range props {
					tw.AppendRow(table.Row{p.ID, p.Title, p.City, fmt.Sprintf("%.2f", p.Rent)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&ownerID, "owner", "", "owner profile id (defaults to actor)")
	return cmd
}

func propertySetRentCmd() *cobra.Command {
	var rent float64
	cmd := &cobra.Command{
		Use:   "set-rent <property-id>",
		Short: "Update a property's monthly rent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.UpdatePropertyRent(ctx, args[0], rent); err != nil {
					return err
				}
				p, err := r.GetProperty(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().Float64Var(&rent, "rent", 0, "monthly rent")
	_ = cmd.MarkFlagRequired("rent")
	return cmd
}

func profileCmd() *cobra.Command {
	p := &cobra.Command{Use: "profile", Short: "Manage owner and agency profiles"}
	p.AddCommand(profileAddCmd())
	p.AddCommand(profileListCmd())
	return p
}

func profileAddCmd() *cobra.Command {
	var id, kind, name string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			if kind != "owner" && kind != "agency" {
				return fmt.Errorf("--kind must be owner or agency")
			}
			if name == "" {
				return fmt.Errorf("--name required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if id == "" {
					id = uuid.NewString()
				}
				p := domain.Profile{
					ID:          id,
					Kind:        kind,
					DisplayName: name,
					CreatedAt:   time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertProfile(ctx, p); err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "profile id (generated when empty)")
	cmd.Flags().StringVar(&kind, "kind", "", "owner or agency")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func profileListCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				profiles, err := r.ListProfiles(ctx, kind)
				if err != nil {
					return err
				}
				return printJSONOrTable(profiles)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "owner or agency")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect engine config",
		Long:  "Config is the rulebook (stored in DB): KPI windows, commission bounds and the permission catalog with the default grant. Import from mandato.yml if desired.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configImportCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the stored config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				cfg, err := app.ResolveConfig(ctx, r)
				if err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
}

func configInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Print the default config template",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Print(config.GenerateDefault())
			return nil
		},
	}
}

func configImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import config from a YAML file into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(file)
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.UpsertConfig(ctx, cfg); err != nil {
					return err
				}
				fmt.Println("config imported")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "mandato.yml", "config file path")
	return cmd
}

func configValidateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.FromFile(file); err != nil {
				return err
			}
			fmt.Println("config is valid")
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "mandato.yml", "config file path")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: lifecycle actions, permission updates, signatures.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func apikeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	k.AddCommand(apikeyCreateCmd())
	k.AddCommand(apikeyListCmd())
	k.AddCommand(apikeyDeleteCmd())
	return k
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Mint an API key for the actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				plaintext := "mk_" + strings.ReplaceAll(uuid.NewString(), "-", "")
				key := domain.APIKey{
					ID:        uuid.NewString(),
					ActorID:   viper.GetString("actor-id"),
					Name:      name,
					KeyHash:   repo.HashAPIKey(plaintext),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				fmt.Println("key:", plaintext)
				fmt.Println("id:", key.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the actor's API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
}

func apikeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.DeleteAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("deleted")
				return nil
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			e, conn, err := app.OpenEngine(cmd.Context(), workspace)
			if err != nil {
				return err
			}
			defer conn.Close()
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("MANDATO_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("MANDATO_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Mandato API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	e, conn, err := app.OpenEngine(ctx, workspace)
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
