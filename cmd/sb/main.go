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
	"golang.org/x/crypto/bcrypt"

	"switchboard/internal/config"
	"switchboard/internal/db"
	"switchboard/internal/domain"
	"switchboard/internal/engine"
	"switchboard/internal/hub"
	"switchboard/internal/migrate"
	"switchboard/internal/repo"
	"switchboard/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "sb",
	Short: "Switchboard CLI",
	Long: `Switchboard dispatches resources against jobs and keeps the two consistent.
- Jobs: units of dispatchable work; open until closed, commented throughout.
- Resources: dispatchable units with a service status and a location trail.
- Assignments: a resource works at most one job at a time; closing a job or
  pulling a resource out of service releases its assignments.
- Stream: 'sb serve' exposes the API plus a live event stream for boards.
- Event log: diary of every accepted change, view with 'sb log tail'.`,
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
	viper.SetEnvPrefix("SWITCHBOARD")
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
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(jobCmd())
	rootCmd.AddCommand(resourceCmd())
	rootCmd.AddCommand(assignCmd())
	rootCmd.AddCommand(unassignCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				fmt.Println("schema up to date")
				return nil
			})
		},
	}
}

func userCmd() *cobra.Command {
	user := &cobra.Command{Use: "user", Short: "Manage API users"}
	user.AddCommand(userAddCmd())
	user.AddCommand(userListCmd())
	return user
}

func userAddCmd() *cobra.Command {
	var email, password, displayName string
	var admin bool
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create an API user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" || password == "" || displayName == "" {
				return fmt.Errorf("--email, --password and --display-name required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				hash, err := bcrypt.GenerateFromPassword([]byte(password), e.Config.Auth.BcryptCost)
				if err != nil {
					return err
				}
				u := domain.User{
					ID:          uuid.New().String(),
					Email:       email,
					DisplayName: displayName,
					Password:    string(hash),
					CreatedAt:   time.Now().UTC().Format(time.RFC3339),
					Admin:       admin,
					Enabled:     true,
				}
				if err := e.Repo.InsertUser(ctx, u); err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "login email")
	cmd.Flags().StringVar(&password, "password", "", "password")
	cmd.Flags().StringVar(&displayName, "display-name", "", "display name")
	cmd.Flags().BoolVar(&admin, "admin", false, "grant admin")
	return cmd
}

func userListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List API users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				users, err := r.ListUsers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Email", "Display Name", "Admin", "Enabled"})
				for _, u := range users {
					tw.AppendRow(table.Row{u.ID, u.Email, u.DisplayName, u.Admin, u.Enabled})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func jobCmd() *cobra.Command {
	job := &cobra.Command{Use: "job", Short: "Manage jobs"}
	job.AddCommand(jobListCmd())
	job.AddCommand(jobShowCmd())
	job.AddCommand(jobCreateCmd())
	job.AddCommand(jobCommentCmd())
	job.AddCommand(jobCloseCmd())
	return job
}

func jobListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				jobs, err := r.ListJobs(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(jobs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Synopsis", "Location", "Created", "Closed"})
				for _, j := range jobs {
					closed := ""
					if j.ClosedAt != nil {
						closed = *j.ClosedAt
					}
					location := ""
					if j.Location != nil {
						location = *j.Location
					}
					tw.AppendRow(table.Row{j.ID, j.Synopsis, location, j.CreatedAt, closed})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func jobShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show a job with its comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				j, err := r.GetJob(ctx, args[0])
				if err != nil {
					return err
				}
				comments, err := r.ListComments(ctx, j.ID)
				if err != nil {
					return err
				}
				j.Comments = comments
				return printJSONOrTable(j)
			})
		},
	}
	return cmd
}

func jobCreateCmd() *cobra.Command {
	var synopsis, location, callerName, callerPhone string
	var comments []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a job",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				j, err := e.CreateJob(ctx, engine.JobCreateOptions{
					Synopsis:    synopsis,
					Location:    location,
					CallerName:  callerName,
					CallerPhone: callerPhone,
					Comments:    comments,
					ActorID:     viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	cmd.Flags().StringVar(&synopsis, "synopsis", "", "what is happening")
	cmd.Flags().StringVar(&location, "location", "", "where it is happening")
	cmd.Flags().StringVar(&callerName, "caller-name", "", "reporting party name")
	cmd.Flags().StringVar(&callerPhone, "caller-phone", "", "reporting party phone")
	cmd.Flags().StringArrayVar(&comments, "comment", nil, "initial comment (repeatable)")
	_ = cmd.MarkFlagRequired("synopsis")
	return cmd
}

func jobCommentCmd() *cobra.Command {
	var text string
	cmd := &cobra.Command{
		Use:   "comment <job-id>",
		Short: "Append a comment to a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.AddComment(ctx, args[0], text, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "comment text")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func jobCloseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "close <job-id>",
		Short: "Close a job and release its assignments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.CloseJob(ctx, args[0], viper.GetString("actor-id")); err != nil {
					return err
				}
				fmt.Println("closed", args[0])
				return nil
			})
		},
	}
	return cmd
}

func resourceCmd() *cobra.Command {
	res := &cobra.Command{Use: "resource", Short: "Manage resources"}
	res.AddCommand(resourceListCmd())
	res.AddCommand(resourceCreateCmd())
	res.AddCommand(resourceInServiceCmd())
	res.AddCommand(resourceLocationCmd())
	return res
}

func resourceListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List resources with assignment state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				resources, err := e.ListResources(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(resources)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "In Service", "Assigned Job", "Last Seen"})
				for _, r := range resources {
					job := ""
					if r.Assignment != nil {
						job = r.Assignment.JobID
					}
					seen := ""
					if r.LastLocation != nil {
						seen = fmt.Sprintf("%.5f,%.5f @ %s", r.LastLocation.Lat, r.LastLocation.Lon, r.LastLocation.RecordedAt)
					}
					tw.AppendRow(table.Row{r.ID, r.DisplayName, r.InService, job, seen})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func resourceCreateCmd() *cobra.Command {
	var name, comment string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a resource",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r, err := e.CreateResource(ctx, name, comment, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&comment, "comment", "", "free-form note")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func resourceInServiceCmd() *cobra.Command {
	var inService bool
	cmd := &cobra.Command{
		Use:   "inservice <resource-id>",
		Short: "Set resource service status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.SetResourceServiceStatus(ctx, args[0], inService, viper.GetString("actor-id")); err != nil {
					return err
				}
				fmt.Printf("%s in_service=%v\n", args[0], inService)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&inService, "in-service", true, "service status")
	return cmd
}

func resourceLocationCmd() *cobra.Command {
	var lat, lon float64
	cmd := &cobra.Command{
		Use:   "locate <resource-id>",
		Short: "Record a resource location",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.SetResourceLocation(ctx, args[0], lat, lon, viper.GetString("actor-id")); err != nil {
					return err
				}
				fmt.Printf("%s at %.5f,%.5f\n", args[0], lat, lon)
				return nil
			})
		},
	}
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&lon, "lon", 0, "longitude")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lon")
	return cmd
}

func assignCmd() *cobra.Command {
	var jobID, resourceID string
	cmd := &cobra.Command{
		Use:   "assign",
		Short: "Assign a resource to a job",
		RunE: func(cmd *cobra.Command, args []string) error {
			if jobID == "" || resourceID == "" {
				return fmt.Errorf("--job and --resource required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.CreateAssignment(ctx, jobID, resourceID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&jobID, "job", "", "job id")
	cmd.Flags().StringVar(&resourceID, "resource", "", "resource id")
	return cmd
}

func unassignCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unassign <assignment-id>",
		Short: "Remove an active assignment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.RemoveAssignment(ctx, args[0], viper.GetString("actor-id")); err != nil {
					return err
				}
				fmt.Println("removed", args[0])
				return nil
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: jobs, comments, resources and assignments.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"At", "Type", "Entity", "Actor"})
				for _, ev := range events {
					tw.AppendRow(table.Row{ev.TS, ev.Type, ev.EntityKind + "/" + ev.EntityID, ev.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") || cfg.Server.Addr == "" {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("base-path") || cfg.Server.BasePath == "" {
				cfg.Server.BasePath = basePath
			}
			authCfg := server.AuthConfig{
				JWTSecret: os.Getenv("SWITCHBOARD_JWT_SECRET"),
				TokenTTL:  time.Duration(cfg.Auth.TokenTTLHours) * time.Hour,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("SWITCHBOARD_JWT_SECRET is required for bearer auth")
			}
			h := hub.New(cfg.Stream.Backlog)
			defer h.Close()
			e := engine.New(conn, h, cfg)
			handler, err := server.New(server.Config{Engine: e, Hub: h, BasePath: cfg.Server.BasePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Switchboard API on http://%s%s (OpenAPI at /openapi.json, stream at %s/stream)\n", cfg.Server.Addr, cfg.Server.BasePath, cfg.Server.BasePath)
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

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	e := engine.New(conn, nil, cfg)
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

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
