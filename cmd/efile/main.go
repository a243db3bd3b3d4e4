package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"efileflow/internal/app"
	"efileflow/internal/config"
	"efileflow/internal/db"
	"efileflow/internal/domain"
	"efileflow/internal/engine"
	"efileflow/internal/engine/auth"
	"efileflow/internal/logging"
	"efileflow/internal/repo"
	"efileflow/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "efile",
	Short: "E-file routing CLI",
	Long: `efile routes government e-files between officers.
- A file starts with its creator and circulates inside the creator's team without a TAT clock.
- Marking it to anyone outside the team starts the turnaround-time (TAT) clock, which never resets.
- Some markings (escalations, the external tier) need the sender's e-signature first.
- The creator can only edit the file while it is within the team or after it is returned.`,
	SilenceUsage: true,
}

func main() {
	_ = godotenv.Load()
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("EFILE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "", "acting directory user id")
	flags.String("config", "", "routing policy file (default <workspace>/efile.yml)")
	flags.String("db-driver", "sqlite", "database driver: sqlite or postgres")
	flags.String("db-dsn", "", "postgres connection string")
	flags.String("log-level", "info", "log level")
	flags.String("log-format", "console", "log format: console or json")
	for _, name := range []string{"workspace", "json", "actor-id", "config", "db-driver", "db-dsn", "log-level", "log-format"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(teamCmd())
	rootCmd.AddCommand(roleCmd())
	rootCmd.AddCommand(fileCmd())
	rootCmd.AddCommand(markCmd())
	rootCmd.AddCommand(returnCmd())
	rootCmd.AddCommand(signCmd())
	rootCmd.AddCommand(revokeCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(tokenCmd())
}

func initCmd() *cobra.Command {
	var admin string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the workspace database and a default efile.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			path := config.Path(workspace)
			if _, err := os.Stat(path); os.IsNotExist(err) {
				if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
				fmt.Println("wrote", path)
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if admin != "" {
					if _, err := rt.Engine.GrantRole(ctx, admin, auth.RoleAdmin, actor()); err != nil {
						return err
					}
					fmt.Println("granted admin to", admin)
				}
				fmt.Println("workspace ready:", viper.GetString("workspace"))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&admin, "admin", "", "grant the admin role to this actor")
	return cmd
}

func roleCmd() *cobra.Command {
	role := &cobra.Command{Use: "role", Short: "Manage administrative roles (local operator, no RBAC checks)"}
	role.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List roles and their permissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				roles, err := e.ListRoles(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(roles)
				}
				tw := newTable("Role", "Description", "Permissions")
				for _, r := range roles {
					tw.AppendRow(table.Row{r.ID, r.Description, strings.Join(r.Permissions, ", ")})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	})
	role.AddCommand(&cobra.Command{
		Use:   "grant <actor-id> <role>",
		Short: "Grant a role to an actor",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := e.GrantRole(ctx, args[0], args[1], actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	})
	role.AddCommand(&cobra.Command{
		Use:   "revoke <actor-id> <role>",
		Short: "Revoke a role from an actor",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RevokeRole(ctx, args[0], args[1], actor())
			})
		},
	})
	return role
}

func userCmd() *cobra.Command {
	user := &cobra.Command{Use: "user", Short: "Manage the user directory"}
	user.AddCommand(userUpsertCmd())
	user.AddCommand(userListCmd())
	user.AddCommand(userShowCmd())
	return user
}

func userUpsertCmd() *cobra.Command {
	var id, name, role, dept string
	var inactive bool
	cmd := &cobra.Command{
		Use:   "upsert",
		Short: "Create or update a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.UpsertUser(ctx, domain.User{ID: id, Name: name, RoleCode: role, Department: dept, IsActive: !inactive}, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "user id")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&role, "role", "", "role code, e.g. XEN or SE")
	cmd.Flags().StringVar(&dept, "department", "", "department")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "mark user inactive")
	return cmd
}

func userListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				users, err := e.Repo.ListUsers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				tw := newTable("ID", "Name", "Role", "Department", "Active")
				for _, u := range users {
					tw.AppendRow(table.Row{u.ID, u.Name, u.RoleCode, u.Department, u.IsActive})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
}

func userShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <user-id>",
		Short: "Show a user and the manager they belong to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.Repo.GetUser(ctx, args[0])
				if err != nil {
					return err
				}
				mgr, err := e.GetManagerForUser(ctx, u.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"user": u, "manager": mgr})
			})
		},
	}
}

func teamCmd() *cobra.Command {
	team := &cobra.Command{Use: "team", Short: "Manage teams"}
	team.AddCommand(teamLinkCmd())
	team.AddCommand(teamUnlinkCmd())
	team.AddCommand(teamMembersCmd())
	return team
}

func teamLinkCmd() *cobra.Command {
	var manager, member, role string
	cmd := &cobra.Command{
		Use:   "link",
		Short: "Add a member to a manager's team",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rel, err := e.LinkTeamMember(ctx, manager, member, role, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(rel)
			})
		},
	}
	cmd.Flags().StringVar(&manager, "manager", "", "manager user id")
	cmd.Flags().StringVar(&member, "member", "", "member user id")
	cmd.Flags().StringVar(&role, "role", "ASSISTANT", "team role: AO, ASSISTANT or SE_ASSISTANT")
	return cmd
}

func teamUnlinkCmd() *cobra.Command {
	var manager, member string
	cmd := &cobra.Command{
		Use:   "unlink",
		Short: "Remove a member from a manager's team",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.UnlinkTeamMember(ctx, manager, member, actor())
			})
		},
	}
	cmd.Flags().StringVar(&manager, "manager", "", "manager user id")
	cmd.Flags().StringVar(&member, "member", "", "member user id")
	return cmd
}

func teamMembersCmd() *cobra.Command {
	var assistants, marking bool
	cmd := &cobra.Command{
		Use:   "members <manager-id>",
		Short: "List a manager's team",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				list := e.GetTeamMembers
				switch {
				case assistants:
					list = e.GetAssistantsForManager
				case marking:
					list = e.GetTeamMembersForMarking
				}
				members, err := list(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(members)
				}
				tw := newTable("User", "Name", "Role", "Team Role")
				for _, m := range members {
					tw.AppendRow(table.Row{m.UserID, m.Name, m.RoleCode, m.TeamRole})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&assistants, "assistants", false, "only assistants")
	cmd.Flags().BoolVar(&marking, "marking", false, "include the manager as creator, as offered when marking")
	return cmd
}

func fileCmd() *cobra.Command {
	file := &cobra.Command{Use: "file", Short: "Manage files"}
	file.AddCommand(fileCreateCmd())
	file.AddCommand(fileListCmd())
	file.AddCommand(fileShowCmd())
	file.AddCommand(fileHistoryCmd())
	file.AddCommand(filePermissionsCmd())
	file.AddCommand(fileCheckCmd())
	file.AddCommand(fileStartTATCmd())
	return file
}

func fileStartTATCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start-tat <file-id>",
		Short: "Start the TAT clock on a file you hold",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				st, err := e.StartFileTAT(ctx, engine.StartTATOptions{FileID: args[0], ActorID: actor()})
				if err != nil {
					return err
				}
				return printJSONOrTable(st)
			})
		},
	}
}

func fileCreateCmd() *cobra.Command {
	var id, number, subject, category, dept string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a file held by the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f, st, err := e.CreateFile(ctx, engine.CreateFileOptions{
					ID:         id,
					FileNumber: number,
					Subject:    subject,
					Category:   category,
					Department: dept,
					CreatorID:  actor(),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"file": f, "workflow": st})
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "file id (generated when empty)")
	cmd.Flags().StringVar(&number, "number", "", "file number")
	cmd.Flags().StringVar(&subject, "subject", "", "subject")
	cmd.Flags().StringVar(&category, "category", "", "category")
	cmd.Flags().StringVar(&dept, "department", "", "department")
	return cmd
}

func fileListCmd() *cobra.Command {
	var creator, assigned, status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List files",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				files, err := e.Repo.ListFiles(ctx, repo.FileFilters{CreatorID: creator, AssignedTo: assigned, Status: status, Limit: limit})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(files)
				}
				tw := newTable("ID", "Number", "Subject", "Creator", "With", "Status")
				for _, f := range files {
					with := ""
					if f.AssignedTo != nil {
						with = *f.AssignedTo
					}
					tw.AppendRow(table.Row{f.ID, f.FileNumber, f.Subject, f.CreatorID, with, f.Status})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&creator, "creator", "", "creator filter")
	cmd.Flags().StringVar(&assigned, "assigned-to", "", "holder filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "max files")
	return cmd
}

func fileShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <file-id>",
		Short: "Show a file and its workflow state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f, err := e.Repo.GetFile(ctx, args[0])
				if err != nil {
					return err
				}
				st, err := e.GetWorkflowState(ctx, f.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"file": f, "workflow": st})
			})
		},
	}
}

func fileHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <file-id>",
		Short: "Show the movement history of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				moves, err := e.ListMovements(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(moves)
				}
				tw := newTable("At", "Action", "From", "To", "State", "Remarks")
				for _, m := range moves {
					from := ""
					if m.FromUserID != nil {
						from = *m.FromUserID
					}
					tw.AppendRow(table.Row{m.CreatedAt, m.Action, from, m.ToUserID, m.ToState, m.Remarks})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
}

func filePermissionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "permissions <file-id>",
		Short: "Show what the acting user may do with a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				perms, err := e.Permissions(ctx, args[0], actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(perms)
			})
		},
	}
}

func fileCheckCmd() *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "check <file-id>",
		Short: "Check whether the acting user may mark a file to --to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				decision, err := e.CanMarkFileForward(ctx, args[0], actor(), to)
				if err != nil {
					return err
				}
				return printJSONOrTable(decision)
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "recipient user id")
	return cmd
}

func markCmd() *cobra.Command {
	var to, remarks string
	cmd := &cobra.Command{
		Use:   "mark <file-id>",
		Short: "Mark a file forward to another user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.MarkTo(ctx, engine.MarkOptions{FileID: args[0], ActorID: actor(), ToUserID: to, Remarks: remarks})
				var denied engine.DeniedError
				if errors.As(err, &denied) && denied.Decision.RequiresSignature {
					return fmt.Errorf("%w (run 'efile sign %s' first)", err, args[0])
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "recipient user id")
	cmd.Flags().StringVar(&remarks, "remarks", "", "remarks")
	return cmd
}

func returnCmd() *cobra.Command {
	var remarks string
	cmd := &cobra.Command{
		Use:   "return <file-id>",
		Short: "Return a file to its creator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				st, err := e.ReturnToCreator(ctx, engine.ReturnOptions{FileID: args[0], ActorID: actor(), Remarks: remarks})
				if err != nil {
					return err
				}
				return printJSONOrTable(st)
			})
		},
	}
	cmd.Flags().StringVar(&remarks, "remarks", "", "remarks")
	return cmd
}

func signCmd() *cobra.Command {
	var method, hash string
	cmd := &cobra.Command{
		Use:   "sign <file-id>",
		Short: "E-sign a file as the acting user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sig, err := e.Sign(ctx, engine.SignOptions{FileID: args[0], UserID: actor(), Method: method, ContentHash: hash})
				if err != nil {
					return err
				}
				return printJSONOrTable(sig)
			})
		},
	}
	cmd.Flags().StringVar(&method, "method", "drawn", "drawn, typed, otp or dsc")
	cmd.Flags().StringVar(&hash, "content-hash", "", "hash of the signed content")
	return cmd
}

func revokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <file-id>",
		Short: "Revoke the acting user's signatures on a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.RevokeSignature(ctx, args[0], actor())
				if err != nil {
					return err
				}
				fmt.Printf("revoked %d signature(s)\n", n)
				return nil
			})
		},
	}
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Audit event log",
	}
	log.AddCommand(logTailCmd())
	return log
}

func apiKeyCmd() *cobra.Command {
	keys := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	var name string
	create := &cobra.Command{
		Use:   "create <user-id>",
		Short: "Issue an API key for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				key, raw, err := e.CreateAPIKey(ctx, args[0], name, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"id": key.ID, "actor_id": key.ActorID, "name": key.Name, "key": raw})
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "key name")
	list := &cobra.Command{
		Use:   "list <user-id>",
		Short: "List a user's API keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListAPIKeys(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	keys.AddCommand(create, list)
	return keys
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Mint a bearer token signed with EFILE_JWT_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := server.SignToken(viper.GetString("jwt-secret"), args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}

// --- helpers ---

func actor() string {
	return viper.GetString("actor-id")
}

func newLogger() (*zap.Logger, error) {
	return logging.New(viper.GetString("log-level"), viper.GetString("log-format"))
}

func withRuntime(ctx context.Context, fn func(context.Context, *app.Runtime) error) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()
	rt, err := app.Open(app.Options{
		Workspace:  viper.GetString("workspace"),
		Driver:     viper.GetString("db-driver"),
		DSN:        viper.GetString("db-dsn"),
		ConfigPath: viper.GetString("config"),
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withRuntime(ctx, func(ctx context.Context, rt *app.Runtime) error {
		return fn(ctx, rt.Engine)
	})
}

func newTable(header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row(header))
	return tw
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
