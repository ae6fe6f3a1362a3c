package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/url"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/go-authgate/lease-cli/internal/authflow"
	"github.com/go-authgate/lease-cli/internal/leasing"
	"github.com/go-authgate/lease-cli/internal/state"
	"github.com/go-authgate/lease-cli/tui"
)

var errNotSignedIn = errors.New("not signed in, run `lease login` first")

// cli carries what every command shares: the resolved flags and the I/O
// streams. Results go to stdout, progress to the Displayer.
type cli struct {
	flags   *flagValues
	display tui.Displayer
	stdout  io.Writer
	stdin   io.Reader
	stderr  io.Writer
}

func newRootCmd(d tui.Displayer, stdout io.Writer, stdin io.Reader, stderr io.Writer) *cobra.Command {
	c := &cli{
		flags:   &flagValues{},
		display: d,
		stdout:  stdout,
		stdin:   stdin,
		stderr:  stderr,
	}

	root := &cobra.Command{
		Use:           "lease",
		Short:         "Command-line client for the leasing admin API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	c.flags.register(root.PersistentFlags())
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetIn(stdin)

	products := resourceCmd(c, "products", "Manage products",
		func(s *leasing.Service) *leasing.Resource[leasing.Product] { return s.Products.Resource })
	products.AddCommand(c.uploadImageCmd())

	accounts := resourceCmd(c, "accounts", "Manage lease accounts",
		func(s *leasing.Service) *leasing.Resource[leasing.LeaseAccount] { return s.LeaseAccounts.Resource })
	accounts.AddCommand(c.uploadDocumentCmd(), c.accountInstallmentsCmd())

	installments := resourceCmd(c, "installments", "Manage installments",
		func(s *leasing.Service) *leasing.Resource[leasing.Installment] { return s.Installments.Resource })
	installments.AddCommand(c.payCmd())

	root.AddCommand(
		c.loginCmd(),
		c.logoutCmd(),
		c.whoamiCmd(),
		c.dashboardCmd(),
		c.layoutCmd(),
		c.downloadCmd(),
		resourceCmd(c, "companies", "Manage companies",
			func(s *leasing.Service) *leasing.Resource[leasing.Company] { return s.Companies }),
		resourceCmd(c, "users", "Manage users",
			func(s *leasing.Service) *leasing.Resource[leasing.User] { return s.Users }),
		products,
		accounts,
		installments,
	)
	return root
}

// withApp resolves config, builds the app for one command and tears it down
// afterwards. route is where the command "lives" for the login-route check.
func (c *cli) withApp(cmd *cobra.Command, route string, fn func(ctx context.Context, a *app) error) (err error) {
	cfg, err := loadConfig(c.flags)
	if err != nil {
		return err
	}
	if w := cfg.insecureWarning(); w != "" {
		fmt.Fprintln(c.stderr, w)
	}
	c.display.Banner(commandName(cmd))

	a, ctx, err := newApp(cmd.Context(), cfg, c.display, c.stderr, route)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	return interpret(ctx, fn(ctx, a))
}

// commandName is the command path without the binary name, e.g.
// "companies list".
func commandName(cmd *cobra.Command) string {
	return strings.TrimSpace(strings.TrimPrefix(cmd.CommandPath(), cmd.Root().Name()))
}

// routeOf maps a command to its location, e.g. "/companies/list".
func routeOf(cmd *cobra.Command) string {
	return "/" + strings.ReplaceAll(commandName(cmd), " ", "/")
}

func (c *cli) loginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if email == "" {
				return errors.New("--email is required")
			}
			if password == "" {
				p, err := readLine(c.stdin)
				if err != nil {
					return fmt.Errorf("failed to read password from stdin: %w", err)
				}
				password = p
			}
			if password == "" {
				return errors.New("password is required (--password or stdin)")
			}

			return c.withApp(cmd, authflow.DefaultLoginPath, func(ctx context.Context, a *app) error {
				a.display.Working("Signing in")
				profile, err := a.client.Login(ctx, email, password)
				if err != nil {
					return err
				}
				a.display.LoginOK(profile.Name, profile.Role)
				if err := printJSON(c.stdout, profile); err != nil {
					return err
				}
				a.display.Success("Signed in")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&password, "password", "", "Account password (read from stdin when empty)")
	return cmd
}

func (c *cli) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and clear the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, routeOf(cmd), func(ctx context.Context, a *app) error {
				a.display.Working("Signing out")
				if err := a.client.Logout(ctx); err != nil {
					return err
				}
				a.display.LogoutOK()
				a.display.Success("Signed out")
				return nil
			})
		},
	}
}

func (c *cli) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the stored user profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, routeOf(cmd), func(_ context.Context, a *app) error {
				if a.session.AccessToken() == "" {
					return errNotSignedIn
				}
				snap := a.state.Snapshot()
				out := struct {
					Profile any        `json:"profile"`
					Auth    state.Auth `json:"auth"`
				}{a.session.Profile(), snap.Auth}
				if err := printJSON(c.stdout, out); err != nil {
					return err
				}
				a.display.Success("Signed in as " + snap.Auth.UserName)
				return nil
			})
		},
	}
}

func (c *cli) dashboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Count every resource",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, routeOf(cmd), func(ctx context.Context, a *app) error {
				a.display.Working("Loading dashboard")
				counts, err := a.svc.Summary(ctx)
				if err != nil {
					return err
				}
				for _, name := range slices.Sorted(maps.Keys(counts)) {
					a.display.Loaded(name, counts[name])
				}
				if err := printJSON(c.stdout, counts); err != nil {
					return err
				}
				a.display.Success("Dashboard loaded")
				return nil
			})
		},
	}
}

func (c *cli) layoutCmd() *cobra.Command {
	var theme string
	var pageSize int
	var compact bool
	cmd := &cobra.Command{
		Use:   "layout",
		Short: "Show or change persisted layout preferences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if pageSize < 0 {
				return fmt.Errorf("--page-size must not be negative, got: %d", pageSize)
			}
			return c.withApp(cmd, routeOf(cmd), func(_ context.Context, a *app) error {
				layout := a.state.Snapshot().Layout
				changed := false
				if cmd.Flags().Changed("theme") {
					layout.Theme, changed = theme, true
				}
				if cmd.Flags().Changed("page-size") {
					layout.PageSize, changed = pageSize, true
				}
				if cmd.Flags().Changed("compact") {
					layout.Compact, changed = compact, true
				}
				if changed {
					if err := a.state.Dispatch(state.LayoutChanged{Layout: layout}); err != nil {
						return err
					}
				}
				if err := printJSON(c.stdout, layout); err != nil {
					return err
				}
				if changed {
					a.display.Success("Layout saved")
				} else {
					a.display.Success("Layout unchanged")
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&theme, "theme", "", "Color theme")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "Rows per page")
	cmd.Flags().BoolVar(&compact, "compact", false, "Compact rows")
	return cmd
}

func (c *cli) downloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "download <path> [filename]",
		Short: "Download a file into the download directory",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var filename string
			if len(args) == 2 {
				filename = args[1]
			}
			return c.withApp(cmd, routeOf(cmd), func(ctx context.Context, a *app) error {
				a.display.Working("Downloading " + args[0])
				p, err := a.client.Download(ctx, args[0], filename)
				if err != nil {
					return err
				}
				a.display.Saved(p)
				fmt.Fprintln(c.stdout, p)
				a.display.Success("Download complete")
				return nil
			})
		},
	}
}

func (c *cli) uploadDocumentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <id> <kind> <file>",
		Short: "Upload a lease account document (" + strings.Join(leasing.DocumentKinds, ", ") + ")",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, routeOf(cmd), func(ctx context.Context, a *app) error {
				a.display.Working("Uploading " + args[1])
				acct, err := a.svc.LeaseAccounts.UploadDocument(ctx, args[0], args[1], args[2])
				if err != nil {
					return err
				}
				return c.done(a, acct, "Document uploaded")
			})
		},
	}
}

func (c *cli) accountInstallmentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "installments <id>",
		Short: "List the installment schedule of a lease account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, routeOf(cmd), func(ctx context.Context, a *app) error {
				a.display.Working("Loading installments")
				items, err := a.svc.LeaseAccounts.Installments(ctx, args[0])
				if err != nil {
					return err
				}
				a.display.Loaded(leasing.NameInstallments, len(items))
				return c.done(a, items, fmt.Sprintf("%d installments", len(items)))
			})
		},
	}
}

func (c *cli) uploadImageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload-image <id> <file>",
		Short: "Upload a product image",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, routeOf(cmd), func(ctx context.Context, a *app) error {
				a.display.Working("Uploading image")
				p, err := a.svc.Products.UploadImage(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return c.done(a, p, "Image uploaded")
			})
		},
	}
}

func (c *cli) payCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pay <id> <amount>",
		Short: "Record a payment against an installment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := leasing.ParseAmount(args[1])
			if err != nil {
				return err
			}
			return c.withApp(cmd, routeOf(cmd), func(ctx context.Context, a *app) error {
				a.display.Working("Recording payment")
				inst, err := a.svc.Installments.Pay(ctx, args[0], amount)
				if err != nil {
					return err
				}
				return c.done(a, inst, "Payment recorded")
			})
		},
	}
}

// resourceCmd builds list/get/create/update/delete for one resource. pick
// selects the resource from the app's service.
func resourceCmd[T any](
	c *cli,
	use, short string,
	pick func(*leasing.Service) *leasing.Resource[T],
) *cobra.Command {
	parent := &cobra.Command{Use: use, Short: short}

	var query []string
	list := &cobra.Command{
		Use:   "list",
		Short: "List " + use,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q, err := parseQuery(query)
			if err != nil {
				return err
			}
			return c.withApp(cmd, routeOf(cmd), func(ctx context.Context, a *app) error {
				r := pick(a.svc)
				a.display.Working("Listing " + use)
				items, err := r.List(ctx, q)
				if err != nil {
					return err
				}
				a.display.Loaded(use, len(items))
				return c.done(a, items, fmt.Sprintf("%d %s", len(items), use))
			})
		},
	}
	list.Flags().StringArrayVarP(&query, "query", "q", nil, "Filter as key=value (repeatable)")

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one of " + use,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, routeOf(cmd), func(ctx context.Context, a *app) error {
				a.display.Working("Loading " + args[0])
				v, err := pick(a.svc).Get(ctx, args[0])
				if err != nil {
					return err
				}
				return c.done(a, v, "Loaded "+args[0])
			})
		},
	}

	var createData string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create one of " + use,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := readBody(createData, c.stdin)
			if err != nil {
				return err
			}
			return c.withApp(cmd, routeOf(cmd), func(ctx context.Context, a *app) error {
				a.display.Working("Creating")
				v, err := pick(a.svc).Create(ctx, body)
				if err != nil {
					return err
				}
				return c.done(a, v, "Created")
			})
		},
	}
	create.Flags().StringVarP(&createData, "data", "d", "", "JSON body, @file or - for stdin")

	var updateData string
	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Update one of " + use,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readBody(updateData, c.stdin)
			if err != nil {
				return err
			}
			return c.withApp(cmd, routeOf(cmd), func(ctx context.Context, a *app) error {
				a.display.Working("Updating " + args[0])
				v, err := pick(a.svc).Update(ctx, args[0], body)
				if err != nil {
					return err
				}
				return c.done(a, v, "Updated "+args[0])
			})
		},
	}
	update.Flags().StringVarP(&updateData, "data", "d", "", "JSON body, @file or - for stdin")

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete one of " + use,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, routeOf(cmd), func(ctx context.Context, a *app) error {
				a.display.Working("Deleting " + args[0])
				if err := pick(a.svc).Delete(ctx, args[0]); err != nil {
					return err
				}
				a.display.Success("Deleted " + args[0])
				return nil
			})
		},
	}

	parent.AddCommand(list, get, create, update, del)
	return parent
}

// done prints v as the command result and reports success.
func (c *cli) done(a *app, v any, text string) error {
	if err := printJSON(c.stdout, v); err != nil {
		return err
	}
	a.display.Success(text)
	return nil
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

// parseQuery turns repeated key=value pairs into url.Values.
func parseQuery(pairs []string) (url.Values, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	q := url.Values{}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid query %q (want key=value)", p)
		}
		q.Add(k, v)
	}
	return q, nil
}

// readBody returns the JSON body given inline, as @file or as - (stdin).
func readBody(data string, stdin io.Reader) (json.RawMessage, error) {
	var raw []byte
	switch {
	case data == "":
		return nil, errors.New("--data is required")
	case data == "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read body from stdin: %w", err)
		}
		raw = b
	case strings.HasPrefix(data, "@"):
		b, err := os.ReadFile(data[1:])
		if err != nil {
			return nil, fmt.Errorf("failed to read body: %w", err)
		}
		raw = b
	default:
		raw = []byte(data)
	}
	if !json.Valid(raw) {
		return nil, errors.New("--data is not valid JSON")
	}
	return json.RawMessage(raw), nil
}

func readLine(r io.Reader) (string, error) {
	if r == nil {
		return "", nil
	}
	s := bufio.NewScanner(r)
	if s.Scan() {
		return strings.TrimRight(s.Text(), "\r"), nil
	}
	return "", s.Err()
}
