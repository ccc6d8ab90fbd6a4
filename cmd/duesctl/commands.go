package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"dues-service/internal/account"
	"dues-service/internal/app"
	"dues-service/internal/model"
	"dues-service/internal/tenancy"

	"github.com/spf13/cobra"
)

type builder func() (*app.App, error)

func newRootCmd(out io.Writer, build builder) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "duesctl",
		Short:         "Operator tool for dues-service tenants",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(out)

	rootCmd.AddCommand(
		listCmd(build),
		approveCmd(build),
		rejectCmd(build),
		transitionCmd(build, "activate", "Reactivate an inactive tenant", (*tenancy.Registry).Activate),
		transitionCmd(build, "deactivate", "Suspend an active tenant", (*tenancy.Registry).Deactivate),
		transitionCmd(build, "archive", "Soft-delete a tenant", (*tenancy.Registry).SoftDelete),
		transitionCmd(build, "restore", "Restore a soft-deleted tenant", (*tenancy.Registry).Restore),
		provisionCmd(build),
		createSystemUserCmd(build),
	)
	return rootCmd
}

// withApp builds the core, runs fn and closes everything afterwards
func withApp(cmd *cobra.Command, build builder, fn func(ctx context.Context, a *app.App) error) error {
	a, err := build()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	runErr := fn(ctx, a)

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Close(closeCtx); err != nil && runErr == nil {
		return err
	}
	return runErr
}

// lookup accepts either a tenant id or a slug
func lookup(ctx context.Context, r *tenancy.Registry, ref string) (*model.Tenant, error) {
	t, err := r.FindByID(ctx, ref)
	if errors.Is(err, tenancy.ErrTenantNotFound) {
		return r.FindBySlug(ctx, ref)
	}
	return t, err
}

func printTenant(w io.Writer, t *model.Tenant) {
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.ID, t.Slug, t.Name, t.Status)
}

func listCmd(build builder) *cobra.Command {
	var (
		statuses []string
		all      bool
		search   string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, build, func(ctx context.Context, a *app.App) error {
				f := tenancy.ListFilter{IncludeDeleted: all, Search: search}
				for _, s := range statuses {
					f.Statuses = append(f.Statuses, model.TenantStatus(s))
				}
				tenants, total, err := a.Registry.List(ctx, f)
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tSLUG\tNAME\tSTATUS")
				for i := range tenants {
					printTenant(w, &tenants[i])
				}
				if err := w.Flush(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d tenant(s)\n", total)
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "filter by status (pending, active, inactive, rejected, archived)")
	cmd.Flags().BoolVar(&all, "all", false, "include soft-deleted tenants")
	cmd.Flags().StringVar(&search, "search", "", "match name or slug")
	return cmd
}

func approveCmd(build builder) *cobra.Command {
	var by string
	cmd := &cobra.Command{
		Use:   "approve <id|slug>",
		Short: "Approve a pending tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, build, func(ctx context.Context, a *app.App) error {
				t, err := lookup(ctx, a.Registry, args[0])
				if err != nil {
					return err
				}
				if t, err = a.Registry.Approve(ctx, t.ID, by); err != nil {
					return err
				}
				if err := a.Provisioner.EnsureProvisioned(ctx, t); err != nil {
					return err
				}
				printTenant(cmd.OutOrStdout(), t)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&by, "by", "duesctl", "recorded as the approver")
	return cmd
}

func rejectCmd(build builder) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reject <id|slug>",
		Short: "Reject a pending tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, build, func(ctx context.Context, a *app.App) error {
				t, err := lookup(ctx, a.Registry, args[0])
				if err != nil {
					return err
				}
				if t, err = a.Registry.Reject(ctx, t.ID, reason); err != nil {
					return err
				}
				printTenant(cmd.OutOrStdout(), t)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "rejection reason shown to the tenant")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

type transition func(r *tenancy.Registry, ctx context.Context, id string) (*model.Tenant, error)

func transitionCmd(build builder, use, short string, apply transition) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id|slug>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, build, func(ctx context.Context, a *app.App) error {
				t, err := lookup(ctx, a.Registry, args[0])
				if err != nil {
					return err
				}
				if t, err = apply(a.Registry, ctx, t.ID); err != nil {
					return err
				}
				a.Pool.CloseHandle(t.StorageID)
				printTenant(cmd.OutOrStdout(), t)
				return nil
			})
		},
	}
}

func provisionCmd(build builder) *cobra.Command {
	return &cobra.Command{
		Use:   "provision <id|slug>",
		Short: "Create or repair a tenant's storage partition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, build, func(ctx context.Context, a *app.App) error {
				t, err := lookup(ctx, a.Registry, args[0])
				if err != nil {
					return err
				}
				a.Provisioner.Invalidate(t.StorageID)
				if err := a.Provisioner.EnsureProvisioned(ctx, t); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "provisioned %s (%s)\n", t.Slug, t.StorageID)
				return nil
			})
		},
	}
}

func createSystemUserCmd(build builder) *cobra.Command {
	var in account.NewUser
	cmd := &cobra.Command{
		Use:   "create-system-user",
		Short: "Create a platform operator account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, build, func(ctx context.Context, a *app.App) error {
				in.Role = model.RoleSystem
				in.TenantID = ""
				u, err := a.Users.Create(ctx, in)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s)\n", u.Username, u.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&in.Username, "username", "", "login name")
	cmd.Flags().StringVar(&in.Email, "email", "", "contact email")
	cmd.Flags().StringVar(&in.Password, "password", "", "initial password")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}
