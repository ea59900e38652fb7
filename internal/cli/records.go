package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/wallet/internal/lifecycle"
	"github.com/roach88/wallet/internal/resource"
)

// RecordOptions holds flags for commands that write a record.
type RecordOptions struct {
	*RootOptions
	Fields  string
	Default bool
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list <owner> <kind>",
		Short: "List an owner's records of one kind, default first",
		Example: `  wallet list owner-1 address
  wallet list owner-1 payment_instrument --format json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, rootOpts, args[0], func(ctx context.Context, a *app, f *OutputFormatter) error {
				kind, err := resource.ParseKind(args[1])
				if err != nil {
					return err
				}
				records, err := a.svc.List(ctx, args[0], kind)
				if err != nil {
					return err
				}
				if records == nil {
					records = []resource.Record{}
				}
				return outputRecords(f, records)
			})
		},
	}
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <owner> <id>",
		Short: "Show one record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, rootOpts, args[0], func(ctx context.Context, a *app, f *OutputFormatter) error {
				rec, err := a.svc.Get(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return outputRecord(f, rec)
			})
		},
	}
}

// NewDefaultCommand creates the default command.
func NewDefaultCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "default <owner> <kind>",
		Short: "Show the default record of a kind",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, rootOpts, args[0], func(ctx context.Context, a *app, f *OutputFormatter) error {
				kind, err := resource.ParseKind(args[1])
				if err != nil {
					return err
				}
				rec, err := a.svc.GetDefault(ctx, args[0], kind)
				if err != nil {
					return err
				}
				return outputRecord(f, rec)
			})
		},
	}
}

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecordOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "create <owner> <kind>",
		Short: "Create a record",
		Long: `Create a record. The first record of a kind always becomes the default;
--default promotes the new record over an existing default.

--fields takes a JSON or YAML object. Quote values with leading zeros.`,
		Example: `  wallet create owner-1 address --fields '{"street":"Rua X","number":"10","neighborhood":"Centro","city":"São Paulo","state":"SP","postalCode":"01310100"}'
  wallet create owner-1 payment_instrument --default --fields '{brand: visa, last4: "4242", holderName: Maria Silva, expiry: "12/29", gatewayToken: tok_1}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := parseFields(opts.Fields)
			if err != nil {
				return err
			}
			return withService(cmd, rootOpts, args[0], func(ctx context.Context, a *app, f *OutputFormatter) error {
				kind, err := resource.ParseKind(args[1])
				if err != nil {
					return err
				}
				rec, err := a.svc.Create(ctx, args[0], lifecycle.CreateInput{
					Kind:      kind,
					Fields:    fields,
					IsDefault: opts.Default,
				})
				if err != nil {
					return err
				}
				return outputRecord(f, rec)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Fields, "fields", "", "record fields as a JSON or YAML object (required)")
	cmd.Flags().BoolVar(&opts.Default, "default", false, "make the new record the default")
	_ = cmd.MarkFlagRequired("fields")

	return cmd
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecordOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "update <owner> <id>",
		Short: "Patch a record's fields and optionally make it the default",
		Long: `Patch a record. Only the given fields change; a null value removes an
optional field. --default promotes the record in the same write.`,
		Example: `  wallet update owner-1 0193... --fields '{"complement":"apto 12"}'
  wallet update owner-1 0193... --default`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var fields map[string]any
			if opts.Fields != "" {
				var err error
				if fields, err = parseFields(opts.Fields); err != nil {
					return err
				}
			}
			in := lifecycle.UpdateInput{Fields: fields}
			if opts.Default {
				promote := true
				in.IsDefault = &promote
			}
			return withService(cmd, rootOpts, args[0], func(ctx context.Context, a *app, f *OutputFormatter) error {
				rec, err := a.svc.Update(ctx, args[0], args[1], in)
				if err != nil {
					return err
				}
				return outputRecord(f, rec)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Fields, "fields", "", "fields to change as a JSON or YAML object")
	cmd.Flags().BoolVar(&opts.Default, "default", false, "make the record the default")

	return cmd
}

// NewSetDefaultCommand creates the set-default command.
func NewSetDefaultCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set-default <owner> <id>",
		Short: "Make a record the default of its kind",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, rootOpts, args[0], func(ctx context.Context, a *app, f *OutputFormatter) error {
				rec, err := a.svc.SetDefault(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return outputRecord(f, rec)
			})
		},
	}
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <owner> <id>",
		Short: "Delete a record that is not the default",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, rootOpts, args[0], func(ctx context.Context, a *app, f *OutputFormatter) error {
				if err := a.svc.Delete(ctx, args[0], args[1]); err != nil {
					return err
				}
				if f.Format == "json" {
					return f.Success(map[string]string{"deleted": args[1]})
				}
				return f.Success("Deleted " + args[1])
			})
		},
	}
}

// withService opens the app, runs fn as owner and renders wallet errors.
// An empty owner runs without a security context.
func withService(cmd *cobra.Command, opts *RootOptions, owner string, fn func(ctx context.Context, a *app, f *OutputFormatter) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := openApp(ctx, opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			a.logger.Error("error closing store", "error", closeErr)
		}
	}()

	if owner != "" {
		ctx = lifecycle.WithSecurityContext(ctx, lifecycle.SecurityContext{OwnerID: owner})
	}

	f := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	if err := fn(ctx, a, f); err != nil {
		return outputServiceError(f, err)
	}
	return nil
}

// parseFields decodes a JSON or YAML object. JSON is valid YAML.
func parseFields(s string) (map[string]any, error) {
	if strings.TrimSpace(s) == "" {
		return nil, WrapExitError(ExitCommandError, "--fields is empty", nil)
	}
	var fields map[string]any
	if err := yaml.Unmarshal([]byte(s), &fields); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid --fields", err)
	}
	if fields == nil {
		return nil, WrapExitError(ExitCommandError, "--fields must be an object", nil)
	}
	return fields, nil
}

func outputRecord(f *OutputFormatter, rec resource.Record) error {
	if f.Format == "json" {
		return f.Success(rec)
	}
	return writeRecordTable(f.Writer, []resource.Record{rec})
}

func outputRecords(f *OutputFormatter, records []resource.Record) error {
	if f.Format == "json" {
		return f.Success(records)
	}
	if len(records) == 0 {
		fmt.Fprintln(f.Writer, "No records.")
		return nil
	}
	return writeRecordTable(f.Writer, records)
}

func writeRecordTable(w io.Writer, records []resource.Record) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tDEFAULT\tSUMMARY")
	for _, rec := range records {
		marker := ""
		if rec.IsDefault {
			marker = "*"
		}
		summary := ""
		if rec.Fields != nil {
			summary = rec.Fields.Summary()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", rec.ID, rec.Kind, marker, summary)
	}
	return tw.Flush()
}
