package cmd

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"slices"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"recordsync/internal/client/entity"
	"recordsync/internal/client/ui"
	"recordsync/internal/shared/models"
)

type recordsClient struct {
	env *env
}

func newRecordsCmd(e *env) *cobra.Command {
	r := &recordsClient{env: e}
	cmd := &cobra.Command{Use: "records", Short: "Manage records"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list <model> [field=value...]",
		Short: "List records, optionally filtered",
		Args:  cobra.MinimumNArgs(1),
		RunE:  r.list,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "get <model> <pk>",
		Short: "Get a record",
		Args:  cobra.ExactArgs(2),
		RunE:  r.get,
	})

	create := &cobra.Command{
		Use:   "create <model> field=value...",
		Short: "Create a record",
		Args:  cobra.MinimumNArgs(2),
		RunE:  r.create,
	}
	create.Flags().Bool("notify", false, "Show a notification for the server's answer")
	cmd.AddCommand(create)

	update := &cobra.Command{
		Use:   "update <model> <pk> field=value...",
		Short: "Send the fields that differ from the stored record",
		Args:  cobra.MinimumNArgs(3),
		RunE:  r.update,
	}
	update.Flags().Bool("notify", false, "Show a notification for the server's answer")
	cmd.AddCommand(update)

	del := &cobra.Command{
		Use:   "delete <model> <pk>",
		Short: "Delete a record",
		Args:  cobra.ExactArgs(2),
		RunE:  r.delete,
	}
	del.Flags().Bool("notify", false, "Show a notification for the server's answer")
	del.Flags().Bool("ask", false, "Ask for confirmation first")
	cmd.AddCommand(del)
	return cmd
}

// assignments parses field=value arguments. "field=@ref" sets a reference
// to ref and "field=@" clears it. Other values are read as JSON when they
// parse and as plain strings otherwise.
func assignments(args []string) (entity.Attributes, []string, error) {
	attrs := entity.Attributes{}
	var refs []string
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, nil, fmt.Errorf("bad assignment %q, want field=value", arg)
		}
		if ref, isRef := strings.CutPrefix(raw, "@"); isRef {
			refs = append(refs, key)
			if ref == "" {
				attrs[key] = entity.Reference(nil)
			} else {
				attrs[key] = entity.Reference(scalar(ref))
			}
			continue
		}
		attrs[key] = entity.Scalar(scalar(raw))
	}
	return attrs, refs, nil
}

func scalar(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

func descriptorFor(model string, attrs entity.Attributes, refs []string) (*entity.Descriptor, error) {
	schema := make([]string, 0, len(attrs))
	for k := range attrs {
		schema = append(schema, k)
	}
	return entity.NewDescriptor(entity.DescriptorConfig{
		ServerName: model,
		Schema:     schema,
		References: refs,
	})
}

func (r *recordsClient) recordOptions(cmd *cobra.Command) []entity.Option {
	return []entity.Option{
		entity.WithTokens(r.env.store),
		entity.WithNotifier(ui.NewNotifier(r.env.notifyLogger(cmd))),
		entity.WithConfirmer(ui.NewConfirmer(cmd.InOrStdin(), cmd.OutOrStdout())),
	}
}

func writeOptions(cmd *cobra.Command) []entity.WriteOption {
	var opts []entity.WriteOption
	if on, _ := cmd.Flags().GetBool("notify"); on {
		opts = append(opts, entity.WithNotify())
	}
	if on, _ := cmd.Flags().GetBool("ask"); on {
		opts = append(opts, entity.WithAsk())
	}
	return opts
}

func (r *recordsClient) list(cmd *cobra.Command, args []string) error {
	filter := url.Values{}
	for _, arg := range args[1:] {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return fmt.Errorf("bad filter %q, want field=value", arg)
		}
		filter.Set(key, value)
	}
	desc, err := entity.NewDescriptor(entity.DescriptorConfig{ServerName: args[0]})
	if err != nil {
		return err
	}
	ctx, cancel := r.env.context(cmd)
	defer cancel()

	coll := entity.NewCollection(desc, r.env.transport(), r.recordOptions(cmd)...)
	if err := coll.Fetch(ctx, filter); err != nil {
		return err
	}
	for _, rec := range coll.Records() {
		if err := printRecord(cmd.OutOrStdout(), rec); err != nil {
			return err
		}
	}
	return nil
}

func (r *recordsClient) get(cmd *cobra.Command, args []string) error {
	rec, err := r.load(cmd, args[0], args[1], nil)
	if err != nil {
		return err
	}
	return printRecord(cmd.OutOrStdout(), rec)
}

func (r *recordsClient) create(cmd *cobra.Command, args []string) error {
	attrs, refs, err := assignments(args[1:])
	if err != nil {
		return err
	}
	desc, err := descriptorFor(args[0], attrs, refs)
	if err != nil {
		return err
	}
	ctx, cancel := r.env.context(cmd)
	defer cancel()

	rec := entity.New(desc, r.env.transport(), r.recordOptions(cmd)...)
	rec.SetAll(attrs)
	op, sent := rec.Save(ctx, nil, writeOptions(cmd)...)
	if !sent {
		fmt.Fprintln(cmd.OutOrStdout(), "Nothing to save")
		return nil
	}
	if _, err := op.Wait(); err != nil {
		return fmt.Errorf("create failed: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Created", rec.ID())
	return nil
}

func (r *recordsClient) update(cmd *cobra.Command, args []string) error {
	attrs, refs, err := assignments(args[2:])
	if err != nil {
		return err
	}
	rec, err := r.load(cmd, args[0], args[1], &descriptorInput{attrs: attrs, refs: refs})
	if err != nil {
		return err
	}
	ctx, cancel := r.env.context(cmd)
	defer cancel()

	var changed []string
	for k := range rec.ComputeDiff(attrs) {
		changed = append(changed, k)
	}
	slices.Sort(changed)
	op, sent := rec.Save(ctx, attrs, writeOptions(cmd)...)
	if !sent {
		fmt.Fprintln(cmd.OutOrStdout(), "Not changed")
		return nil
	}
	if _, err := op.Wait(); err != nil {
		return fmt.Errorf("update failed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Updated %v: %s\n", rec.ID(), strings.Join(changed, ", "))
	return nil
}

func (r *recordsClient) delete(cmd *cobra.Command, args []string) error {
	rec, err := r.load(cmd, args[0], args[1], nil)
	if err != nil {
		return err
	}
	ctx, cancel := r.env.context(cmd)
	defer cancel()

	op, sent := rec.Destroy(ctx, writeOptions(cmd)...)
	if !sent {
		fmt.Fprintln(cmd.OutOrStdout(), "Cancelled")
		return nil
	}
	if _, err := op.Wait(); err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Deleted", rec.ID())
	return nil
}

type descriptorInput struct {
	attrs entity.Attributes
	refs  []string
}

// load fetches model/pk into a fresh record. in, when given, shapes the
// descriptor so that the fetched values are typed like the ones about to
// be saved.
func (r *recordsClient) load(cmd *cobra.Command, model, pk string, in *descriptorInput) (*entity.Record, error) {
	if in == nil {
		in = &descriptorInput{}
	}
	desc, err := descriptorFor(model, in.attrs, in.refs)
	if err != nil {
		return nil, err
	}
	ctx, cancel := r.env.context(cmd)
	defer cancel()

	rec := entity.New(desc, r.env.transport(), append(r.recordOptions(cmd), entity.WithID(pk))...)
	if _, err := rec.Fetch(ctx, nil).Wait(); err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			return nil, fmt.Errorf("%s %s: %w", model, pk, err)
		}
		return nil, err
	}
	return rec, nil
}

func printRecord(w io.Writer, rec *entity.Record) error {
	fields := rec.Current().Plain()
	delete(fields, rec.Descriptor().IDAttribute())
	display := rec.DisplayName()
	enc := json.NewEncoder(w)
	return enc.Encode(models.Envelope{PK: rec.ID(), Fields: fields, Unicode: &display})
}
