package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/outbox"
	"github.com/chatsync/internal/startup"
	"github.com/spf13/cobra"
)

func init() {
	outboxCmd.AddCommand(outboxListCmd, outboxClearCmd)
	rootCmd.AddCommand(outboxCmd)
}

var outboxCmd = &cobra.Command{
	Use:   "outbox",
	Short: "Inspect unconfirmed messages kept between runs",
}

var outboxListCmd = &cobra.Command{
	Use:   "list [conversation-key]",
	Short: "List conversations with queued messages, or the queue of one conversation",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withOutbox(cmd.Context(), func(box *outbox.Store) error {
			if len(args) == 0 {
				return listConversations(cmd.Context(), box, cmd.OutOrStdout())
			}
			conv, err := model.ParseConversation(args[0])
			if err != nil {
				return err
			}
			return listQueue(box.Load(cmd.Context(), conv.Key()), cmd.OutOrStdout())
		})
	},
}

var outboxClearCmd = &cobra.Command{
	Use:   "clear [conversation-key]",
	Short: "Drop every queued message of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conv, err := model.ParseConversation(args[0])
		if err != nil {
			return err
		}
		return withOutbox(cmd.Context(), func(box *outbox.Store) error {
			n := len(box.Load(cmd.Context(), conv.Key()))
			box.Save(cmd.Context(), conv.Key(), nil)
			fmt.Fprintf(cmd.OutOrStdout(), "%s: dropped %d message(s)\n", conv, n)
			return nil
		})
	},
}

func withOutbox(ctx context.Context, fn func(box *outbox.Store) error) error {
	if err := cfg.ValidateClient(); err != nil {
		return err
	}
	kv, err := startup.OpenOutboxKV(ctx, cfg)
	if err != nil {
		return err
	}
	defer kv.Close()
	return fn(outbox.New(kv, outbox.WithKey(cfg.Outbox.Key), outbox.WithTTL(cfg.Outbox.TTL)))
}

func listConversations(ctx context.Context, box *outbox.Store, out io.Writer) error {
	keys := box.Conversations(ctx)
	if len(keys) == 0 {
		fmt.Fprintln(out, "outbox is empty")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CONVERSATION\tQUEUED")
	for _, k := range keys {
		fmt.Fprintf(w, "%s\t%d\n", k, len(box.Load(ctx, k)))
	}
	return w.Flush()
}

func listQueue(queue []model.OptimisticMessage, out io.Writer) error {
	if len(queue) == 0 {
		fmt.Fprintln(out, "nothing queued")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TEMP ID\tSTATUS\tRETRIES\tCREATED\tBODY")
	for _, o := range queue {
		body := o.Body
		if n := len(o.Attachments); n > 0 {
			body = fmt.Sprintf("%s (+%d file(s))", body, n)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", o.TempID, o.Status, o.RetryCount, o.CreatedAt.Local().Format("2006-01-02 15:04:05"), body)
	}
	return w.Flush()
}
