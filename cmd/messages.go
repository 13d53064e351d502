package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marcus/syncbridge/internal/output"
)

var (
	messagesAfter int64
	messagesLimit int
)

var messagesCmd = &cobra.Command{
	Use:   "messages <subscription>",
	Short: "Read messages of a pull subscription",
	Long: `Prints the JSON payloads of a pull subscription's messages after the
given cursor, one per line. The cursor is the message id; pass the last
id you processed to continue where you left off. Reads do not consume:
re-reading the same cursor returns the same messages.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDB()
		if err != nil {
			return err
		}
		defer database.Close()

		del := newDelivery(database)
		msgs, err := del.Pull(args[0], messagesAfter, messagesLimit)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			output.Warning("no messages after cursor %d", messagesAfter)
			return nil
		}

		for _, m := range msgs {
			fmt.Fprintf(os.Stdout, "%d\t%s\n", m.ID, m.Payload)
		}
		return nil
	},
}

func init() {
	messagesCmd.Flags().Int64Var(&messagesAfter, "after", 0, "cursor: last processed message id")
	messagesCmd.Flags().IntVar(&messagesLimit, "limit", 50, "max messages to return")
	rootCmd.AddCommand(messagesCmd)
}
