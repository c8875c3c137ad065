package commands

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/treedb/errors"
	"github.com/teranos/treedb/types"
)

var (
	setTimeout  time.Duration
	setPriority string
)

// SetCmd writes a JSON value at a path.
var SetCmd = &cobra.Command{
	Use:   "set <path> <json-value>",
	Short: "Write a value at a path",
	Long: `Write a value at a path. The value is JSON; "null" deletes.

Examples:
  treedb set /chat/messages/m1 '{"text":"hi"}'
  treedb set /scores/alice 42
  treedb set /scores/alice null`,
	Args: cobra.ExactArgs(2),
	RunE: runSet,
}

func init() {
	SetCmd.Flags().DurationVar(&setTimeout, "timeout", 10*time.Second, "How long to wait for the server ack")
	SetCmd.Flags().StringVar(&setPriority, "priority", "", "JSON priority to attach to the value")
}

func runSet(cmd *cobra.Command, args []string) error {
	var raw interface{}
	if err := json.Unmarshal([]byte(args[1]), &raw); err != nil {
		return errors.Wrapf(errors.NewCode(errors.CodeInvalidVariantType),
			"value is not valid JSON: %v", err)
	}
	value := types.FromInterface(raw)
	if setPriority != "" {
		var rawPriority interface{}
		if err := json.Unmarshal([]byte(setPriority), &rawPriority); err != nil {
			return errors.Wrapf(errors.NewCode(errors.CodeInvalidVariantType),
				"priority is not valid JSON: %v", err)
		}
		value = types.WithPriority(value, types.FromInterface(rawPriority))
	}

	ctx, cancel := context.WithTimeout(context.Background(), setTimeout)
	defer cancel()

	client, store, err := connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()
	defer store.Close()

	path := types.NewPath(args[0])
	writeID := client.Put(path, value)
	pterm.Printf("%s write %d at %s\n", pterm.LightGreen("✓"), writeID, path.String())
	return nil
}
