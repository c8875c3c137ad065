// Package commands holds the treedb CLI subcommands.
package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/treedb/config"
	"github.com/teranos/treedb/logger"
	"github.com/teranos/treedb/query"
	"github.com/teranos/treedb/sync"
	"github.com/teranos/treedb/transport"
	"github.com/teranos/treedb/types"
	"github.com/teranos/treedb/view"
)

var (
	watchOrderBy    string
	watchChildKey   string
	watchLimitFirst int
	watchLimitLast  int
	watchWholeValue bool
)

// WatchCmd subscribes to a path and streams its events to the terminal.
var WatchCmd = &cobra.Command{
	Use:   "watch <path>",
	Short: "Stream change events for a path or query",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

func init() {
	WatchCmd.Flags().StringVar(&watchOrderBy, "order-by", "priority", "Ordering: priority, key, value, or child")
	WatchCmd.Flags().StringVar(&watchChildKey, "child-key", "", "Child field name when --order-by child")
	WatchCmd.Flags().IntVar(&watchLimitFirst, "limit-first", 0, "Keep only the first N results")
	WatchCmd.Flags().IntVar(&watchLimitLast, "limit-last", 0, "Keep only the last N results")
	WatchCmd.Flags().BoolVar(&watchWholeValue, "value", false, "Receive whole-value events instead of child events")
}

func buildSpec(path string) (query.Spec, error) {
	spec := query.NewSpec(types.NewPath(path))
	switch watchOrderBy {
	case "priority":
	case "key":
		spec.Params = spec.Params.WithOrderByKey()
	case "value":
		spec.Params = spec.Params.WithOrderByValue()
	case "child":
		spec.Params = spec.Params.WithOrderByChild(watchChildKey)
	default:
		return spec, fmt.Errorf("unknown --order-by %q", watchOrderBy)
	}
	if watchLimitFirst > 0 {
		spec.Params = spec.Params.WithLimitFirst(watchLimitFirst)
	}
	if watchLimitLast > 0 {
		spec.Params = spec.Params.WithLimitLast(watchLimitLast)
	}
	return spec, spec.Params.Validate()
}

func connect(ctx context.Context) (*sync.Client, *transport.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	client := sync.NewClient(nil, logger.Logger)
	store := transport.NewStore(cfg.Endpoint, client, transport.Options{
		DialAttempts:    cfg.Connect.DialAttempts,
		WritesPerSecond: cfg.Connect.WritesPerSecond,
		WriteBurst:      cfg.Connect.WriteBurst,
	}, logger.Logger)
	// The client needs the store for listens/writes and the store needs
	// the client for pushes; wire the remote in after construction.
	client.SetRemote(store)
	if err := store.Connect(ctx); err != nil {
		client.Close()
		return nil, nil, err
	}
	return client, store, nil
}

func printEvent(e view.Event) {
	switch e.Type {
	case view.EventTypeChildAdded:
		pterm.Printf("%s %s  %s (after %q)\n", pterm.LightGreen("+"), e.Snapshot.Key, e.Snapshot.Value, e.PrevKey)
	case view.EventTypeChildRemoved:
		pterm.Printf("%s %s\n", pterm.Red("-"), e.Snapshot.Key)
	case view.EventTypeChildChanged:
		pterm.Printf("%s %s  %s\n", pterm.Yellow("~"), e.Snapshot.Key, e.Snapshot.Value)
	case view.EventTypeChildMoved:
		pterm.Printf("%s %s  (after %q)\n", pterm.LightCyan(">"), e.Snapshot.Key, e.PrevKey)
	case view.EventTypeValue:
		pterm.Printf("%s %s\n", pterm.LightCyan("="), e.Snapshot.Value)
	case view.EventTypeError:
		pterm.Printf("%s %s\n", pterm.Red("!"), e.Error.Message())
	}
}

func runWatch(cmd *cobra.Command, args []string) error {
	spec, err := buildSpec(args[0])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, store, err := connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()
	defer store.Close()

	events := make(chan view.Event, 128)
	notify := func(e view.Event) {
		// Called from the serialized sync context; hand off so printing
		// never stalls event generation.
		select {
		case events <- e:
		default:
		}
	}

	var reg view.EventRegistration
	if watchWholeValue {
		reg = view.NewValueRegistration(notify)
	} else {
		reg = view.NewChildRegistration(notify)
	}
	if err := client.AddListener(spec, reg); err != nil {
		return err
	}
	defer client.RemoveListener(spec, reg.ID())

	pterm.Printf("%s %s\n", pterm.Gray("watching"), spec.Path.String())
	for {
		select {
		case e := <-events:
			printEvent(e)
		case <-ctx.Done():
			return nil
		}
	}
}
