// Command biomni-bridge bridges the Biomni agent CLI to interactive
// consumers.
//
// Commands:
//   - ask: run a single query in a fresh session and stream the answer
//   - serve: expose a websocket gateway streaming UI updates
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aixtools/biomni-bridge/bridge"
	"github.com/aixtools/biomni-bridge/config"
	"github.com/aixtools/biomni-bridge/logging"
	"github.com/aixtools/biomni-bridge/parse"
	"github.com/aixtools/biomni-bridge/session"
	"github.com/aixtools/biomni-bridge/supervisor"
	"github.com/aixtools/biomni-bridge/uploads"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "biomni-bridge",
		Short: "Bridge the Biomni agent to interactive UIs",
		Long: `biomni-bridge supervises Biomni agent invocations in isolated sessions
and streams parsed output blocks to interactive consumers.

Use 'ask' for a one-shot query on the command line.
Use 'serve' to run the websocket gateway for a chat UI.`,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "biomni-bridge.yaml", "Path to config file")

	rootCmd.AddCommand(newAskCmd(&configPath))
	rootCmd.AddCommand(newServeCmd(&configPath))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// components wires the store, supervisor and coordinator from a config.
type components struct {
	cfg     *config.Config
	log     *logging.Logger
	store   *session.Store
	coord   *bridge.Coordinator
	uploads *uploads.Store
}

func setup(configPath string) (*components, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := logging.New(logging.Config{
		Level:     cfg.LogLevel,
		Format:    cfg.LogFormat,
		Output:    "stderr",
		Component: "biomni-bridge",
	})

	store, err := session.NewStore(cfg.SessionRoot)
	if err != nil {
		return nil, err
	}

	sup := supervisor.New(supervisor.Config{
		AgentPath: cfg.AgentPath,
		AgentArgs: cfg.AgentArgs,
		Timeout:   time.Duration(cfg.TimeoutSeconds) * time.Second,
	}, log)

	coord := bridge.New(store, sup,
		bridge.WithMinUpdateBytes(cfg.MinUpdateBytes),
		bridge.WithLogger(log),
	)

	return &components{
		cfg:     cfg,
		log:     log,
		store:   store,
		coord:   coord,
		uploads: uploads.NewStore(cfg.AllowedExts, cfg.MaxUploadMB),
	}, nil
}

func newAskCmd(configPath *string) *cobra.Command {
	var files []string
	cmd := &cobra.Command{
		Use:   "ask <query>",
		Short: "Run a single query and stream the answer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			comp, err := setup(*configPath)
			if err != nil {
				return err
			}
			return runAsk(comp, args[0], files)
		},
	}
	cmd.Flags().StringArrayVar(&files, "file", nil, "Attach a file to the query (repeatable)")
	return cmd
}

func runAsk(comp *components, query string, files []string) error {
	sess, err := comp.store.Create()
	if err != nil {
		return err
	}
	defer comp.store.End(sess.ID)

	// Attachments are copied into the session's uploads dir so the agent
	// only ever sees session-local paths.
	var attached []string
	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("attach %s: %w", path, err)
		}
		stored, serr := comp.uploads.Save(sess.Paths.Uploads, filepath.Base(path), f)
		f.Close()
		if serr != nil {
			return fmt.Errorf("attach %s: %w", path, serr)
		}
		if err := comp.store.RegisterUpload(sess.ID, stored.ID); err != nil {
			return err
		}
		attached = append(attached, stored.Path)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Ctrl-C stops the invocation instead of orphaning the agent.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		<-sigs
		comp.coord.Stop(sess.ID)
	}()

	updates, err := comp.coord.HandleQuery(ctx, sess.ID, query, attached)
	if err != nil {
		return err
	}

	printed := 0
	for u := range updates {
		// Settled blocks never change; the last one may still grow, so it
		// is held back until the stream ends.
		settled := u.Blocks
		if !u.Terminal() && len(settled) > 0 {
			settled = settled[:len(settled)-1]
		}
		for _, b := range settled[min(printed, len(settled)):] {
			printBlock(b)
		}
		if len(settled) > printed {
			printed = len(settled)
		}

		if u.Terminal() {
			for _, a := range u.Artifacts {
				fmt.Printf("artifact: %s\n", a)
			}
			if u.State != supervisor.StateSucceeded {
				fmt.Fprintf(os.Stderr, "query ended: %s", u.State)
				if u.Err != "" {
					fmt.Fprintf(os.Stderr, " (%s)", u.Err)
				}
				fmt.Fprintln(os.Stderr)
				return fmt.Errorf("query %s", u.State)
			}
		}
	}
	return nil
}

func printBlock(b parse.Block) {
	switch b.Kind {
	case parse.KindCode:
		fmt.Printf("```%s\n%s\n```\n", b.Lang, b.Content)
	case parse.KindSection:
		fmt.Printf("%s: %s\n", b.Label, b.Content)
	default:
		fmt.Println(b.Content)
	}
}
