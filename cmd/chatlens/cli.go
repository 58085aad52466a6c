package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/chatlens/chatlens/pkg/config"
	"github.com/chatlens/chatlens/pkg/export"
	"github.com/chatlens/chatlens/pkg/llm"
	"github.com/chatlens/chatlens/pkg/store"
)

func executeCLI() error {
	return buildRootCommand().Execute()
}

type rootFlags struct {
	configPath  string
	debug       bool
	metricsAddr string
}

func buildRootCommand() *cobra.Command {
	var (
		flags       rootFlags
		showVersion bool
	)

	root := &cobra.Command{
		Use:   "chatlens",
		Short: "Local conversation portal with persistent history and corpus insights",
		Long: strings.TrimSpace(`chatlens talks to a locally hosted OpenAI-compatible model endpoint,
keeps every conversation in a local SQLite store, and answers analytical
questions about your corpus (topics, activity, sentiment trends) with
deterministic statistics.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion()
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "Config file path (default ~/.chatlens/config.json)")
	root.PersistentFlags().BoolVarP(&flags.debug, "debug", "d", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flags.metricsAddr, "metrics-addr", "", "Expose Prometheus metrics on this address (e.g. :9464)")

	root.AddCommand(newInitCommand(&flags))
	root.AddCommand(newChatCommand(&flags))
	root.AddCommand(newSendCommand(&flags))
	root.AddCommand(newNewCommand(&flags))
	root.AddCommand(newListCommand(&flags))
	root.AddCommand(newShowCommand(&flags))
	root.AddCommand(newTitleCommand(&flags))
	root.AddCommand(newPinCommand(&flags))
	root.AddCommand(newArchiveCommand(&flags))
	root.AddCommand(newSummarizeCommand(&flags))
	root.AddCommand(newInsightCommand(&flags))
	root.AddCommand(newExportCommand(&flags))
	root.AddCommand(newStatusCommand(&flags))
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show build/version metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion()
			return nil
		},
	})

	return root
}

// withApp wires the subsystems, runs fn, and tears down. Shared by every
// command that touches the store.
func withApp(flags *rootFlags, fn func(ctx context.Context, a *app) error) error {
	a, err := openApp(flags.configPath, flags.debug)
	if err != nil {
		return err
	}
	defer a.Close()

	if flags.metricsAddr != "" {
		serveMetrics(flags.metricsAddr)
	}

	return fn(context.Background(), a)
}

func newInitCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "init",
		Short:   "Write a default config file",
		Example: "  chatlens init",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := flags.configPath
			if path == "" {
				path = config.DefaultConfigPath()
			}
			if _, err := os.Stat(path); err == nil {
				fmt.Printf("Config already exists at %s\n", path)
				return nil
			}
			if err := config.SaveConfig(path, config.DefaultConfig()); err != nil {
				return err
			}
			fmt.Printf("Wrote default config to %s\n", path)
			fmt.Println("Point provider.api_base at your local model endpoint, then run: chatlens chat")
			return nil
		},
	}
}

func newNewCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "new [title]",
		Short:   "Create an empty conversation",
		Args:    cobra.MaximumNArgs(1),
		Example: "  chatlens new \"Q3 planning\"",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(ctx context.Context, a *app) error {
				title := ""
				if len(args) == 1 {
					title = args[0]
				}
				conv, err := a.store.CreateConversation(ctx, title)
				if err != nil {
					return err
				}
				fmt.Printf("Created conversation %s (%s)\n", conv.ID, conv.Title)
				return nil
			})
		},
	}
}

func newChatCommand(flags *rootFlags) *cobra.Command {
	var conversationID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat session with streaming responses",
		Long:  "Start or resume a conversation. Responses stream as they arrive; Ctrl+C mid-response keeps the partial text, marked truncated.",
		Example: strings.Join([]string{
			"  chatlens chat",
			"  chatlens chat --conversation 4f8a...",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(ctx context.Context, a *app) error {
				return runChatREPL(ctx, a, conversationID)
			})
		},
	}
	cmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "Resume an existing conversation by id")
	return cmd
}

func runChatREPL(ctx context.Context, a *app, conversationID string) error {
	if conversationID == "" {
		conv, err := a.store.CreateConversation(ctx, "")
		if err != nil {
			return err
		}
		conversationID = conv.ID
		fmt.Printf("New conversation %s\n", conv.ID)
	} else {
		conv, err := a.store.GetConversation(ctx, conversationID)
		if err != nil {
			return err
		}
		fmt.Printf("Resuming %q (%d messages)\n", conv.Title, conv.MessageCount)
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "You: ",
		HistoryFile:     filepath.Join(os.TempDir(), ".chatlens_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	defer rl.Close()

	fmt.Println("Type a message, or 'exit' to quit.")
	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return nil
			}
			return err
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Goodbye!")
			return nil
		}

		// Ctrl+C during a response cancels only this exchange.
		sendCtx, cancel := signal.NotifyContext(ctx, os.Interrupt)
		fmt.Print("\nAssistant: ")
		msg, err := a.service.SendStream(sendCtx, conversationID, input, func(fragment string) {
			fmt.Print(fragment)
		})
		cancel()

		switch {
		case err == nil && msg.Truncated:
			fmt.Println("\n[response truncated]")
		case err == nil:
			fmt.Println()
		case errors.Is(err, context.Canceled):
			fmt.Println("\n[cancelled]")
		default:
			fmt.Printf("\nError: %v\n", err)
		}
		fmt.Println()
	}
}

func newSendCommand(flags *rootFlags) *cobra.Command {
	var conversationID string

	cmd := &cobra.Command{
		Use:   "send <message>",
		Short: "Send a one-shot message and print the reply",
		Long:  "Send a single message without entering interactive mode. Creates a new conversation unless --conversation is given.",
		Args:  cobra.ExactArgs(1),
		Example: strings.Join([]string{
			"  chatlens send \"summarize the main approaches to rate limiting\"",
			"  chatlens send --conversation 4f8a... \"and which fits a CLI tool?\"",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(ctx context.Context, a *app) error {
				if conversationID == "" {
					conv, err := a.store.CreateConversation(ctx, "")
					if err != nil {
						return err
					}
					conversationID = conv.ID
				}
				msg, err := a.service.Send(ctx, conversationID, args[0])
				if err != nil {
					return err
				}
				fmt.Println(msg.Content)
				fmt.Fprintf(os.Stderr, "\n(conversation %s)\n", conversationID)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "Append to an existing conversation")
	return cmd
}

func newListCommand(flags *rootFlags) *cobra.Command {
	var (
		archived bool
		all      bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List conversations (pinned first, most recent next)",
		Example: "  chatlens list --archived",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(ctx context.Context, a *app) error {
				filter := store.ListFilter{Status: store.StatusActive}
				if archived {
					filter.Status = store.StatusArchived
				}
				if all {
					filter.Status = ""
				}
				convs, err := a.store.ListConversations(ctx, filter)
				if err != nil {
					return err
				}
				if len(convs) == 0 {
					fmt.Println("No conversations.")
					return nil
				}
				for _, c := range convs {
					pin := " "
					if c.Pinned {
						pin = "*"
					}
					fmt.Printf("%s %-36s  %-8s  %3d msgs  %s  %s\n",
						pin, c.ID, c.Status, c.MessageCount,
						c.UpdatedAt.Local().Format("2006-01-02 15:04"), c.Title)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&archived, "archived", false, "Show archived conversations instead")
	cmd.Flags().BoolVar(&all, "all", false, "Show every conversation regardless of status")
	return cmd
}

func newShowCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "show <conversation-id>",
		Short:   "Print a conversation transcript",
		Args:    cobra.ExactArgs(1),
		Example: "  chatlens show 4f8a...",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(ctx context.Context, a *app) error {
				conv, err := a.store.GetConversation(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("%s  (%s, %d messages)\n", conv.Title, conv.Status, conv.MessageCount)
				if conv.Summary != "" {
					fmt.Printf("Summary: %s\n", conv.Summary)
				}
				fmt.Println()
				for _, m := range conv.Messages {
					marker := ""
					if m.Truncated {
						marker = " [truncated]"
					}
					fmt.Printf("[%s] %s%s\n%s\n\n",
						m.CreatedAt.Local().Format("15:04:05"), m.Role, marker, m.Content)
				}
				return nil
			})
		},
	}
}

func newTitleCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "title <conversation-id> <title>",
		Short:   "Rename a conversation",
		Args:    cobra.ExactArgs(2),
		Example: "  chatlens title 4f8a... \"Rate limiting notes\"",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(ctx context.Context, a *app) error {
				return a.store.SetTitle(ctx, args[0], args[1])
			})
		},
	}
}

func newPinCommand(flags *rootFlags) *cobra.Command {
	var unpin bool

	cmd := &cobra.Command{
		Use:     "pin <conversation-id>",
		Short:   "Pin a conversation to the top of the list",
		Args:    cobra.ExactArgs(1),
		Example: "  chatlens pin 4f8a...\n  chatlens pin --remove 4f8a...",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(ctx context.Context, a *app) error {
				return a.store.SetPinned(ctx, args[0], !unpin)
			})
		},
	}
	cmd.Flags().BoolVar(&unpin, "remove", false, "Unpin instead")
	return cmd
}

func newArchiveCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "archive <conversation-id>",
		Short:   "Archive a conversation (read-only, still counted in insights)",
		Args:    cobra.ExactArgs(1),
		Example: "  chatlens archive 4f8a...",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(ctx context.Context, a *app) error {
				return a.store.ArchiveConversation(ctx, args[0])
			})
		},
	}
}

func newSummarizeCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "summarize <conversation-id>",
		Short:   "Generate and save a short summary of a conversation",
		Args:    cobra.ExactArgs(1),
		Example: "  chatlens summarize 4f8a...",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(ctx context.Context, a *app) error {
				conv, err := a.store.GetConversation(ctx, args[0])
				if err != nil {
					return err
				}
				if len(conv.Messages) == 0 {
					return fmt.Errorf("conversation %s has no messages to summarize", args[0])
				}

				msgs := []llm.Message{{
					Role:    "system",
					Content: "Summarize the following conversation in at most three sentences. Reply with the summary only.",
				}}
				for _, m := range conv.Messages {
					msgs = append(msgs, llm.Message{Role: string(m.Role), Content: m.Content})
				}

				result, err := a.client.Complete(ctx, msgs, completionOptions(a.cfg))
				if err != nil {
					return err
				}
				summary := strings.TrimSpace(result.Content)
				if err := a.store.SetSummary(ctx, args[0], summary); err != nil {
					return err
				}
				fmt.Println(summary)
				return nil
			})
		},
	}
}

func newInsightCommand(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "insight <question>",
		Short: "Ask an analytical question about your conversation corpus",
		Long:  "Answers are computed from the stored corpus, never hallucinated. Supported: topic distribution, activity summary, progress trend.",
		Args:  cobra.ExactArgs(1),
		Example: strings.Join([]string{
			"  chatlens insight \"what did I mostly discuss?\"",
			"  chatlens insight \"how active was I this week?\"",
			"  chatlens insight \"is my mood improving?\"",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(ctx context.Context, a *app) error {
				result, err := a.engine.AnswerQuery(ctx, args[0])
				if err != nil {
					return err
				}

				if result.Narrative != "" {
					fmt.Println(result.Narrative)
					fmt.Println()
				}
				fmt.Printf("%s (corpus version %d)\n", result.Kind, result.CorpusVersion)
				keys := make([]string, 0, len(result.Stats))
				for k := range result.Stats {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					fmt.Printf("  %-24s %.2f\n", k, result.Stats[k])
				}
				if len(result.TopTopics) > 0 {
					fmt.Printf("  top topics: %s\n", strings.Join(result.TopTopics, ", "))
				}
				return nil
			})
		},
	}
	return cmd
}

func newExportCommand(flags *rootFlags) *cobra.Command {
	var (
		formatName string
		outPath    string
	)

	cmd := &cobra.Command{
		Use:   "export <conversation-id>",
		Short: "Export a conversation as json, markdown, or csv",
		Args:  cobra.ExactArgs(1),
		Example: strings.Join([]string{
			"  chatlens export 4f8a... --format markdown",
			"  chatlens export 4f8a... --format csv -o transcript.csv",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(ctx context.Context, a *app) error {
				format, err := export.ParseFormat(formatName)
				if err != nil {
					return err
				}
				conv, err := a.store.GetConversation(ctx, args[0])
				if err != nil {
					return err
				}
				data, err := export.Render(format, conv)
				if err != nil {
					return err
				}

				if outPath == "" {
					_, err = os.Stdout.Write(data)
					return err
				}
				// A directory target gets a generated filename.
				if info, err := os.Stat(outPath); err == nil && info.IsDir() {
					outPath = filepath.Join(outPath, export.Filename(conv.Title, format))
				}
				if err := os.WriteFile(outPath, data, 0644); err != nil {
					return err
				}
				fmt.Printf("Wrote %s\n", outPath)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&formatName, "format", "f", "json", "Export format: json, markdown, csv")
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "Write to a file or directory instead of stdout")
	return cmd
}

func newStatusCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Short:   "Show configuration, store, and endpoint readiness",
		Example: "  chatlens status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(ctx context.Context, a *app) error {
				fmt.Printf("%s v%s\n\n", appName, version)
				fmt.Printf("Provider endpoint: %s\n", a.cfg.Provider.APIBase)
				model := a.cfg.Provider.Model
				if model == "" {
					model = "(endpoint default)"
				}
				fmt.Printf("Model:             %s\n", model)
				fmt.Printf("Store:             %s\n", a.cfg.DBPath())

				convs, err := a.store.ListConversations(ctx, store.ListFilter{})
				if err != nil {
					return err
				}
				fmt.Printf("Conversations:     %d\n", len(convs))
				fmt.Printf("Corpus version:    %d\n", a.store.CorpusVersion())

				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if _, err := a.client.Complete(probeCtx, []llm.Message{{Role: "user", Content: "ping"}}, llm.Options{
					Timeout:   3 * time.Second,
					MaxTokens: 1,
				}); err != nil {
					fmt.Printf("Endpoint:          unreachable (%v)\n", err)
				} else {
					fmt.Println("Endpoint:          ok")
				}
				return nil
			})
		},
	}
}
