package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	ladle "github.com/ladleapp/go-client"
	"github.com/ladleapp/go-client/cache"
	"github.com/ladleapp/go-client/config"
	"github.com/ladleapp/go-client/views"
)

var rootCmd = &cobra.Command{
	Use:   "ladle-cli",
	Short: "Command line client for the Ladle recipe and pantry app",
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return config.Load(path)
	}
	return config.FromEnv()
}

func newClient(cmd *cobra.Command) (*ladle.Client, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if level := config.FlagOrEnv(cmd, "log-level", "LADLE_LOG_LEVEL", ""); level != "" {
		cfg.LogLevel = level
	}
	log, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return ladle.New(cmd.Context(), cfg, log)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func viewerID(cmd *cobra.Command) string {
	return config.FlagOrEnv(cmd, "user", "LADLE_USER_ID", "")
}

var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Show the community feed",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer client.Close(cmd.Context())
		feed, found, err := client.Feed(cmd.Context(), viewerID(cmd))
		if err != nil {
			return err
		}
		if !found {
			fmt.Println("no feed available")
			return nil
		}
		return printJSON(feed)
	},
}

var recipeCmd = &cobra.Command{
	Use:   "recipe <recipe-id>",
	Short: "Show one recipe in full",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer client.Close(cmd.Context())
		detail, found, err := client.Recipe(cmd.Context(), args[0], viewerID(cmd))
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("recipe %s not found", args[0])
		}
		return printJSON(detail)
	},
}

var likeCmd = &cobra.Command{
	Use:   "like <recipe-id>",
	Short: "Toggle your like on a recipe",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer client.Close(cmd.Context())
		return client.ToggleLike(cmd.Context(), args[0], viewerID(cmd))
	},
}

var saveCmd = &cobra.Command{
	Use:   "save <recipe-id>",
	Short: "Toggle your save on a recipe",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer client.Close(cmd.Context())
		return client.ToggleSave(cmd.Context(), args[0], viewerID(cmd))
	},
}

var commentCmd = &cobra.Command{
	Use:   "comment <recipe-id> <body>",
	Short: "Post a comment on a recipe",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer client.Close(cmd.Context())
		comment, err := client.PostComment(cmd.Context(), args[0], viewerID(cmd), args[1])
		if err != nil {
			return err
		}
		return printJSON(comment)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow live feed changes until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		client, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer client.Close(context.Background())

		user := viewerID(cmd)
		if _, _, err := client.Feed(ctx, user); err != nil {
			return err
		}
		cancel := client.Subscribe(views.FeedKey(user), func(ev cache.Event) {
			fmt.Printf("%s feed %s\n", time.Now().Format(time.RFC3339), ev.Kind)
		})
		defer cancel()
		if err := client.Watch(ctx, user); err != nil {
			return err
		}

		fmt.Println("watching for changes, ctrl-c to stop")
		<-ctx.Done()
		return nil
	},
}

func main() {
	rootCmd.PersistentFlags().String("config", "", "path to a yaml config file")
	rootCmd.PersistentFlags().String("user", "", "acting user id")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.AddCommand(feedCmd, recipeCmd, likeCmd, saveCmd, commentCmd, watchCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
