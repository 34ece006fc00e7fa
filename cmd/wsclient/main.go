// Command wsclient is a small demonstration CLI for the websocket package:
// it dials a server, exercises the send/receive/close surface, and (via the
// pool subcommand) fans a message out to several connections at once.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/coregx/wsclient/websocket"
)

var (
	addr     string
	logLevel string
)

func main() {
	root := &cobra.Command{
		Use:   "wsclient",
		Short: "WebSocket client demo",
	}
	root.PersistentFlags().StringVar(&addr, "addr", "ws://localhost:8080/ws", "server URL (ws:// or wss://)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	root.AddCommand(newSendCommand())
	root.AddCommand(newListenCommand())
	root.AddCommand(newPoolCommand())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() *logrus.Entry {
	log := logrus.New()
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.WarnLevel
	}
	log.SetLevel(level)
	return logrus.NewEntry(log)
}

func newSendCommand() *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "send MESSAGE",
		Short: "Send a single text message and print the next reply",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			cfg := websocket.DefaultConfig()
			cfg.Logger = newLogger()

			c, err := websocket.Dial(ctx, addr, cfg)
			if err != nil {
				return fmt.Errorf("dial: %w", err)
			}
			defer c.Close()

			if err := c.SendText(ctx, args[0]); err != nil {
				return fmt.Errorf("send: %w", err)
			}

			select {
			case msg, ok := <-c.Stream().Messages():
				if !ok {
					return nil
				}
				printMessage(cmd, msg)
			case <-time.After(wait):
				fmt.Fprintln(cmd.OutOrStdout(), "no reply within timeout")
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 5*time.Second, "how long to wait for a reply")
	return cmd
}

func newListenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Connect and print every message until the connection closes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			cfg := websocket.DefaultConfig()
			cfg.Logger = newLogger()

			c, err := websocket.Dial(ctx, addr, cfg)
			if err != nil {
				return fmt.Errorf("dial: %w", err)
			}
			defer c.Close()

			for msg := range c.Stream().Messages() {
				printMessage(cmd, msg)
			}
			return nil
		},
	}
}

func newPoolCommand() *cobra.Command {
	var message string

	cmd := &cobra.Command{
		Use:   "pool URL [URL...]",
		Short: "Dial several servers and broadcast one message to all of them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			cfg := websocket.DefaultConfig()
			cfg.Logger = newLogger()

			p := websocket.NewPool(cfg)
			defer p.Close()

			for _, url := range args {
				if _, _, err := p.Add(ctx, url); err != nil {
					return fmt.Errorf("dial %s: %w", url, err)
				}
			}

			if err := p.Broadcast(ctx, websocket.TextMessage, []byte(message)); err != nil {
				return fmt.Errorf("broadcast: %w", err)
			}

			for _, m := range p.Snapshot() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", m.ID, m.State)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&message, "message", "hello", "text message to broadcast")
	return cmd
}

func printMessage(cmd *cobra.Command, msg websocket.Message) {
	switch {
	case msg.IsText():
		fmt.Fprintf(cmd.OutOrStdout(), "text: %s\n", msg.Text())
	case msg.IsBinary():
		fmt.Fprintf(cmd.OutOrStdout(), "binary: %d bytes\n", len(msg.Binary()))
	case msg.IsError():
		fmt.Fprintf(cmd.OutOrStdout(), "closed: %v\n", msg.Err())
	}
}
