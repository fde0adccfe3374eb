package main

import (
	"fmt"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

var (
	watchURL   string
	watchCount int
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print frames from the daemon's websocket state feed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		u, err := url.Parse(watchURL)
		if err != nil {
			return fmt.Errorf("invalid websocket URL: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		d := websocket.Dialer{HandshakeTimeout: timeout}
		conn, _, err := d.DialContext(ctx, u.String(), nil)
		if err != nil {
			return fmt.Errorf("connect to %s: %w", u, err)
		}
		defer conn.Close()

		// Unblock ReadMessage on interrupt.
		go func() {
			<-ctx.Done()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = conn.Close()
		}()

		for n := 0; watchCount <= 0 || n < watchCount; n++ {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					return nil
				}
				return fmt.Errorf("read: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(msg))
		}
		return nil
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchURL, "url", "ws://127.0.0.1:7948/ws/state", "State feed URL")
	watchCmd.Flags().IntVarP(&watchCount, "count", "n", 0, "Exit after this many frames (0 = until interrupted)")
	rootCmd.AddCommand(watchCmd)
}
