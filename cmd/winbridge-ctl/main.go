package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"winbridge/internal/ipc"
)

// Set via ldflags during build.
var (
	Version = "dev"
	Commit  = "unknown"
)

var (
	socketPath string
	timeout    time.Duration
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:           "winbridge-ctl",
	Short:         "Control a running winbridge daemon over its IPC socket",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintf(cmd.OutOrStdout(), "winbridge-ctl version %s\n", Version)
		if Commit != "" && Commit != "unknown" {
			fmt.Fprintf(cmd.OutOrStdout(), "commit: %s\n", Commit)
		}
		return nil
	},
}

func defaultSocket() string {
	if s := os.Getenv("WINBRIDGE_SOCKET"); s != "" {
		return s
	}
	return "/tmp/winbridge.sock"
}

func init() {
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", defaultSocket(), "Daemon IPC socket (env WINBRIDGE_SOCKET)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Second, "Overall request timeout")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print raw JSON responses")
	rootCmd.AddCommand(versionCmd)
}

// send delivers one request and prints "ok" unless the reply carries data.
func send(cmd *cobra.Command, req ipc.Request) (ipc.Response, error) {
	return sendWithin(cmd, req, timeout)
}

// sendWithin is send with an explicit deadline, for requests the daemon
// may legitimately hold longer than --timeout.
func sendWithin(cmd *cobra.Command, req ipc.Request, d time.Duration) (ipc.Response, error) {
	ctx, cancel := context.WithTimeout(cmd.Context(), d)
	defer cancel()

	resp, err := ipc.Send(ctx, socketPath, req)
	if err != nil {
		return resp, err
	}
	if len(resp.Data) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "ok")
	}
	return resp, nil
}

// sendOnly is a RunE body for requests without reply data.
func sendOnly(cmd *cobra.Command, req ipc.Request) error {
	_, err := send(cmd, req)
	return err
}

func printJSON(cmd *cobra.Command, data json.RawMessage) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func run() int {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(run())
}
