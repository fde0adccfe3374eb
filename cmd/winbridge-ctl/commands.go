package main

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"winbridge/internal/ipc"
	"winbridge/internal/protocol"
)

var execCmd = &cobra.Command{
	Use:   "exec <command> [args...]",
	Short: "Launch a command line in the Windows environment",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendOnly(cmd, ipc.Exec{Command: strings.Join(args, " ")})
	},
}

var killCmd = &cobra.Command{
	Use:   "kill <process-name>",
	Short: "Terminate processes by image name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendOnly(cmd, ipc.KillProcess{Name: args[0]})
	},
}

var psTimeoutMS int

var psCmd = &cobra.Command{
	Use:   "ps",
	Short: "List processes running in the Windows environment",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// The daemon may wait up to --timeout-ms for the peer before replying.
		d := timeout
		if psTimeoutMS > 0 {
			d += time.Duration(psTimeoutMS) * time.Millisecond
		}
		resp, err := sendWithin(cmd, ipc.ListProcesses{TimeoutMS: psTimeoutMS}, d)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd, resp.Data)
		}

		var list struct {
			Processes []protocol.ProcessInfo `json:"processes"`
		}
		if err := resp.Decode(&list); err != nil {
			return fmt.Errorf("decode process list: %w", err)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PID\tNAME\tMEMORY\tAFFINITY")
		for _, p := range list.Processes {
			fmt.Fprintf(w, "%d\t%s\t%d\t%#x\n", p.PID, p.Name, p.MemoryUsage, p.AffinityMask)
		}
		return w.Flush()
	},
}

var affinityCmd = &cobra.Command{
	Use:   "affinity <pid> <mask>",
	Short: "Set the CPU affinity mask of a process",
	Long:  "Set the CPU affinity mask of a process. Both values accept 0x-prefixed hex.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := strconv.ParseUint(args[0], 0, 32)
		if err != nil {
			return fmt.Errorf("invalid pid %q: %w", args[0], err)
		}
		mask, err := strconv.ParseUint(args[1], 0, 32)
		if err != nil {
			return fmt.Errorf("invalid mask %q: %w", args[1], err)
		}
		return sendOnly(cmd, ipc.SetProcessAffinity{PID: uint32(pid), Mask: uint32(mask)})
	},
}

var (
	mouseFlags uint32
	mouseDX    int16
	mouseDY    int16
	mouseWheel int16
)

var mouseCmd = &cobra.Command{
	Use:   "mouse",
	Short: "Inject a mouse event (dropped until the peer has connected)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := mouseFlags
		if flags == 0 && (mouseDX != 0 || mouseDY != 0) {
			flags = protocol.MouseMove
		}
		if mouseWheel != 0 {
			flags |= protocol.MouseWheel
		}
		return sendOnly(cmd, ipc.MouseEvent{Flags: flags, DX: mouseDX, DY: mouseDY, Wheel: mouseWheel})
	},
}

var keyUp bool

var keyCmd = &cobra.Command{
	Use:   "key <vkey>",
	Short: "Inject a keyboard event by virtual-key code (dropped until the peer has connected)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vkey, err := strconv.ParseUint(args[0], 0, 8)
		if err != nil {
			return fmt.Errorf("invalid virtual-key code %q: %w", args[0], err)
		}
		flags := protocol.KeyDown
		if keyUp {
			flags = protocol.KeyUp
		}
		return sendOnly(cmd, ipc.KeyboardEvent{VKey: uint8(vkey), Flags: flags})
	},
}

var frontReverse bool

var frontCmd = &cobra.Command{
	Use:   "front <window-or-process-name>",
	Short: "Bring a window to the foreground",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendOnly(cmd, ipc.BringToFront{Name: args[0], Reverse: frontReverse})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show channel status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := send(cmd, ipc.Status{})
		if err != nil {
			return err
		}
		return printJSON(cmd, resp.Data)
	},
}

func init() {
	psCmd.Flags().IntVar(&psTimeoutMS, "timeout-ms", 0, "Enumeration timeout in ms (default: daemon setting)")

	mouseCmd.Flags().Uint32Var(&mouseFlags, "flags", 0, "Raw mouse event flags (default: move when dx/dy are set)")
	mouseCmd.Flags().Int16Var(&mouseDX, "dx", 0, "Horizontal movement")
	mouseCmd.Flags().Int16Var(&mouseDY, "dy", 0, "Vertical movement")
	mouseCmd.Flags().Int16Var(&mouseWheel, "wheel", 0, "Wheel delta")

	keyCmd.Flags().BoolVar(&keyUp, "up", false, "Send a key release instead of a press")

	frontCmd.Flags().BoolVar(&frontReverse, "reverse", false, "Send the window to the back instead")

	rootCmd.AddCommand(execCmd, killCmd, psCmd, affinityCmd, mouseCmd, keyCmd, frontCmd, statusCmd)
}
