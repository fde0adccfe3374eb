package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"winbridge/internal/ipc"
)

func parsePressed(s string) (bool, error) {
	switch s {
	case "press", "down", "on":
		return true, nil
	case "release", "up", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid action %q (want press or release)", s)
}

var mapperCmd = &cobra.Command{
	Use:       "mapper <standard|xinput>",
	Short:     "Set the gamepad mapper type reported to the peer",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"standard", "xinput"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendOnly(cmd, ipc.SetMapperType{Mapper: args[0]})
	},
}

var releaseCmd = &cobra.Command{
	Use:   "release-gamepad",
	Short: "Drop the current gamepad binding",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendOnly(cmd, ipc.ReleaseGamepad{})
	},
}

var gamepadCmd = &cobra.Command{
	Use:   "gamepad",
	Short: "Drive the profile's virtual gamepad",
}

var buttonCmd = &cobra.Command{
	Use:   "button <a|b|x|y|l1|r1|l2|r2|l3|r3|select|start> <press|release>",
	Short: "Press or release a button",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pressed, err := parsePressed(args[1])
		if err != nil {
			return err
		}
		return sendOnly(cmd, ipc.GamepadButton{Button: args[0], Pressed: pressed})
	},
}

var dpadCmd = &cobra.Command{
	Use:   "dpad <up|right|down|left> <press|release>",
	Short: "Press or release a d-pad direction",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pressed, err := parsePressed(args[1])
		if err != nil {
			return err
		}
		return sendOnly(cmd, ipc.GamepadDpad{Direction: args[0], Pressed: pressed})
	},
}

var thumbCmd = &cobra.Command{
	Use:   "thumb <left|right> <x> <y>",
	Short: "Move a thumbstick; axes range from -1 to 1",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		x, err := strconv.ParseFloat(args[1], 32)
		if err != nil {
			return fmt.Errorf("invalid x %q: %w", args[1], err)
		}
		y, err := strconv.ParseFloat(args[2], 32)
		if err != nil {
			return fmt.Errorf("invalid y %q: %w", args[2], err)
		}
		return sendOnly(cmd, ipc.GamepadThumb{Stick: args[0], X: float32(x), Y: float32(y)})
	},
}

func init() {
	gamepadCmd.AddCommand(buttonCmd, dpadCmd, thumbCmd)
	rootCmd.AddCommand(mapperCmd, releaseCmd, gamepadCmd)
}
