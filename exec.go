package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"visca-bridge/internal/protocol"
)

var (
	cmdExec = &cobra.Command{
		Use:   "exec <command> [key=value...]",
		Short: "Run one command and print its result",
		Long: `Run one command against the camera bus and print the result envelope as JSON.

  visca-bridge exec pan camera=1 value=left speed=3
  visca-bridge exec report camera=2
  visca-bridge exec send-raw bytes-to-send="81 09 00 02 FF" reply-length=10`,
		Args: cobra.MinimumNArgs(1),
		RunE: runExec,
	}
)

func init() {
	rootCmd.AddCommand(cmdExec)
}

func runExec(cmd *cobra.Command, args []string) error {
	req, err := parseArgs(args)
	if err != nil {
		return err
	}

	conf, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log := newLogger("visca-bridge.exec")
	b, err := newBridge(conf, log)
	if err != nil {
		return err
	}
	defer b.Close()

	res := b.dispatcher.Handle(req)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "    ")
	if err := enc.Encode(res); err != nil {
		return err
	}
	if res.Status() != protocol.StatusOK {
		return fmt.Errorf("%s failed", req.Command)
	}
	return nil
}

// parseArgs builds a request from a command name and key=value pairs.
// Values stay strings; the command parser accepts numeric strings.
func parseArgs(args []string) (protocol.Request, error) {
	req := protocol.Request{Command: args[0], Params: map[string]any{}}
	for _, kv := range args[1:] {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return protocol.Request{}, fmt.Errorf("expected key=value, got %q", kv)
		}
		req.Params[k] = v
	}
	return req, nil
}
