package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/me/hostbridge/pkg/model"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// controlMethods are sent as-is rather than wrapped in tools/call.
var controlMethods = map[string]bool{
	model.MethodPing:           true,
	model.MethodServerStatus:   true,
	model.MethodOperationGet:   true,
	model.MethodOperationRetry: true,
}

func newCallCmd() *cobra.Command {
	var (
		flagArgs    string
		flagID      string
		flagOutput  string
		flagDirect  bool
		flagTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "call <kind|method>",
		Short: "Send one request and print its status events and response",
		Long: "Send one request over the socket protocol. Task kinds are wrapped in tools/call " +
			"unless --direct is set; ping, server/status, operation/get and operation/retry are sent as methods.\n" +
			"--args accepts JSON or YAML.",
		Example: `  hostbridge call create_component --args '{type: box, name: crate, dimensions: [2, 1, 1]}'
  hostbridge call eval_script --args "code: scene.create({kind: 'sphere'})"
  hostbridge call operation/get --args '{operation_id: op_1_1772366400000000000}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			arguments, err := parseArgs(flagArgs)
			if err != nil {
				return err
			}
			id, err := requestID(flagID)
			if err != nil {
				return err
			}

			method, params := model.MethodToolsCall, any(model.ToolCallParams{Name: name, Arguments: arguments})
			if flagDirect || controlMethods[name] {
				method, params = name, arguments
				if arguments == nil {
					params = nil
				}
			}

			out := cmd.OutOrStdout()
			rpc := &RPCClient{Addr: flagAddr, Timeout: flagTimeout, Logger: logger}
			resp, err := rpc.Call(cmd.Context(), method, params, id, func(sp model.StatusParams) {
				printStatus(out, sp)
			})
			if err != nil {
				return err
			}
			if resp.Error != nil {
				return rpcError(resp.Error)
			}
			return printValue(out, resp.Result, flagOutput)
		},
	}

	cmd.Flags().StringVar(&flagArgs, "args", "", "Arguments as a JSON or YAML mapping")
	cmd.Flags().StringVar(&flagID, "id", "", "Request id (default: a random uuid)")
	cmd.Flags().StringVarP(&flagOutput, "output", "o", "json", "Result format (json, yaml)")
	cmd.Flags().BoolVar(&flagDirect, "direct", false, "Send the kind as the method with the arguments as params")
	cmd.Flags().DurationVar(&flagTimeout, "timeout", 11*time.Minute, "Give up waiting for the response after this long")
	return cmd
}

// parseArgs reads a JSON or YAML mapping. JSON is valid YAML, so one decoder
// covers both.
func parseArgs(s string) (map[string]any, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var args map[string]any
	if err := yaml.Unmarshal([]byte(s), &args); err != nil {
		return nil, fmt.Errorf("parse --args: %w", err)
	}
	return args, nil
}

// requestID encodes the --id flag: integers stay numbers, anything else is
// a string, and an empty flag gets a fresh uuid.
func requestID(s string) (json.RawMessage, error) {
	if s == "" {
		s = uuid.New().String()
	}
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		return json.RawMessage(s), nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode --id: %w", err)
	}
	return b, nil
}

func printStatus(w io.Writer, sp model.StatusParams) {
	if sp.Message != "" {
		fmt.Fprintf(w, "[%s] %s: %s\n", sp.Status, sp.OperationID, sp.Message)
		return
	}
	fmt.Fprintf(w, "[%s] %s\n", sp.Status, sp.OperationID)
}

func printValue(w io.Writer, v any, format string) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		return enc.Close()
	case "json", "":
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		fmt.Fprintln(w, string(b))
		return nil
	default:
		return fmt.Errorf("unknown output format %q (want json or yaml)", format)
	}
}

func rpcError(e *model.RPCError) error {
	if e.Data != nil {
		return fmt.Errorf("%s (code %d, operation %s, %d attempt(s))", e.Message, e.Code, e.Data.OperationID, e.Data.Attempts)
	}
	return fmt.Errorf("%s (code %d)", e.Message, e.Code)
}
