// Package sdk drives the Claude Code CLI as a subprocess and speaks its
// bidirectional control protocol.
//
// # Architecture
//
// The SDK is organized into several layers:
//
//   - transport: subprocess lifecycle and newline-delimited JSON framing
//   - Query: control request/response correlation, callback dispatch and
//     ordered delivery of data messages
//   - ClaudeSDKClient: high-level bidirectional client
//
// # Quick Start
//
// For simple one-shot queries:
//
//	messages, errs := sdk.QueryOnce(ctx, "What is 2+2?", sdk.ClaudeAgentOptions{})
//	for msg := range messages {
//	    if am, ok := msg.(sdk.AssistantMessage); ok {
//	        fmt.Println(sdk.GetTextContent(am))
//	    }
//	}
//	if err := <-errs; err != nil {
//	    return err
//	}
//
// For interactive conversations:
//
//	client := sdk.NewClaudeSDKClient(sdk.ClaudeAgentOptions{})
//	if err := client.Connect(ctx, "Hello!"); err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	for msg := range client.Messages() {
//	    switch m := msg.(type) {
//	    case sdk.AssistantMessage:
//	        fmt.Println(sdk.GetTextContent(m))
//	    case sdk.ResultMessage:
//	        fmt.Printf("Cost: %s\n", sdk.FormatCost(m.TotalCostUSD))
//	        return nil
//	    }
//	}
//
// # Permission Handling
//
// A CanUseToolFunc (or any PermissionHandler) answers the CLI's can_use_tool
// requests. It runs on the receive loop, so messages behind the request wait
// for the decision:
//
//	client := sdk.NewClaudeSDKClient(sdk.ClaudeAgentOptions{
//	    CanUseTool: func(ctx context.Context, toolName string, input map[string]any, _ sdk.ToolPermissionContext) (sdk.PermissionResult, error) {
//	        if toolName == "Bash" {
//	            if cmd, _ := input["command"].(string); strings.Contains(cmd, "rm -rf") {
//	                return sdk.PermissionResultDeny{Message: "Dangerous command not allowed"}, nil
//	            }
//	        }
//	        return sdk.PermissionResultAllow{}, nil
//	    },
//	})
//
// # Hook System
//
// Hooks are registered with the CLI during the initialize handshake:
//
//	hooks := sdk.NewHookManager()
//	hooks.Register(sdk.HookPreToolUse, "Bash", sdk.DenyToolsHook("Bash"))
//
//	client := sdk.NewClaudeSDKClient(sdk.ClaudeAgentOptions{
//	    Hooks: hooks.ToOptionsMap(),
//	})
//
// # Errors
//
// Control operations fail with *ControlRequestError; errors.Is reports
// ErrTimeout, ErrControlFailed or ErrChannelClosed as the cause. A missing
// CLI is *CLINotFoundError, an abnormal exit *ProcessError, and a line the
// decoder cannot read ends the message stream with *MessageParseError.
package sdk
