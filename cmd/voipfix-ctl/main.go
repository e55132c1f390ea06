package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
)

// ============================================================================
// voipfix-ctl - Command-line IPC Client
// ============================================================================
// This tool injects trigger events into the voipfixd daemon via IPC. It is
// the integration point for telephony and routing hooks, and doubles as a
// manual testing tool.
//
// Usage:
//   voipfix-ctl call-start
//   voipfix-ctl call-end
//   voipfix-ctl routing-changed
//   voipfix-ctl near
//   voipfix-ctl far
//
// Options:
//   -socket PATH    Unix domain socket path (default: /tmp/voipfixd.sock)
// ============================================================================

// Event types (duplicated from the daemon package for a standalone binary)
type Event interface{}

type CallStateChanged struct {
	Active bool `json:"active"`
}

type RoutingChanged struct{}

type ProximityChanged struct {
	Near bool `json:"near"`
}

// EventEnvelope wraps events for JSON
type EventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// IPCResponse represents the daemon's response
type IPCResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func main() {
	socketPath := "/tmp/voipfixd.sock"

	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	// Check for -socket flag
	if args[0] == "-socket" || args[0] == "--socket" {
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: -socket requires an argument\n")
			os.Exit(1)
		}
		socketPath = args[1]
		args = args[2:]
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	var event Event

	switch args[0] {
	case "call-start", "start":
		event = CallStateChanged{Active: true}

	case "call-end", "end":
		event = CallStateChanged{Active: false}

	case "routing-changed", "routing":
		event = RoutingChanged{}

	case "near":
		event = ProximityChanged{Near: true}

	case "far":
		event = ProximityChanged{Near: false}

	case "help", "-h", "--help":
		printUsage()
		os.Exit(0)

	default:
		fmt.Fprintf(os.Stderr, "error: unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}

	if err := sendEvent(socketPath, event); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("ok")
}

func sendEvent(socketPath string, event Event) error {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	data, err := marshalEvent(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// Line-delimited JSON
	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		return fmt.Errorf("send event: %w", err)
	}

	var response IPCResponse
	decoder := json.NewDecoder(conn)
	if err := decoder.Decode(&response); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if response.Status == "error" {
		return fmt.Errorf("daemon error: %s", response.Error)
	}

	return nil
}

func marshalEvent(event Event) ([]byte, error) {
	var env EventEnvelope

	switch e := event.(type) {
	case CallStateChanged:
		env.Type = "call_state"
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal CallStateChanged: %w", err)
		}
		env.Data = data

	case RoutingChanged:
		env.Type = "routing_changed"

	case ProximityChanged:
		env.Type = "proximity"
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal ProximityChanged: %w", err)
		}
		env.Data = data

	default:
		return nil, fmt.Errorf("unknown event type: %T", event)
	}

	return json.Marshal(env)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `voipfix-ctl - Control the voipfixd daemon via IPC

Usage:
  voipfix-ctl [options] <command>

Options:
  -socket PATH    Unix domain socket path (default: /tmp/voipfixd.sock)

Commands:
  call-start, start       Signal that a VoIP call became active
  call-end, end           Signal that the VoIP call ended
  routing-changed         Signal that audio routing changed (daemon re-checks speaker)
  near                    Inject proximity near (device at ear)
  far                     Inject proximity far
  help, -h, --help        Show this help message

Examples:
  voipfix-ctl call-start
  voipfix-ctl -socket /var/run/voipfixd.sock routing-changed
`)
}
