// Package userplugin is the capability boundary for user-supplied tools.
// Each tool declared in ./tools/<name>/ runs as a separate subprocess
// speaking a small net/rpc interface over github.com/hashicorp/go-plugin's
// stdio handshake, instead of the registry shelling out to it directly.
// The registry only ever talks to the Executor interface below; it never
// sees an *exec.Cmd.
//
// The wiring follows go-plugin's basic net/rpc shape: a HandshakeConfig
// both sides agree on, a Plugin that dispenses an RPC client/server pair,
// and a thin RPC shim translating method calls into net/rpc Call
// invocations.
package userplugin

import (
	"encoding/json"
	"fmt"
	"net/rpc"
	"os/exec"

	goplugin "github.com/hashicorp/go-plugin"
)

// Handshake is the magic cookie both host and plugin process must agree on
// before go-plugin will treat the subprocess as a legitimate plugin rather
// than a misbehaving executable.
var Handshake = goplugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "FORGE_TOOL_PLUGIN",
	MagicCookieValue: "forge-tool-v1",
}

// PluginMap names the single exported plugin every user-tool subprocess
// must register under.
var PluginMap = map[string]goplugin.Plugin{
	"tool": &ToolPlugin{},
}

// Executor is what a dispensed plugin looks like to the registry: one
// capability, matching the shape of tool.Tool.Execute but over RPC, so
// internal/tool can wrap it without depending on this package for anything
// but this interface.
type Executor interface {
	Execute(args json.RawMessage) (string, error)
}

// ToolPlugin implements goplugin.Plugin for the RPC transport, handing out
// either the client stub (host side) or the server shim wrapping a real
// Executor implementation (plugin-process side).
type ToolPlugin struct {
	// Impl is set by the plugin subprocess's main() before calling Serve;
	// unused on the host side, which only ever calls Client.
	Impl Executor
}

func (p *ToolPlugin) Server(*goplugin.MuxBroker) (interface{}, error) {
	return &rpcServer{impl: p.Impl}, nil
}

func (p *ToolPlugin) Client(_ *goplugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &rpcClient{client: c}, nil
}

// rpcClient is the host-side stub satisfying Executor by forwarding calls
// over net/rpc to the subprocess.
type rpcClient struct{ client *rpc.Client }

func (c *rpcClient) Execute(args json.RawMessage) (string, error) {
	var resp string
	err := c.client.Call("Plugin.Execute", args, &resp)
	return resp, err
}

// rpcServer runs inside the plugin subprocess, translating incoming RPC
// calls into calls against the real Executor implementation.
type rpcServer struct{ impl Executor }

func (s *rpcServer) Execute(args json.RawMessage, resp *string) error {
	out, err := s.impl.Execute(args)
	*resp = out
	return err
}

// Launch starts a user tool's entrypoint as a go-plugin subprocess and
// returns an Executor proxying to it. The caller owns the returned
// *goplugin.Client and must call Kill() when done with the tool (or when
// its approval hash changes and it needs to be reloaded).
func Launch(entrypoint string) (Executor, *goplugin.Client, error) {
	client := goplugin.NewClient(&goplugin.ClientConfig{
		HandshakeConfig: Handshake,
		Plugins:         PluginMap,
		Cmd:             exec.Command(entrypoint),
		AllowedProtocols: []goplugin.Protocol{goplugin.ProtocolNetRPC},
	})

	rpcClientProto, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, nil, fmt.Errorf("user tool plugin handshake: %w", err)
	}

	raw, err := rpcClientProto.Dispense("tool")
	if err != nil {
		client.Kill()
		return nil, nil, fmt.Errorf("user tool plugin dispense: %w", err)
	}

	executor, ok := raw.(Executor)
	if !ok {
		client.Kill()
		return nil, nil, fmt.Errorf("user tool plugin returned unexpected type %T", raw)
	}
	return executor, client, nil
}

// Serve runs inside a user tool's subprocess main(), blocking forever
// while go-plugin handles the stdio handshake and RPC serving for impl.
func Serve(impl Executor) {
	goplugin.Serve(&goplugin.ServeConfig{
		HandshakeConfig: Handshake,
		Plugins: map[string]goplugin.Plugin{
			"tool": &ToolPlugin{Impl: impl},
		},
	})
}
