package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// audioBridgeClient manages WebSocket communication with the platform audio
// bridge, the privileged helper that exposes the audio policy surface
// (mode, speakerphone, stream volumes, forced routing) as a JSON
// request/response protocol on a local control socket.
//
// Protocol: text frames. A command is either a bare string ("GetMode") or a
// single-key object ({"SetMode": "normal"}). The response echoes the command
// name: {"GetMode": {"result": "Ok", "value": "in_communication"}}.
type audioBridgeClient struct {
	mu          sync.Mutex
	conn        *websocket.Conn
	url         string
	logger      *slog.Logger
	readTimeout time.Duration
}

// NewAudioBridgeClient creates a bridge client and establishes the initial
// connection with retry.
func NewAudioBridgeClient(wsURL string, logger *slog.Logger, readTimeoutMS int) (*audioBridgeClient, error) {
	if _, err := url.Parse(wsURL); err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}

	c := &audioBridgeClient{
		url:         wsURL,
		logger:      logger,
		readTimeout: time.Duration(readTimeoutMS) * time.Millisecond,
	}

	if err := c.connectWithRetry(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *audioBridgeClient) connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	d := websocket.Dialer{
		HandshakeTimeout: 2 * time.Second,
	}

	conn, _, err := d.Dial(c.url, nil)
	if err != nil {
		return err
	}

	c.conn = conn
	return nil
}

func (c *audioBridgeClient) connectWithRetry() error {
	var lastErr error
	for attempt := 0; attempt < 10; attempt++ {
		err := c.connect()
		if err == nil {
			c.logger.Info("connected to audio bridge", "url", c.url)
			return nil
		}
		lastErr = err
		c.logger.Warn("audio bridge connection failed; retrying...", "error", err, "attempt", attempt+1)
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("failed to connect after 10 attempts: %w", lastErr)
}

func (c *audioBridgeClient) ensureConnected() error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.logger.Warn("audio bridge connection lost; reconnecting...")
	return c.connectWithRetry()
}

// sendAndRead sends a command and waits for the bridge's response frame.
func (c *audioBridgeClient) sendAndRead(v any) ([]byte, error) {
	if err := c.ensureConnected(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, fmt.Errorf("no websocket connection")
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal command: %w", err)
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.conn = nil // mark connection as broken
		return nil, err
	}

	c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	defer c.conn.SetReadDeadline(time.Time{})

	_, message, err := c.conn.ReadMessage()
	if err != nil {
		c.conn = nil
		return nil, err
	}

	return message, nil
}

// reply is the generic response body under the echoed command key.
type bridgeReply struct {
	Result string          `json:"result"`
	Value  json.RawMessage `json:"value,omitempty"`
}

// call runs a command and decodes the reply body for the given command name.
func (c *audioBridgeClient) call(name string, cmd any) (bridgeReply, error) {
	response, err := c.sendAndRead(cmd)
	if err != nil {
		return bridgeReply{}, fmt.Errorf("%s: %w", name, err)
	}

	var outer map[string]bridgeReply
	if err := json.Unmarshal(response, &outer); err != nil {
		return bridgeReply{}, fmt.Errorf("%s: parse response: %w", name, err)
	}

	rep, ok := outer[name]
	if !ok {
		return bridgeReply{}, fmt.Errorf("%s: response missing command key", name)
	}
	if rep.Result != "Ok" && rep.Result != "Unsupported" {
		return rep, fmt.Errorf("%s: bridge result %q", name, rep.Result)
	}
	return rep, nil
}

func (c *audioBridgeClient) Mode() (AudioMode, error) {
	rep, err := c.call("GetMode", "GetMode")
	if err != nil {
		return "", err
	}
	var mode AudioMode
	if err := json.Unmarshal(rep.Value, &mode); err != nil {
		return "", fmt.Errorf("GetMode: parse value: %w", err)
	}
	c.logger.Debug("GetMode", "mode", mode)
	return mode, nil
}

func (c *audioBridgeClient) SetMode(mode AudioMode) error {
	_, err := c.call("SetMode", map[string]any{"SetMode": mode})
	if err == nil {
		c.logger.Debug("SetMode", "mode", mode)
	}
	return err
}

func (c *audioBridgeClient) SpeakerOn() (bool, error) {
	rep, err := c.call("GetSpeaker", "GetSpeaker")
	if err != nil {
		return false, err
	}
	var on bool
	if err := json.Unmarshal(rep.Value, &on); err != nil {
		return false, fmt.Errorf("GetSpeaker: parse value: %w", err)
	}
	c.logger.Debug("GetSpeaker", "on", on)
	return on, nil
}

func (c *audioBridgeClient) SetSpeakerOn(on bool) error {
	_, err := c.call("SetSpeaker", map[string]any{"SetSpeaker": on})
	if err == nil {
		c.logger.Debug("SetSpeaker", "on", on)
	}
	return err
}

func (c *audioBridgeClient) StreamVolume(stream Stream) (int, int, error) {
	rep, err := c.call("GetStreamVolume", map[string]any{"GetStreamVolume": stream})
	if err != nil {
		return 0, 0, err
	}
	var vol struct {
		Level int `json:"level"`
		Max   int `json:"max"`
	}
	if err := json.Unmarshal(rep.Value, &vol); err != nil {
		return 0, 0, fmt.Errorf("GetStreamVolume: parse value: %w", err)
	}
	c.logger.Debug("GetStreamVolume", "stream", stream, "level", vol.Level, "max", vol.Max)
	return vol.Level, vol.Max, nil
}

func (c *audioBridgeClient) SetStreamVolume(stream Stream, level int) error {
	_, err := c.call("SetStreamVolume", map[string]any{
		"SetStreamVolume": map[string]any{"stream": stream, "level": level},
	})
	if err == nil {
		c.logger.Debug("SetStreamVolume", "stream", stream, "level", level)
	}
	return err
}

func (c *audioBridgeClient) AdjustStreamVolume(stream Stream, dir VolumeDirection) error {
	_, err := c.call("AdjustStreamVolume", map[string]any{
		"AdjustStreamVolume": map[string]any{"stream": stream, "direction": dir},
	})
	if err == nil {
		c.logger.Debug("AdjustStreamVolume", "stream", stream, "direction", dir)
	}
	return err
}

func (c *audioBridgeClient) StreamActive(stream Stream) (bool, error) {
	rep, err := c.call("GetStreamActive", map[string]any{"GetStreamActive": stream})
	if err != nil {
		return false, err
	}
	var active bool
	if err := json.Unmarshal(rep.Value, &active); err != nil {
		return false, fmt.Errorf("GetStreamActive: parse value: %w", err)
	}
	return active, nil
}

func (c *audioBridgeClient) ForceRouting(speaker bool) error {
	rep, err := c.call("ForceRouting", map[string]any{
		"ForceRouting": map[string]any{"speaker": speaker},
	})
	if err != nil {
		return err
	}
	if rep.Result == "Unsupported" {
		// Forced routing is best-effort; older bridges don't expose it.
		c.logger.Debug("ForceRouting unsupported by bridge")
		return nil
	}
	c.logger.Debug("ForceRouting", "speaker", speaker)
	return nil
}

func (c *audioBridgeClient) InjectVolumeKeys() error {
	rep, err := c.call("InjectVolumeKeys", "InjectVolumeKeys")
	if err != nil {
		return err
	}
	if rep.Result == "Unsupported" {
		return ErrKeyInjectionUnsupported
	}
	return nil
}

func (c *audioBridgeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	return nil
}
