package rcon

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/gorcon/rcon"

	"github.com/blockgate/hosting/internal/monitoring"
	"github.com/blockgate/hosting/pkg/logger"
)

const defaultDialTimeout = 5 * time.Second

// Client executes console commands against a server's RCON port.
type Client struct {
	dialTimeout time.Duration
}

func NewClient() *Client {
	return &Client{dialTimeout: defaultDialTimeout}
}

// Execute sends one console command and returns the cleaned response.
// A server that just came up sometimes accepts the TCP connection and
// drops it during authentication; one reconnect covers that window.
func (c *Client) Execute(host string, port int, password, command string) (string, error) {
	response, err := c.execute(host, port, password, command)
	if err != nil && isConnDropped(err) {
		logger.Debug("RCON connection dropped, retrying once", map[string]interface{}{
			"host": host,
			"port": port,
		})
		response, err = c.execute(host, port, password, command)
	}
	if err != nil {
		monitoring.RecordExternalFailure("rcon")
	}
	return response, err
}

func (c *Client) execute(host string, port int, password, command string) (string, error) {
	conn, err := rcon.Dial(
		fmt.Sprintf("%s:%d", host, port),
		password,
		rcon.SetDialTimeout(c.dialTimeout),
	)
	if err != nil {
		return "", fmt.Errorf("rcon connection failed: %w", err)
	}
	defer conn.Close()

	response, err := conn.Execute(command)
	if err != nil {
		return "", fmt.Errorf("rcon command failed: %w", err)
	}
	return strings.TrimSpace(StripColorCodes(response)), nil
}

var colorCodes = regexp.MustCompile(`§.`)

// StripColorCodes removes Minecraft formatting codes from a response.
func StripColorCodes(response string) string {
	return colorCodes.ReplaceAllString(response, "")
}

func isConnDropped(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection reset") || strings.Contains(msg, "broken pipe")
}
