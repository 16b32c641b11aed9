package portainer

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/blockgate/hosting/pkg/logger"
)

// ExecResult is the outcome of one command run inside a container.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Exec runs a command inside a container and waits for it to finish. The
// output stream attaches over the management API's exec websocket.
func (c *Client) Exec(ctx context.Context, containerID string, cmd []string, environmentID int) (*ExecResult, error) {
	execID, err := c.createExec(ctx, containerID, cmd, environmentID)
	if err != nil {
		return nil, err
	}

	stdout, stderr, err := c.attachExec(ctx, execID, environmentID)
	if err != nil {
		return nil, err
	}

	exitCode, err := c.execExitCode(ctx, execID, environmentID)
	if err != nil {
		return nil, err
	}

	logger.Debug("Exec finished", map[string]interface{}{
		"container": shortID(containerID),
		"cmd":       strings.Join(cmd, " "),
		"exit_code": exitCode,
	})

	return &ExecResult{ExitCode: exitCode, Stdout: stdout, Stderr: stderr}, nil
}

func (c *Client) createExec(ctx context.Context, containerID string, cmd []string, environmentID int) (string, error) {
	payload := map[string]interface{}{
		"AttachStdout": true,
		"AttachStderr": true,
		"Tty":          false,
		"Cmd":          cmd,
	}

	resp, err := c.request(ctx, "POST", dockerPath(environmentID, "/containers/"+containerID+"/exec"), payload)
	if err != nil {
		return "", fmt.Errorf("failed to create exec in %s: %w", shortID(containerID), err)
	}

	var result struct {
		ID string `json:"Id"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	return result.ID, nil
}

// attachExec dials the exec websocket, which starts the command, and
// drains the multiplexed output until the engine closes the stream.
func (c *Client) attachExec(ctx context.Context, execID string, environmentID int) (string, string, error) {
	wsURL, header, err := c.execSocketTarget(ctx, execID, environmentID)
	if err != nil {
		return "", "", err
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return "", "", externalErr(fmt.Sprintf("exec socket refused with status %d", resp.StatusCode), err)
		}
		return "", "", externalErr("exec socket unreachable", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}

	var raw []byte
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			// Normal closure ends the stream; anything else is a
			// transport failure.
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) ||
				strings.Contains(err.Error(), "EOF") {
				break
			}
			return "", "", externalErr("reading exec stream", err)
		}
		raw = append(raw, message...)
	}

	stdout, stderr := demuxStream(raw)
	return stdout, stderr, nil
}

// execSocketTarget builds the websocket URL and auth header for an exec
// attach. API-key auth rides a header; session auth rides a token query
// parameter.
func (c *Client) execSocketTarget(ctx context.Context, execID string, environmentID int) (string, http.Header, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", nil, fmt.Errorf("invalid base URL: %w", err)
	}
	switch base.Scheme {
	case "https":
		base.Scheme = "wss"
	default:
		base.Scheme = "ws"
	}
	base.Path = strings.TrimRight(base.Path, "/") + "/api/websocket/exec"

	query := url.Values{}
	query.Set("id", execID)
	query.Set("endpointId", fmt.Sprintf("%d", environmentID))

	header := http.Header{}
	if c.apiKey != "" {
		header.Set("X-API-Key", c.apiKey)
	} else {
		token, err := c.sessionToken(ctx)
		if err != nil {
			return "", nil, err
		}
		query.Set("token", token)
	}

	base.RawQuery = query.Encode()
	return base.String(), header, nil
}

func (c *Client) execExitCode(ctx context.Context, execID string, environmentID int) (int, error) {
	resp, err := c.requestIdempotent(ctx, "GET", dockerPath(environmentID, "/exec/"+execID+"/json"), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect exec %s: %w", execID, err)
	}

	var result struct {
		ExitCode int  `json:"ExitCode"`
		Running  bool `json:"Running"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return 0, fmt.Errorf("failed to parse response: %w", err)
	}
	return result.ExitCode, nil
}

// demuxStream splits the engine's multiplexed attach stream into stdout
// and stderr. Frames carry an 8-byte header: stream type, three zero
// bytes, then a big-endian payload length.
func demuxStream(data []byte) (string, string) {
	var stdout, stderr strings.Builder

	for len(data) >= 8 {
		streamType := data[0]
		size := int(binary.BigEndian.Uint32(data[4:8]))
		data = data[8:]
		if size > len(data) {
			size = len(data)
		}
		switch streamType {
		case 2:
			stderr.Write(data[:size])
		default:
			stdout.Write(data[:size])
		}
		data = data[size:]
	}
	// Trailing unframed bytes show up when the engine attached a tty.
	if len(data) > 0 {
		stdout.Write(data)
	}

	return stdout.String(), stderr.String()
}
