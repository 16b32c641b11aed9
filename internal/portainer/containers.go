package portainer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/blockgate/hosting/pkg/logger"
)

// Container is one engine container as the list endpoint reports it.
type Container struct {
	ID     string            `json:"Id"`
	Names  []string          `json:"Names"`
	Image  string            `json:"Image"`
	State  string            `json:"State"` // running, exited, created, ...
	Status string            `json:"Status"`
	Labels map[string]string `json:"Labels"`
	Ports  []ContainerPort   `json:"Ports"`
}

// ContainerPort is one port binding of a listed container.
type ContainerPort struct {
	IP          string `json:"IP,omitempty"`
	PrivatePort int    `json:"PrivatePort"`
	PublicPort  int    `json:"PublicPort,omitempty"`
	Type        string `json:"Type"`
}

// Name returns the primary container name without the leading slash.
func (c *Container) Name() string {
	if len(c.Names) == 0 {
		return ""
	}
	return strings.TrimPrefix(c.Names[0], "/")
}

// Running reports whether the engine lists the container as running.
func (c *Container) Running() bool {
	return c.State == "running"
}

// ContainerFilter narrows FindContainers. Name matches by substring the
// way the engine's name filter does; Image by prefix.
type ContainerFilter struct {
	Image string
	Name  string
}

// ListContainers returns every container of an environment, running or not.
func (c *Client) ListContainers(ctx context.Context, environmentID int) ([]Container, error) {
	resp, err := c.requestIdempotent(ctx, "GET", dockerPath(environmentID, "/containers/json?all=true"), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	var containers []Container
	if err := json.Unmarshal(resp, &containers); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return containers, nil
}

// FindContainers lists containers matching the filter.
func (c *Client) FindContainers(ctx context.Context, environmentID int, filter ContainerFilter) ([]Container, error) {
	containers, err := c.ListContainers(ctx, environmentID)
	if err != nil {
		return nil, err
	}

	var out []Container
	for _, cont := range containers {
		if filter.Image != "" && !strings.HasPrefix(cont.Image, filter.Image) {
			continue
		}
		if filter.Name != "" && !strings.Contains(cont.Name(), filter.Name) {
			continue
		}
		out = append(out, cont)
	}
	return out, nil
}

// GetContainer finds one container by id or exact name. Returns (nil, nil)
// when no container matches.
func (c *Client) GetContainer(ctx context.Context, identifier string, environmentID int) (*Container, error) {
	containers, err := c.ListContainers(ctx, environmentID)
	if err != nil {
		return nil, err
	}
	for i := range containers {
		if containers[i].ID == identifier || containers[i].Name() == identifier ||
			strings.HasPrefix(containers[i].ID, identifier) {
			return &containers[i], nil
		}
	}
	return nil, nil
}

// StartContainer starts a container by id.
func (c *Client) StartContainer(ctx context.Context, containerID string, environmentID int) error {
	path := dockerPath(environmentID, "/containers/"+containerID+"/start")
	if _, err := c.request(ctx, "POST", path, nil); err != nil {
		return fmt.Errorf("failed to start container %s: %w", shortID(containerID), err)
	}
	logger.Info("Container started", map[string]interface{}{"container": shortID(containerID)})
	return nil
}

// StopContainer stops a container by id.
func (c *Client) StopContainer(ctx context.Context, containerID string, environmentID int) error {
	path := dockerPath(environmentID, "/containers/"+containerID+"/stop")
	if _, err := c.request(ctx, "POST", path, nil); err != nil {
		return fmt.Errorf("failed to stop container %s: %w", shortID(containerID), err)
	}
	logger.Info("Container stopped", map[string]interface{}{"container": shortID(containerID)})
	return nil
}

// RemoveContainer removes a container by id or name.
func (c *Client) RemoveContainer(ctx context.Context, containerID string, environmentID int, force bool) error {
	path := dockerPath(environmentID, fmt.Sprintf("/containers/%s?force=%t", containerID, force))
	if _, err := c.request(ctx, "DELETE", path, nil); err != nil {
		return fmt.Errorf("failed to remove container %s: %w", shortID(containerID), err)
	}
	logger.Info("Container removed", map[string]interface{}{"container": shortID(containerID)})
	return nil
}

// UsedContainerPorts collects every host port bound by a running container
// in the environment. The port arbiter treats these as occupied.
func (c *Client) UsedContainerPorts(ctx context.Context, environmentID int) ([]int, error) {
	containers, err := c.ListContainers(ctx, environmentID)
	if err != nil {
		return nil, err
	}

	seen := make(map[int]struct{})
	var ports []int
	for _, cont := range containers {
		if !cont.Running() {
			continue
		}
		for _, p := range cont.Ports {
			if p.PublicPort == 0 {
				continue
			}
			if _, dup := seen[p.PublicPort]; dup {
				continue
			}
			seen[p.PublicPort] = struct{}{}
			ports = append(ports, p.PublicPort)
		}
	}
	return ports, nil
}

// network is the subset of the engine network object we read.
type network struct {
	ID   string `json:"Id"`
	Name string `json:"Name"`
}

// EnsureNetwork creates a bridge network when none with the name exists.
func (c *Client) EnsureNetwork(ctx context.Context, name string, environmentID int) error {
	path := dockerPath(environmentID, "/networks?filters="+url.QueryEscape(fmt.Sprintf(`{"name":[%q]}`, name)))
	resp, err := c.requestIdempotent(ctx, "GET", path, nil)
	if err != nil {
		return fmt.Errorf("failed to list networks: %w", err)
	}

	var networks []network
	if err := json.Unmarshal(resp, &networks); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	for _, n := range networks {
		// The engine name filter matches substrings.
		if n.Name == name {
			return nil
		}
	}

	payload := map[string]interface{}{
		"Name":   name,
		"Driver": "bridge",
	}
	if _, err := c.request(ctx, "POST", dockerPath(environmentID, "/networks/create"), payload); err != nil {
		return fmt.Errorf("failed to create network %s: %w", name, err)
	}

	logger.Info("Network created", map[string]interface{}{
		"network":     name,
		"environment": environmentID,
	})
	return nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
