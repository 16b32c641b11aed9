package portainer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/blockgate/hosting/pkg/logger"
)

// Stack statuses as the management API reports them.
const (
	StackStatusActive   = 1
	StackStatusInactive = 2
)

// Stack is one deployed compose stack.
type Stack struct {
	ID         int    `json:"Id"`
	Name       string `json:"Name"`
	EndpointID int    `json:"EndpointId"`
	Status     int    `json:"Status"`
}

// Active reports whether the stack is deployed and running.
func (s *Stack) Active() bool {
	return s.Status == StackStatusActive
}

// EnvPair is one environment variable handed to a stack deployment.
type EnvPair struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ListStacks returns every stack the management API
// knows about, across environments.
func (c *Client) ListStacks(ctx context.Context) ([]Stack, error) {
	resp, err := c.requestIdempotent(ctx, "GET", "/api/stacks", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list stacks: %w", err)
	}

	var stacks []Stack
	if err := json.Unmarshal(resp, &stacks); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return stacks, nil
}

// GetStackByName finds a stack by exact name. Returns (nil, nil) when no
// stack carries the name.
func (c *Client) GetStackByName(ctx context.Context, name string) (*Stack, error) {
	stacks, err := c.ListStacks(ctx)
	if err != nil {
		return nil, err
	}
	for i := range stacks {
		if stacks[i].Name == name {
			return &stacks[i], nil
		}
	}
	return nil, nil
}

// CreateStack deploys a standalone stack from compose text.
func (c *Client) CreateStack(ctx context.Context, name, composeContent string, env []EnvPair, environmentID int) (*Stack, error) {
	if env == nil {
		env = []EnvPair{}
	}
	payload := map[string]interface{}{
		"name":             name,
		"stackFileContent": composeContent,
		"env":              env,
	}

	path := fmt.Sprintf("/api/stacks/create/standalone/string?endpointId=%d", environmentID)
	resp, err := c.request(ctx, "POST", path, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to create stack %s: %w", name, err)
	}

	var stack Stack
	if err := json.Unmarshal(resp, &stack); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	logger.Info("Stack deployed", map[string]interface{}{
		"stack_id":    stack.ID,
		"stack_name":  name,
		"environment": environmentID,
	})

	return &stack, nil
}

// DeleteStack removes a stack and its containers.
func (c *Client) DeleteStack(ctx context.Context, stackID, environmentID int) error {
	path := fmt.Sprintf("/api/stacks/%d?endpointId=%d", stackID, environmentID)
	if _, err := c.request(ctx, "DELETE", path, nil); err != nil {
		return fmt.Errorf("failed to delete stack %d: %w", stackID, err)
	}

	logger.Info("Stack deleted", map[string]interface{}{
		"stack_id":    stackID,
		"environment": environmentID,
	})
	return nil
}

// StopStack stops a stack's containers but keeps the stack and its data.
func (c *Client) StopStack(ctx context.Context, stackID, environmentID int) error {
	path := fmt.Sprintf("/api/stacks/%d/stop?endpointId=%d", stackID, environmentID)
	if _, err := c.request(ctx, "POST", path, nil); err != nil {
		return fmt.Errorf("failed to stop stack %d: %w", stackID, err)
	}
	return nil
}

// StartStack starts a previously stopped stack.
func (c *Client) StartStack(ctx context.Context, stackID, environmentID int) error {
	path := fmt.Sprintf("/api/stacks/%d/start?endpointId=%d", stackID, environmentID)
	if _, err := c.request(ctx, "POST", path, nil); err != nil {
		return fmt.Errorf("failed to start stack %d: %w", stackID, err)
	}
	return nil
}
