package portainer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/blockgate/hosting/internal/models"
)

// Environment is one container-engine endpoint the management API fronts.
type Environment struct {
	ID   int    `json:"Id"`
	Name string `json:"Name"`
}

// ListEnvironments returns every environment the credentials can see.
func (c *Client) ListEnvironments(ctx context.Context) ([]Environment, error) {
	resp, err := c.requestIdempotent(ctx, "GET", "/api/endpoints", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list environments: %w", err)
	}

	var environments []Environment
	if err := json.Unmarshal(resp, &environments); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return environments, nil
}

// FirstEnvironmentID returns the id of the first environment, the default
// target when no explicit environment is configured.
func (c *Client) FirstEnvironmentID(ctx context.Context) (int, error) {
	environments, err := c.ListEnvironments(ctx)
	if err != nil {
		return 0, err
	}
	if len(environments) == 0 {
		return 0, models.NewInconsistentError("engine reports no environments")
	}
	return environments[0].ID, nil
}
