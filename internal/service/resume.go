package service

import (
	"context"
	"fmt"

	"github.com/blockgate/hosting/internal/events"
	"github.com/blockgate/hosting/internal/models"
	"github.com/blockgate/hosting/internal/monitoring"
	"github.com/blockgate/hosting/pkg/logger"
)

// ResumeTransientServers retries the intrinsic step of every row left in
// a transient status by a crash or restart: Creating rows finish
// deploy-register-publish, Starting and Stopping re-issue their
// transition, Deleting re-runs the teardown. Runs once at startup,
// before the HTTP listener accepts traffic.
func (s *ServerService) ResumeTransientServers(ctx context.Context) error {
	transient, err := s.servers.ListTransient(ctx)
	if err != nil {
		return err
	}
	if len(transient) == 0 {
		return nil
	}
	logger.Info("Resuming interrupted operations", map[string]interface{}{
		"count": len(transient),
	})

	var firstErr error
	for i := range transient {
		server := &transient[i]
		var err error
		switch server.Status {
		case models.StatusCreating:
			err = s.resumeCreate(ctx, server)
		case models.StatusStarting:
			err = s.start(ctx, server)
		case models.StatusStopping:
			err = s.stop(ctx, server)
		case models.StatusDeleting:
			err = s.resumeDelete(ctx, server)
		}
		if err != nil {
			logger.Error("Failed to resume interrupted operation", err, map[string]interface{}{
				"server": server.UniqueID, "status": string(server.Status),
			})
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// resumeCreate finishes a create that died between the draft row and the
// Ready update. Deployment is convergent and the SRV step goes through
// the idempotent path because the record may already exist. A deferred
// DNS record is not a failure here; the reconciler owns the retry.
func (s *ServerService) resumeCreate(ctx context.Context, server *models.Server) error {
	if err := s.deployStack(ctx, server); err != nil {
		return err
	}
	server.Status = models.StatusReady
	if err := s.servers.Update(ctx, server); err != nil {
		return err
	}
	logger.Info("Interrupted create completed", map[string]interface{}{
		"server": server.UniqueID, "name": server.ServerName,
	})
	_ = s.registerAndPublish(ctx, server, true)
	return nil
}

func (s *ServerService) resumeDelete(ctx context.Context, server *models.Server) error {
	details := s.teardown(ctx, server)
	success := models.AllSucceeded(details)
	if success {
		monitoring.RecordServerOperation("delete", "success")
	} else {
		monitoring.RecordServerOperation("delete", "partial")
	}
	events.PublishServerDeleted(server.UniqueID, server.Email, success)
	if !success {
		return fmt.Errorf("teardown of server %s incomplete", server.UniqueID)
	}
	return nil
}
