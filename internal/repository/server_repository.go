package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/blockgate/hosting/internal/models"
)

// ServerRepository handles database operations for server documents. The
// document is the source of truth; containers, proxy entries and DNS
// records are all derived from it.
type ServerRepository struct {
	servers *mongo.Collection
}

func NewServerRepository(db *Database) *ServerRepository {
	return &ServerRepository{servers: db.Collection(serversCollection)}
}

// Create inserts a new server document. Collisions on the unique indexes
// map to the sentinel of the field that collided.
func (r *ServerRepository) Create(ctx context.Context, server *models.Server) error {
	if server.ID == "" {
		server.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	server.CreatedAt = now
	server.UpdatedAt = now

	if _, err := r.servers.InsertOne(ctx, server); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return duplicateServerError(err)
		}
		return fmt.Errorf("failed to insert server: %w", err)
	}
	return nil
}

// duplicateServerError maps a duplicate-key error back to the unique index
// it violated. The folder path derives from the server name, so a folder
// collision surfaces as a name collision.
func duplicateServerError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "uniq_server_name"), strings.Contains(msg, "uniq_folder_path"):
		return models.ErrServerNameTaken
	case strings.Contains(msg, "uniq_subdomain_name"):
		return models.ErrSubdomainTaken
	}
	return fmt.Errorf("duplicate server document: %w", err)
}

// FindByID finds a server by document ID.
func (r *ServerRepository) FindByID(ctx context.Context, id string) (*models.Server, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

// FindByUniqueID finds a server by its stable unique ID.
func (r *ServerRepository) FindByUniqueID(ctx context.Context, uniqueID string) (*models.Server, error) {
	return r.findOne(ctx, bson.M{"unique_id": uniqueID})
}

// FindByName finds a server by its globally unique name.
func (r *ServerRepository) FindByName(ctx context.Context, serverName string) (*models.Server, error) {
	return r.findOne(ctx, bson.M{"server_name": serverName})
}

// FindBySubdomain finds the server holding a subdomain, if any.
func (r *ServerRepository) FindBySubdomain(ctx context.Context, subdomain string) (*models.Server, error) {
	return r.findOne(ctx, bson.M{"subdomain_name": subdomain})
}

func (r *ServerRepository) findOne(ctx context.Context, filter bson.M) (*models.Server, error) {
	var server models.Server
	err := r.servers.FindOne(ctx, filter).Decode(&server)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, models.ErrServerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load server: %w", err)
	}
	return &server, nil
}

// FindByEmail returns a user's servers, oldest first.
func (r *ServerRepository) FindByEmail(ctx context.Context, email string) ([]models.Server, error) {
	return r.find(ctx, bson.M{"email": models.NormalizeEmail(email)})
}

// CountByEmail counts a user's servers, for the quota check.
func (r *ServerRepository) CountByEmail(ctx context.Context, email string) (int, error) {
	n, err := r.servers.CountDocuments(ctx, bson.M{"email": models.NormalizeEmail(email)})
	if err != nil {
		return 0, fmt.Errorf("failed to count servers: %w", err)
	}
	return int(n), nil
}

// ListAll returns every server document, oldest first.
func (r *ServerRepository) ListAll(ctx context.Context) ([]models.Server, error) {
	return r.find(ctx, bson.M{})
}

// ListDNSPending returns servers whose SRV record still needs publishing.
func (r *ServerRepository) ListDNSPending(ctx context.Context) ([]models.Server, error) {
	return r.find(ctx, bson.M{"dns_pending": true})
}

// ListTransient returns servers stuck in an in-flight status, for the
// startup resume pass.
func (r *ServerRepository) ListTransient(ctx context.Context) ([]models.Server, error) {
	return r.find(ctx, bson.M{"status": bson.M{"$in": []models.ServerStatus{
		models.StatusCreating,
		models.StatusStarting,
		models.StatusStopping,
		models.StatusDeleting,
	}}})
}

func (r *ServerRepository) find(ctx context.Context, filter bson.M) ([]models.Server, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := r.servers.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}
	var servers []models.Server
	if err := cursor.All(ctx, &servers); err != nil {
		return nil, fmt.Errorf("failed to decode servers: %w", err)
	}
	return servers, nil
}

// Update replaces the stored document.
func (r *ServerRepository) Update(ctx context.Context, server *models.Server) error {
	server.UpdatedAt = time.Now().UTC()
	res, err := r.servers.ReplaceOne(ctx, bson.M{"unique_id": server.UniqueID}, server)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return duplicateServerError(err)
		}
		return fmt.Errorf("failed to update server: %w", err)
	}
	if res.MatchedCount == 0 {
		return models.ErrServerNotFound
	}
	return nil
}

// UpdateStatus moves a server to a new status. is_online tracks the
// status so list responses never disagree with it.
func (r *ServerRepository) UpdateStatus(ctx context.Context, uniqueID string, status models.ServerStatus) error {
	res, err := r.servers.UpdateOne(ctx, bson.M{"unique_id": uniqueID}, bson.M{"$set": bson.M{
		"status":     status,
		"is_online":  status == models.StatusOnline,
		"updated_at": time.Now().UTC(),
	}})
	if err != nil {
		return fmt.Errorf("failed to update server status: %w", err)
	}
	if res.MatchedCount == 0 {
		return models.ErrServerNotFound
	}
	return nil
}

// ClearDNSPending marks a server's SRV record as published.
func (r *ServerRepository) ClearDNSPending(ctx context.Context, uniqueID string) error {
	_, err := r.servers.UpdateOne(ctx, bson.M{"unique_id": uniqueID}, bson.M{"$set": bson.M{
		"dns_pending": false,
		"updated_at":  time.Now().UTC(),
	}})
	if err != nil {
		return fmt.Errorf("failed to clear dns flag: %w", err)
	}
	return nil
}

// Delete removes the document for good. Deleting a server that is already
// gone is not an error; the lifecycle retries deletes after partial
// failures.
func (r *ServerRepository) Delete(ctx context.Context, uniqueID string) error {
	if _, err := r.servers.DeleteOne(ctx, bson.M{"unique_id": uniqueID}); err != nil {
		return fmt.Errorf("failed to delete server: %w", err)
	}
	return nil
}

// AllocatedPorts returns every game and rcon port recorded on any server
// document, online or not.
func (r *ServerRepository) AllocatedPorts(ctx context.Context) ([]int, error) {
	opts := options.Find().SetProjection(bson.M{"server_config.port": 1, "server_config.rcon_port": 1})
	cursor, err := r.servers.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list allocated ports: %w", err)
	}
	var docs []struct {
		Config struct {
			Port     int `bson:"port"`
			RconPort int `bson:"rcon_port"`
		} `bson:"server_config"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode allocated ports: %w", err)
	}

	ports := make([]int, 0, len(docs)*2)
	for _, d := range docs {
		if d.Config.Port > 0 {
			ports = append(ports, d.Config.Port)
		}
		if d.Config.RconPort > 0 {
			ports = append(ports, d.Config.RconPort)
		}
	}
	return ports, nil
}
