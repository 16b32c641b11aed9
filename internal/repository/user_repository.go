package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/blockgate/hosting/internal/models"
)

// UserRepository handles database operations for users.
type UserRepository struct {
	users *mongo.Collection
}

// NewUserRepository creates a new user repository.
func NewUserRepository(db *Database) *UserRepository {
	return &UserRepository{users: db.Collection(usersCollection)}
}

// Create inserts a new user. A collision on the unique email index maps to
// models.ErrEmailAlreadyExists.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	user.Email = models.NormalizeEmail(user.Email)
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	if _, err := r.users.InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return models.ErrEmailAlreadyExists
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// FindByID finds a user by ID.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

// FindByEmail finds a user by normalized email.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findOne(ctx, bson.M{"email": models.NormalizeEmail(email)})
}

func (r *UserRepository) findOne(ctx context.Context, filter bson.M) (*models.User, error) {
	var user models.User
	err := r.users.FindOne(ctx, activeOnly(filter)).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, models.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return &user, nil
}

// ListActive returns every account that has not been soft-deleted.
func (r *UserRepository) ListActive(ctx context.Context) ([]models.User, error) {
	cursor, err := r.users.Find(ctx, activeOnly(bson.M{}))
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	var users []models.User
	if err := cursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("failed to decode users: %w", err)
	}
	return users, nil
}

// Update replaces the stored document.
func (r *UserRepository) Update(ctx context.Context, user *models.User) error {
	user.UpdatedAt = time.Now().UTC()
	res, err := r.users.ReplaceOne(ctx, bson.M{"_id": user.ID}, user)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if res.MatchedCount == 0 {
		return models.ErrUserNotFound
	}
	return nil
}

// UpdateReservations replaces a user's reserved ports and ranges in one
// update.
func (r *UserRepository) UpdateReservations(ctx context.Context, userID string, ports []int, ranges []models.PortRange) error {
	res, err := r.users.UpdateOne(ctx, bson.M{"_id": userID}, bson.M{"$set": bson.M{
		"reserved_ports":       ports,
		"reserved_port_ranges": ranges,
		"updated_at":           time.Now().UTC(),
	}})
	if err != nil {
		return fmt.Errorf("failed to update reservations: %w", err)
	}
	if res.MatchedCount == 0 {
		return models.ErrUserNotFound
	}
	return nil
}

// Delete soft-deletes an account. The document stays behind so the email
// remains claimed and historical server records keep their owner.
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	now := time.Now().UTC()
	res, err := r.users.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"deleted_at": now,
		"updated_at": now,
	}})
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if res.MatchedCount == 0 {
		return models.ErrUserNotFound
	}
	return nil
}

// activeOnly extends a filter to exclude soft-deleted documents.
func activeOnly(filter bson.M) bson.M {
	filter["deleted_at"] = bson.M{"$exists": false}
	return filter
}
