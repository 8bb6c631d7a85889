// SPDX-FileCopyrightText: Copyright 2025 Ascending LLC
// SPDX-License-Identifier: Apache-2.0

// Package userstore resolves gateway usernames to durable user IDs. The
// gateway itself never creates users; it looks them up in whatever directory
// the deployment keeps (MongoDB in the managed product) and degrades to the
// bare username when no directory is wired.
package userstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/config"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/logger"
)

// ErrUserNotFound is returned when neither username nor email matches a
// directory record.
var ErrUserNotFound = errors.New("user not found")

// Resolver maps an authenticated principal to a durable user ID.
type Resolver interface {
	// ResolveUserID looks up by username first, then by email. A miss is not
	// fatal to token issuance; callers fall back to the username.
	ResolveUserID(ctx context.Context, username, email string) (string, error)
	Close(ctx context.Context) error
}

// New builds the resolver selected by cfg.
func New(ctx context.Context, cfg config.UserStoreConfig) (Resolver, error) {
	switch cfg.Type {
	case "", "none":
		return NoopResolver{}, nil
	case "memory":
		return NewMemoryResolver(nil), nil
	case "mongo":
		return NewMongoResolver(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown user store type: %q", cfg.Type)
	}
}

// NoopResolver reports every user as unknown.
type NoopResolver struct{}

// ResolveUserID always returns ErrUserNotFound.
func (NoopResolver) ResolveUserID(_ context.Context, _, _ string) (string, error) {
	return "", ErrUserNotFound
}

// Close is a no-op.
func (NoopResolver) Close(_ context.Context) error { return nil }

// MemoryResolver serves a fixed directory, mainly for tests.
type MemoryResolver struct {
	mu      sync.RWMutex
	byName  map[string]string
	byEmail map[string]string
}

// NewMemoryResolver builds a resolver over username→userID pairs.
func NewMemoryResolver(users map[string]string) *MemoryResolver {
	r := &MemoryResolver{
		byName:  make(map[string]string),
		byEmail: make(map[string]string),
	}
	for name, id := range users {
		r.byName[name] = id
	}
	return r
}

// Add registers a user record.
func (r *MemoryResolver) Add(username, email, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if username != "" {
		r.byName[username] = userID
	}
	if email != "" {
		r.byEmail[email] = userID
	}
}

// ResolveUserID looks up by username, then email.
func (r *MemoryResolver) ResolveUserID(_ context.Context, username, email string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id, ok := r.byName[username]; ok && username != "" {
		return id, nil
	}
	if id, ok := r.byEmail[email]; ok && email != "" {
		return id, nil
	}
	return "", ErrUserNotFound
}

// Close is a no-op.
func (*MemoryResolver) Close(_ context.Context) error { return nil }

// MongoResolver looks up users in a MongoDB collection with `username`,
// `email`, and `_id` fields.
type MongoResolver struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongoResolver connects to the directory database and verifies the
// connection.
func NewMongoResolver(ctx context.Context, cfg config.UserStoreConfig) (*MongoResolver, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	logger.Infof("Connected to MongoDB user store (db %s, collection %s)", cfg.Database, cfg.Collection)
	return &MongoResolver{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
	}, nil
}

type userRecord struct {
	ID       any    `bson:"_id"`
	Username string `bson:"username"`
	Email    string `bson:"email"`
}

// ResolveUserID queries by username first, then by email.
func (r *MongoResolver) ResolveUserID(ctx context.Context, username, email string) (string, error) {
	filters := []bson.M{}
	if username != "" {
		filters = append(filters, bson.M{"username": username})
	}
	if email != "" {
		filters = append(filters, bson.M{"email": email})
	}

	for _, filter := range filters {
		var rec userRecord
		err := r.collection.FindOne(ctx, filter).Decode(&rec)
		if errors.Is(err, mongo.ErrNoDocuments) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("user lookup failed: %w", err)
		}
		return fmt.Sprintf("%v", rec.ID), nil
	}
	return "", ErrUserNotFound
}

// Close disconnects from MongoDB.
func (r *MongoResolver) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}
