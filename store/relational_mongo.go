package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ghiac/agentize/model"
)

// MongoRelationalStore is an alternate C4 backend for deployments that
// already run MongoDB. It implements RelationalStore's message-log methods
// (AppendMessage, GetSessionMessages, ListSessions) against two
// collections, sessions and messages; it has no agents or api_keys
// collections and no CreateSession, GetSession, SetSessionActive or
// DeleteSession. Nothing in this module constructs it: config accepts
// AGENTIZE_RELATIONAL_STORE_BACKEND=mongo, but agentize.New always opens
// the sqlite RelationalStore.
type MongoRelationalStore struct {
	client   *mongo.Client
	database *mongo.Database
}

// NewMongoRelationalStore connects to uri and selects dbName.
func NewMongoRelationalStore(ctx context.Context, uri, dbName string) (*MongoRelationalStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo relational store: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("mongo relational store: ping: %w", err)
	}
	return &MongoRelationalStore{client: client, database: client.Database(dbName)}, nil
}

// Close disconnects the underlying client.
func (s *MongoRelationalStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

type mongoSessionDoc struct {
	SessionID string    `bson:"session_id"`
	UserID    string    `bson:"user_id"`
	AgentID   string    `bson:"agent_id"`
	Title     string    `bson:"title"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

type mongoMessageDoc struct {
	SessionID string    `bson:"session_id"`
	UserID    string    `bson:"user_id"`
	Role      string    `bson:"role"`
	Content   string    `bson:"content"`
	CreatedAt time.Time `bson:"created_at"`
}

// AppendMessage mirrors RelationalStore.AppendMessage's contract against
// Mongo collections instead of sqlite tables.
func (s *MongoRelationalStore) AppendMessage(ctx context.Context, sessionID, userID, agentID string, role model.ChatRole, content string) error {
	now := time.Now().UTC()
	sessions := s.database.Collection("sessions")

	var existing mongoSessionDoc
	err := sessions.FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&existing)
	switch {
	case err == mongo.ErrNoDocuments:
		_, err = sessions.InsertOne(ctx, mongoSessionDoc{
			SessionID: sessionID, UserID: userID, AgentID: agentID, Title: model.TitleFromContent(content),
			CreatedAt: now, UpdatedAt: now,
		})
		if err != nil {
			return fmt.Errorf("mongo relational store: create session: %w", err)
		}
	case err != nil:
		return fmt.Errorf("mongo relational store: find session: %w", err)
	default:
		_, err = sessions.UpdateOne(ctx, bson.M{"session_id": sessionID}, bson.M{"$set": bson.M{"updated_at": now}})
		if err != nil {
			return fmt.Errorf("mongo relational store: touch session: %w", err)
		}
	}

	_, err = s.database.Collection("messages").InsertOne(ctx, mongoMessageDoc{
		SessionID: sessionID, UserID: userID, Role: string(role), Content: content, CreatedAt: now,
	})
	if err != nil {
		return fmt.Errorf("mongo relational store: append message: %w", err)
	}
	return nil
}

// GetSessionMessages returns the last topK messages oldest->newest.
func (s *MongoRelationalStore) GetSessionMessages(ctx context.Context, userID, sessionID string, topK int) ([]model.ChatMessage, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(int64(topK))
	cur, err := s.database.Collection("messages").Find(ctx, bson.M{"session_id": sessionID, "user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo relational store: get session messages: %w", err)
	}
	defer cur.Close(ctx)

	var reversed []model.ChatMessage
	for cur.Next(ctx) {
		var doc mongoMessageDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("mongo relational store: decode message: %w", err)
		}
		reversed = append(reversed, model.ChatMessage{
			SessionID: doc.SessionID, UserID: doc.UserID,
			Role: model.ChatRole(doc.Role), Content: doc.Content, Timestamp: doc.CreatedAt,
		})
	}
	out := make([]model.ChatMessage, len(reversed))
	for i, m := range reversed {
		out[len(reversed)-1-i] = m
	}
	return out, nil
}

// ListSessions returns every session owned by userID.
func (s *MongoRelationalStore) ListSessions(ctx context.Context, userID string) ([]model.Session, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: 1}})
	cur, err := s.database.Collection("sessions").Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo relational store: list sessions: %w", err)
	}
	defer cur.Close(ctx)

	var out []model.Session
	for cur.Next(ctx) {
		var doc mongoSessionDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("mongo relational store: decode session: %w", err)
		}
		out = append(out, model.Session{
			SessionID: doc.SessionID, UserID: doc.UserID, AgentID: doc.AgentID, Title: doc.Title,
			CreatedAt: doc.CreatedAt, UpdatedAt: doc.UpdatedAt,
		})
	}
	return out, nil
}
