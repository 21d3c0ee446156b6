package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/AnshRaj112/chatrelay-backend/internal/models"
)

// MessagesCollection is the collection holding processed webhook messages.
const MessagesCollection = "processed_messages"

// MongoStore implements MessageStore on a MongoDB collection.
type MongoStore struct {
	coll *mongo.Collection
}

// NewMongoStore returns a MongoStore using the given collection.
func NewMongoStore(coll *mongo.Collection) *MongoStore {
	return &MongoStore{coll: coll}
}

// EnsureIndexes creates the unique msg_id index and the (wa_id, timestamp) index
// used by conversation pagination. Called on startup after Mongo has connected.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "msg_id", Value: 1}},
			Options: options.Index().SetName("uniq_msg_id").SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "wa_id", Value: 1},
				{Key: "timestamp", Value: -1},
			},
			Options: options.Index().SetName("idx_wa_timestamp"),
		},
		{
			Keys:    bson.D{{Key: "timestamp", Value: 1}},
			Options: options.Index().SetName("idx_timestamp"),
		},
	}
	if _, err := s.coll.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create message indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) UpsertMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	now := time.Now().UTC()
	status := msg.Status
	if status == "" {
		status = models.MessageStatusSent
	}

	filter := bson.M{"msg_id": msg.MsgID}
	update := bson.M{
		"$setOnInsert": bson.M{
			"msg_id":     msg.MsgID,
			"wa_id":      msg.WaID,
			"name":       msg.Name,
			"text":       msg.Text,
			"timestamp":  msg.Timestamp.UTC(),
			"status":     status,
			"created_at": now,
			"updated_at": now,
		},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var stored models.Message
	err := s.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&stored)
	if mongo.IsDuplicateKeyError(err) {
		// Lost the insert race against a concurrent delivery of the same msg_id;
		// the winner's document is the one to return.
		err = s.coll.FindOne(ctx, filter).Decode(&stored)
	}
	if err != nil {
		return nil, fmt.Errorf("upsert message %s: %w", msg.MsgID, err)
	}
	return &stored, nil
}

func (s *MongoStore) UpdateStatus(ctx context.Context, msgID string, status models.MessageStatus) (*models.Message, error) {
	update := bson.M{
		"$set": bson.M{
			"status":     status,
			"updated_at": time.Now().UTC(),
		},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var updated models.Message
	err := s.coll.FindOneAndUpdate(ctx, bson.M{"msg_id": msgID}, update, opts).Decode(&updated)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update status %s: %w", msgID, err)
	}
	return &updated, nil
}

func (s *MongoStore) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.Message, error) {
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	msgs := []models.Message{}
	if err := cur.All(ctx, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func sortDirection(order SortOrder) int {
	if order == Descending {
		return -1
	}
	return 1
}

func (s *MongoStore) ListByCounterparty(ctx context.Context, waID string, order SortOrder) ([]models.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: sortDirection(order)}})
	msgs, err := s.find(ctx, bson.M{"wa_id": waID}, opts)
	if err != nil {
		return nil, fmt.Errorf("list messages for %s: %w", waID, err)
	}
	return msgs, nil
}

func (s *MongoStore) ListAll(ctx context.Context) ([]models.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})
	msgs, err := s.find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

func unreadFilter(waID string) bson.M {
	return bson.M{
		"wa_id":  waID,
		"status": bson.M{"$ne": models.MessageStatusRead},
	}
}

func (s *MongoStore) CountUnread(ctx context.Context, waID string) (int64, error) {
	n, err := s.coll.CountDocuments(ctx, unreadFilter(waID))
	if err != nil {
		return 0, fmt.Errorf("count unread for %s: %w", waID, err)
	}
	return n, nil
}

func (s *MongoStore) MarkAllRead(ctx context.Context, waID string) (int64, error) {
	update := bson.M{
		"$set": bson.M{
			"status":     models.MessageStatusRead,
			"updated_at": time.Now().UTC(),
		},
	}
	res, err := s.coll.UpdateMany(ctx, unreadFilter(waID), update)
	if err != nil {
		return 0, fmt.Errorf("mark read for %s: %w", waID, err)
	}
	return res.ModifiedCount, nil
}

// Page sorts newest-first to pick the window, then reverses it to oldest-first for the UI.
func (s *MongoStore) Page(ctx context.Context, waID string, page, size int) ([]models.Message, int64, error) {
	filter := bson.M{"wa_id": waID}
	total, err := s.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count messages for %s: %w", waID, err)
	}
	skip := PageSkip(page, size)
	if skip >= total {
		return []models.Message{}, total, nil
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetSkip(skip).
		SetLimit(int64(size))

	msgs, err := s.find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("page messages for %s: %w", waID, err)
	}

	reverse(msgs)
	return msgs, total, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.coll.Database().Client().Ping(ctx, nil)
}
