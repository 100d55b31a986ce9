package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"ProjChat/module/chat/model"
	errs "ProjChat/tools/errs"
	"ProjChat/tools/ids"
)

const seqTableName = "context_seq"

// MongoStore is the durable message store. Ids are snowflakes assigned
// at persistence time; Seq comes from a per-context counter document so
// each context has a monotonic total order (no cross-context ordering).
type MongoStore struct {
	db       *mongo.Database
	messages *mongo.Collection
	seq      *mongo.Collection
}

// OpenMongo connects and pings; the relay refuses to start without its
// store.
func OpenMongo(ctx context.Context, uri, dbName string) (*MongoStore, error) {
	cli, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "mongo connect")
	}
	if err := cli.Ping(ctx, readpref.Primary()); err != nil {
		return nil, errors.Wrap(err, "mongo ping")
	}
	db := cli.Database(dbName)
	return &MongoStore{
		db:       db,
		messages: db.Collection(model.MsgTableName),
		seq:      db.Collection(seqTableName),
	}, nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.db.Client().Disconnect(ctx)
}

// nextSeq atomically bumps the per-context counter.
func (s *MongoStore) nextSeq(ctx context.Context, contextKey string) (int64, error) {
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	err := s.seq.FindOneAndUpdate(ctx,
		bson.M{"_id": contextKey},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return 0, errors.Wrap(err, "next seq")
	}
	return doc.Seq, nil
}

// AppendMessage persists one message and returns it with its canonical
// id, seq and timestamp filled in.
func (s *MongoStore) AppendMessage(ctx context.Context, conv model.ConversationContext, sender model.Identity, content, attachmentRef string) (*model.Message, error) {
	receiver, ok := conv.Counterpart(sender)
	if !ok {
		return nil, errs.ErrStoreRejected.WrapMsg("sender not in context", "sender", sender.Key())
	}

	seq, err := s.nextSeq(ctx, conv.Key())
	if err != nil {
		return nil, errs.ErrStoreUnavailable.WrapMsg("seq", "err", err)
	}

	msg := &model.Message{
		ID:            ids.GenerateString(),
		ContextKey:    conv.Key(),
		ProjectID:     conv.ProjectID,
		Seq:           seq,
		Sender:        sender,
		Receiver:      receiver,
		Content:       content,
		AttachmentRef: attachmentRef,
		CreatedAt:     time.Now().UTC(),
	}
	if _, err := s.messages.InsertOne(ctx, msg); err != nil {
		return nil, errs.ErrStoreUnavailable.WrapMsg("insert", "err", err)
	}
	return msg, nil
}

// FetchTranscript returns the full ordered history for a context. A
// context with no prior history yields an empty slice, never an error.
func (s *MongoStore) FetchTranscript(ctx context.Context, conv model.ConversationContext) ([]*model.Message, error) {
	cur, err := s.messages.Find(ctx,
		bson.M{"context_key": conv.Key()},
		options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}),
	)
	if err != nil {
		return nil, errs.ErrStoreUnavailable.WrapMsg("find", "err", err)
	}
	defer cur.Close(ctx)

	out := make([]*model.Message, 0, 64)
	for cur.Next(ctx) {
		var m model.Message
		if err := cur.Decode(&m); err != nil {
			return nil, errs.ErrStoreUnavailable.WrapMsg("decode", "err", err)
		}
		out = append(out, &m)
	}
	if err := cur.Err(); err != nil {
		return nil, errs.ErrStoreUnavailable.WrapMsg("cursor", "err", err)
	}
	return out, nil
}

// EnsureIndexes creates the transcript query index; safe to call on
// every startup.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "context_key", Value: 1}, {Key: "seq", Value: 1}},
	})
	return errors.Wrap(err, "create index")
}
