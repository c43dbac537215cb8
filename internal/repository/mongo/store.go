package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Rrens/meeting-assistant/internal/config"
	"github.com/Rrens/meeting-assistant/internal/domain"
)

const collectionName = "meetings"

// meetingDoc embeds the transcript so one record is one document
type meetingDoc struct {
	ID          string                   `bson:"_id"`
	OwnerUserID string                   `bson:"owner_user_id"`
	SourceID    *string                  `bson:"source_id,omitempty"`
	Title       string                   `bson:"title"`
	Status      string                   `bson:"status"`
	StartTime   time.Time                `bson:"start_time"`
	EndTime     *time.Time               `bson:"end_time,omitempty"`
	Summary     *string                  `bson:"summary,omitempty"`
	EntryCount  int                      `bson:"entry_count"`
	Transcript  []domain.TranscriptEntry `bson:"transcript"`
}

func (d meetingDoc) record() (*domain.MeetingRecord, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid meeting id %q: %w", d.ID, err)
	}
	rec := &domain.MeetingRecord{
		ID:          id,
		OwnerUserID: d.OwnerUserID,
		SourceID:    d.SourceID,
		Title:       d.Title,
		Status:      domain.MeetingStatus(d.Status),
		StartTime:   d.StartTime.UTC(),
		Summary:     d.Summary,
		EntryCount:  d.EntryCount,
		Transcript:  d.Transcript,
	}
	if d.EndTime != nil {
		t := d.EndTime.UTC()
		rec.EndTime = &t
	}
	for i := range rec.Transcript {
		rec.Transcript[i].SpokenAt = rec.Transcript[i].SpokenAt.UTC()
	}
	return rec, nil
}

// Store implements domain.MeetingRepository on a MongoDB collection
type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// Open connects to MongoDB and ensures the collection indexes
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	clientOpts := options.Client().ApplyURI(cfg.DSN())
	clientOpts.SetConnectTimeout(10 * time.Second)
	if cfg.MaxConns > 0 {
		clientOpts.SetMaxPoolSize(uint64(cfg.MaxConns))
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping: %w", err)
	}

	coll := client.Database(cfg.Database).Collection(collectionName)
	_, err = coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "owner_user_id", Value: 1}, {Key: "start_time", Value: -1}}},
		{Keys: bson.D{{Key: "owner_user_id", Value: 1}, {Key: "source_id", Value: 1}, {Key: "status", Value: 1}}},
	})
	if err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}

	return &Store{client: client, coll: coll}, nil
}

func (s *Store) Create(ctx context.Context, rec *domain.MeetingRecord) error {
	doc := meetingDoc{
		ID:          rec.ID.String(),
		OwnerUserID: rec.OwnerUserID,
		SourceID:    rec.SourceID,
		Title:       rec.Title,
		Status:      string(rec.Status),
		StartTime:   rec.StartTime,
		EndTime:     rec.EndTime,
		Summary:     rec.Summary,
		EntryCount:  len(rec.Transcript),
		Transcript:  rec.Transcript,
	}
	if doc.Transcript == nil {
		doc.Transcript = []domain.TranscriptEntry{}
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to create meeting: %w", err)
	}
	return nil
}

func (s *Store) FindOpen(ctx context.Context, ownerUserID, sourceID string) (*domain.MeetingRecord, error) {
	filter := bson.M{"owner_user_id": ownerUserID, "source_id": sourceID, "status": string(domain.MeetingActive)}
	opts := options.FindOne().
		SetSort(bson.D{{Key: "start_time", Value: -1}}).
		SetProjection(bson.M{"transcript": 0})

	var doc meetingDoc
	err := s.coll.FindOne(ctx, filter, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find open meeting: %w", err)
	}
	return doc.record()
}

func (s *Store) AppendTranscript(ctx context.Context, meetingID uuid.UUID, entry domain.TranscriptEntry) error {
	return s.updateActive(ctx, meetingID, "append transcript", bson.M{
		"$push": bson.M{"transcript": entry},
		"$inc":  bson.M{"entry_count": 1},
	})
}

func (s *Store) MarkEnded(ctx context.Context, meetingID uuid.UUID, status domain.MeetingStatus, endedAt time.Time) error {
	return s.updateActive(ctx, meetingID, "end meeting", bson.M{
		"$set": bson.M{"status": string(status), "end_time": endedAt},
	})
}

func (s *Store) UpdateSummary(ctx context.Context, meetingID uuid.UUID, summary string) error {
	return s.updateActive(ctx, meetingID, "update summary", bson.M{
		"$set": bson.M{"summary": summary},
	})
}

func (s *Store) updateActive(ctx context.Context, meetingID uuid.UUID, op string, update bson.M) error {
	filter := bson.M{"_id": meetingID.String(), "status": string(domain.MeetingActive)}
	res, err := s.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if res.MatchedCount == 0 {
		return &domain.NotFoundError{Resource: "active meeting", Key: meetingID.String()}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, meetingID uuid.UUID) (*domain.MeetingRecord, error) {
	var doc meetingDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": meetingID.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get meeting: %w", err)
	}
	return doc.record()
}

func (s *Store) ListByOwner(ctx context.Context, ownerUserID string, limit, offset int) ([]domain.MeetingRecord, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "start_time", Value: -1}}).
		SetProjection(bson.M{"transcript": 0}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))

	cursor, err := s.coll.Find(ctx, bson.M{"owner_user_id": ownerUserID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list meetings: %w", err)
	}
	defer cursor.Close(ctx)

	var meetings []domain.MeetingRecord
	for cursor.Next(ctx) {
		var doc meetingDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode meeting: %w", err)
		}
		rec, err := doc.record()
		if err != nil {
			return nil, err
		}
		meetings = append(meetings, *rec)
	}
	return meetings, cursor.Err()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
