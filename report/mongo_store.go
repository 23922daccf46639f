package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const maxInsertAttempts = 3

// MongoStore keeps report versions in the reportVersions collection.
type MongoStore struct {
	coll *mongo.Collection
	now  func() time.Time
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{coll: db.Collection(CollectionName), now: time.Now}
}

// EnsureIndexes creates the unique (patientId, version) index.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "patientId", Value: 1}, {Key: "version", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("patient_version_unique"),
	})
	if err != nil {
		return fmt.Errorf("create report index: %w", err)
	}
	return nil
}

func (s *MongoStore) Create(ctx context.Context, v *Version) error {
	if err := Validate(v, s.now()); err != nil {
		return err
	}
	v.CreatedAt = s.now().UTC()

	// concurrent writers race on max+1; the unique index rejects the loser
	for attempt := 1; ; attempt++ {
		latest, err := s.Latest(ctx, v.PatientID)
		switch {
		case errors.Is(err, ErrNotFound):
			v.Version = 1
		case err != nil:
			return err
		default:
			v.Version = latest.Version + 1
		}

		v.ID = primitive.NewObjectID()
		_, err = s.coll.InsertOne(ctx, v)
		if err == nil {
			return nil
		}
		if !mongo.IsDuplicateKeyError(err) || attempt >= maxInsertAttempts {
			return fmt.Errorf("insert report version: %w", err)
		}
	}
}

func (s *MongoStore) List(ctx context.Context, patientID uint) ([]Version, error) {
	cur, err := s.coll.Find(ctx, bson.M{"patientId": patientID}, options.Find().SetSort(bson.D{{Key: "version", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find report versions: %w", err)
	}
	defer cur.Close(ctx)

	versions := []Version{}
	if err := cur.All(ctx, &versions); err != nil {
		return nil, fmt.Errorf("decode report versions: %w", err)
	}
	return versions, nil
}

func (s *MongoStore) Get(ctx context.Context, patientID uint, version int) (Version, error) {
	return s.findOne(ctx, bson.M{"patientId": patientID, "version": version}, options.FindOne())
}

func (s *MongoStore) Latest(ctx context.Context, patientID uint) (Version, error) {
	return s.findOne(ctx, bson.M{"patientId": patientID}, options.FindOne().SetSort(bson.D{{Key: "version", Value: -1}}))
}

func (s *MongoStore) findOne(ctx context.Context, filter bson.M, opts *options.FindOneOptions) (Version, error) {
	var v Version
	err := s.coll.FindOne(ctx, filter, opts).Decode(&v)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Version{}, ErrNotFound
	}
	if err != nil {
		return Version{}, fmt.Errorf("find report version: %w", err)
	}
	return v, nil
}
