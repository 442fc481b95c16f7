package storage

import (
	"context"
	"errors"
	"log"
	"sort"

	"github.com/b-open-io/flagpush/dtos"
	"github.com/b-open-io/flagpush/internal/utils"
	"github.com/segmentio/encoding/json"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/x/mongo/driver/connstring"
)

const (
	flagsCollection    = "splits"
	segmentsCollection = "segments"
	metaCollection     = "meta"
	flagsTillID        = "splits.till"
)

// NewMongoDatabase connects and selects the database named in connString,
// defaulting to "flagpush".
func NewMongoDatabase(connString string) (*mongo.Database, error) {
	log.Println("Connecting to MongoDB Storage...", utils.SanitizeConnectionString(connString))
	client, err := mongo.Connect(options.Client().ApplyURI(connString))
	if err != nil {
		return nil, err
	}

	dbName := "flagpush"
	if cs, err := connstring.ParseAndValidate(connString); err == nil && cs.Database != "" {
		dbName = cs.Database
	}
	return client.Database(dbName), nil
}

type flagDoc struct {
	Name         string   `bson:"_id"`
	ChangeNumber int64    `bson:"changeNumber"`
	Definition   []byte   `bson:"definition"`
	Segments     []string `bson:"segments"`
}

type tillDoc struct {
	ID   string `bson:"_id"`
	Till int64  `bson:"till"`
}

// MongoFeatureFlagStorage stores one document per flag.
type MongoFeatureFlagStorage struct {
	DB *mongo.Database
}

func NewMongoFeatureFlagStorage(db *mongo.Database) *MongoFeatureFlagStorage {
	return &MongoFeatureFlagStorage{DB: db}
}

func (s *MongoFeatureFlagStorage) ChangeNumber(ctx context.Context) (int64, error) {
	var doc tillDoc
	err := s.DB.Collection(metaCollection).FindOne(ctx, bson.M{"_id": flagsTillID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return NoChangeNumber, nil
	} else if err != nil {
		return NoChangeNumber, err
	}
	return doc.Till, nil
}

func (s *MongoFeatureFlagStorage) Update(ctx context.Context, toAdd []dtos.SplitDTO, toRemove []dtos.SplitDTO, changeNumber int64) error {
	flags := s.DB.Collection(flagsCollection)
	for _, flag := range toAdd {
		doc, err := newFlagDoc(flag)
		if err != nil {
			return err
		}
		if _, err := flags.ReplaceOne(ctx, bson.M{"_id": flag.Name}, doc, options.Replace().SetUpsert(true)); err != nil {
			return err
		}
	}
	for _, flag := range toRemove {
		if _, err := flags.DeleteOne(ctx, bson.M{"_id": flag.Name}); err != nil {
			return err
		}
	}
	_, err := s.DB.Collection(metaCollection).UpdateOne(ctx,
		bson.M{"_id": flagsTillID},
		bson.M{"$set": bson.M{"till": changeNumber}},
		options.UpdateOne().SetUpsert(true),
	)
	return err
}

func (s *MongoFeatureFlagStorage) FeatureFlag(ctx context.Context, name string) (*dtos.SplitDTO, error) {
	var doc flagDoc
	err := s.DB.Collection(flagsCollection).FindOne(ctx, bson.M{"_id": name}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return doc.flag()
}

func (s *MongoFeatureFlagStorage) KillLocally(ctx context.Context, name, defaultTreatment string, changeNumber int64) error {
	flag, err := s.FeatureFlag(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return nil
	} else if err != nil {
		return err
	}
	if flag.ChangeNumber >= changeNumber {
		return nil
	}
	flag.Killed = true
	flag.DefaultTreatment = defaultTreatment
	flag.ChangeNumber = changeNumber

	doc, err := newFlagDoc(*flag)
	if err != nil {
		return err
	}
	// Only replace when nobody stored a newer definition meanwhile.
	_, err = s.DB.Collection(flagsCollection).ReplaceOne(ctx,
		bson.M{"_id": name, "changeNumber": bson.M{"$lt": changeNumber}},
		doc,
	)
	return err
}

func (s *MongoFeatureFlagStorage) SegmentNames(ctx context.Context) ([]string, error) {
	var names []string
	if err := s.DB.Collection(flagsCollection).Distinct(ctx, "segments", bson.M{}).Decode(&names); err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (s *MongoFeatureFlagStorage) Close() error {
	return s.DB.Client().Disconnect(context.Background())
}

func newFlagDoc(flag dtos.SplitDTO) (*flagDoc, error) {
	raw, err := json.Marshal(flag)
	if err != nil {
		return nil, err
	}
	segments := flag.SegmentNames()
	if segments == nil {
		segments = []string{}
	}
	return &flagDoc{
		Name:         flag.Name,
		ChangeNumber: flag.ChangeNumber,
		Definition:   raw,
		Segments:     segments,
	}, nil
}

func (d *flagDoc) flag() (*dtos.SplitDTO, error) {
	var flag dtos.SplitDTO
	if err := json.Unmarshal(d.Definition, &flag); err != nil {
		return nil, err
	}
	return &flag, nil
}

type segmentDoc struct {
	Name string   `bson:"_id"`
	Keys []string `bson:"keys"`
	Till int64    `bson:"till"`
}

// MongoSegmentStorage stores one document per segment.
type MongoSegmentStorage struct {
	DB *mongo.Database
}

func NewMongoSegmentStorage(db *mongo.Database) *MongoSegmentStorage {
	return &MongoSegmentStorage{DB: db}
}

func (s *MongoSegmentStorage) Segment(ctx context.Context, name string) (*dtos.SegmentDTO, error) {
	var doc segmentDoc
	err := s.DB.Collection(segmentsCollection).FindOne(ctx, bson.M{"_id": name}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	sort.Strings(doc.Keys)
	return &dtos.SegmentDTO{Name: doc.Name, Keys: doc.Keys, ChangeNumber: doc.Till}, nil
}

func (s *MongoSegmentStorage) ChangeNumber(ctx context.Context, name string) (int64, error) {
	seg, err := s.Segment(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return NoChangeNumber, nil
	} else if err != nil {
		return NoChangeNumber, err
	}
	return seg.ChangeNumber, nil
}

func (s *MongoSegmentStorage) Update(ctx context.Context, name string, toAdd, toRemove []string, changeNumber int64) error {
	coll := s.DB.Collection(segmentsCollection)
	if len(toAdd) > 0 {
		if _, err := coll.UpdateOne(ctx,
			bson.M{"_id": name},
			bson.M{"$addToSet": bson.M{"keys": bson.M{"$each": toAdd}}},
			options.UpdateOne().SetUpsert(true),
		); err != nil {
			return err
		}
	}
	if len(toRemove) > 0 {
		if _, err := coll.UpdateOne(ctx,
			bson.M{"_id": name},
			bson.M{"$pullAll": bson.M{"keys": toRemove}},
		); err != nil {
			return err
		}
	}
	_, err := coll.UpdateOne(ctx,
		bson.M{"_id": name},
		bson.M{"$set": bson.M{"till": changeNumber}},
		options.UpdateOne().SetUpsert(true),
	)
	return err
}

// Close is a no-op, the client is owned by the flag storage.
func (s *MongoSegmentStorage) Close() error {
	return nil
}
