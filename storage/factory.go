package storage

import (
	"fmt"
	"os"
	"strings"
)

// CreateStorage creates the feature-flag and segment storages from a
// connection string. Auto-detects the storage type from the URL scheme.
//
// Supported formats:
//   - memory:// (process-local maps)
//   - redis://localhost:6379
//   - mongodb://localhost:27017/dbname
//
// If no connection string is provided, the STORAGE_URL environment variable
// is used, and memory:// when that is unset too.
func CreateStorage(connectionString string) (FeatureFlagStorage, SegmentStorage, error) {
	if connectionString == "" {
		connectionString = os.Getenv("STORAGE_URL")
		if connectionString == "" {
			connectionString = "memory://"
		}
	}

	switch {
	case strings.HasPrefix(connectionString, "memory://"):
		return NewMemoryFeatureFlagStorage(), NewMemorySegmentStorage(), nil

	case strings.HasPrefix(connectionString, "redis://"), strings.HasPrefix(connectionString, "rediss://"):
		db, err := NewRedisClient(connectionString)
		if err != nil {
			return nil, nil, err
		}
		return NewRedisFeatureFlagStorage(db), NewRedisSegmentStorage(db), nil

	case strings.HasPrefix(connectionString, "mongodb://"), strings.HasPrefix(connectionString, "mongodb+srv://"):
		db, err := NewMongoDatabase(connectionString)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		return NewMongoFeatureFlagStorage(db), NewMongoSegmentStorage(db), nil

	default:
		return nil, nil, fmt.Errorf("unsupported storage URL scheme: %s", connectionString)
	}
}
