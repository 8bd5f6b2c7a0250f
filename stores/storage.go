package stores

import (
	"os"

	"github.com/sirupsen/logrus"

	"studysync-collab/core"
	"studysync-collab/stores/aws"
	"studysync-collab/stores/filesystem"
	"studysync-collab/stores/memory"
	"studysync-collab/stores/redis"
	"studysync-collab/stores/sqlite"
)

// GetStore selects the persistence gateway backend from STORAGE_TYPE.
func GetStore() core.StateStore {
	storageType := os.Getenv("STORAGE_TYPE")
	var store core.StateStore

	storageField := logrus.Fields{
		"storageType": storageType,
	}

	switch storageType {
	case "filesystem":
		basePath := os.Getenv("LOCAL_STORAGE_PATH")
		if basePath == "" {
			basePath = "./data"
		}
		storageField["basePath"] = basePath
		store = filesystem.NewStateStore(basePath)
	case "sqlite":
		dataSourceName := os.Getenv("DATA_SOURCE_NAME")
		if dataSourceName == "" {
			dataSourceName = "collab.db"
		}
		storageField["dataSourceName"] = dataSourceName
		store = sqlite.NewStateStore(dataSourceName)
	case "redis":
		addr := os.Getenv("REDIS_ADDR")
		if addr == "" {
			addr = "localhost:6379"
		}
		storageField["addr"] = addr
		store = redis.NewStateStore(addr)
	case "s3":
		bucketName := os.Getenv("S3_BUCKET_NAME")
		if bucketName == "" {
			logrus.Fatal("S3_BUCKET_NAME environment variable must be set for s3 storage type")
		}
		storageField["bucketName"] = bucketName
		store = aws.NewStateStore(bucketName)
	default:
		store = memory.NewStateStore()
		storageField["storageType"] = "in-memory"
	}
	logrus.WithFields(storageField).Info("Use storage")
	return store
}
