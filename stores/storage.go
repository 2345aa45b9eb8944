package stores

import (
	"boardsync/config"
	"boardsync/core"
	"boardsync/stores/aws"
	"boardsync/stores/badger"
	"boardsync/stores/filesystem"
	"boardsync/stores/memory"
	"boardsync/stores/sqlite"
	"context"
	"errors"
	"io"

	"github.com/sirupsen/logrus"
)

// Store is a union interface that includes all store types.
type Store interface {
	core.StateStore
	core.AccessStore
	io.Closer
}

// splitStore keeps board state in one backend and access data in another.
type splitStore struct {
	core.StateStore
	core.AccessStore
	closers []io.Closer
}

func (s *splitStore) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// AdminOf returns the administrative side of a store returned by GetStore,
// if its access backend has one.
func AdminOf(store Store) (Admin, bool) {
	if s, ok := store.(*splitStore); ok {
		admin, ok := s.AccessStore.(Admin)
		return admin, ok
	}
	admin, ok := store.(Admin)
	return admin, ok
}

// Admin creates users, boards and grants. Only the memory and sqlite stores
// support it.
type Admin interface {
	CreateUser(ctx context.Context, user *core.User) error
	CreateBoard(ctx context.Context, board *core.Board) error
	GrantPermission(ctx context.Context, boardID, userID string, level core.Permission) error
}

func GetStore(cfg *config.Config) Store {
	storageField := logrus.Fields{
		"storageType": cfg.StorageType,
	}

	var store *splitStore
	switch cfg.StorageType {
	case "filesystem":
		storageField["basePath"] = cfg.LocalStoragePath
		storageField["dataSourceName"] = cfg.DataSourceName
		access := sqlite.NewStore(cfg.DataSourceName)
		store = &splitStore{StateStore: filesystem.NewStore(cfg.LocalStoragePath), AccessStore: access, closers: []io.Closer{access}}
	case "sqlite":
		storageField["dataSourceName"] = cfg.DataSourceName
		s := sqlite.NewStore(cfg.DataSourceName)
		store = &splitStore{StateStore: s, AccessStore: s, closers: []io.Closer{s}}
	case "s3":
		storageField["bucketName"] = cfg.S3BucketName
		storageField["dataSourceName"] = cfg.DataSourceName
		access := sqlite.NewStore(cfg.DataSourceName)
		store = &splitStore{StateStore: aws.NewStore(cfg.S3BucketName), AccessStore: access, closers: []io.Closer{access}}
	case "badger":
		storageField["badgerPath"] = cfg.BadgerPath
		storageField["dataSourceName"] = cfg.DataSourceName
		state := badger.NewStore(cfg.BadgerPath)
		access := sqlite.NewStore(cfg.DataSourceName)
		store = &splitStore{StateStore: state, AccessStore: access, closers: []io.Closer{state, access}}
	default:
		s := memory.NewStore()
		store = &splitStore{StateStore: s, AccessStore: s}
		storageField["storageType"] = "in-memory"
	}
	logrus.WithFields(storageField).Info("Use storage")
	return store
}
