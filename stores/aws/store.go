package aws

import (
	"boardsync/core"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"
)

const statePrefix = "board-states"

// objectAPI is the part of the S3 client the store uses.
type objectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type s3Store struct {
	s3Client objectAPI
	bucket   string
}

// NewStore creates a new S3-based state store using the default AWS config chain.
func NewStore(bucketName string) *s3Store {
	cfg, err := config.LoadDefaultConfig(context.TODO())
	if err != nil {
		log.Fatalf("unable to load SDK config, %v", err)
	}

	return newStore(s3.NewFromConfig(cfg), bucketName)
}

func newStore(client objectAPI, bucketName string) *s3Store {
	return &s3Store{
		s3Client: client,
		bucket:   bucketName,
	}
}

func (s *s3Store) stateKey(boardID string) (string, error) {
	// Board ids are plain names, never paths.
	if boardID == "" || boardID == "." || boardID == ".." || path.Base(boardID) != boardID {
		return "", fmt.Errorf("invalid board id %q", boardID)
	}
	return path.Join(statePrefix, boardID), nil
}

func (s *s3Store) LoadState(ctx context.Context, boardID string) (*core.BoardState, error) {
	key, err := s.stateKey(boardID)
	if err != nil {
		return nil, err
	}

	resp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, core.ErrStateNotFound
		}
		return nil, fmt.Errorf("failed to get state for board %s: %w", boardID, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read state data: %w", err)
	}

	state := &core.BoardState{BoardID: boardID, Data: data}
	if resp.LastModified != nil {
		state.UpdatedAt = *resp.LastModified
	}
	return state, nil
}

func (s *s3Store) SaveState(ctx context.Context, boardID string, data []byte) error {
	key, err := s.stateKey(boardID)
	if err != nil {
		return err
	}

	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"updated-at": time.Now().UTC().Format(time.RFC3339Nano),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to save state for board %s: %w", boardID, err)
	}

	logrus.WithFields(logrus.Fields{
		"board_id":    boardID,
		"bucket":      s.bucket,
		"data_length": len(data),
	}).Debug("Board state uploaded")
	return nil
}

func (s *s3Store) DeleteState(ctx context.Context, boardID string) error {
	key, err := s.stateKey(boardID)
	if err != nil {
		return err
	}

	_, err = s.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete state for board %s: %w", boardID, err)
	}
	return nil
}
