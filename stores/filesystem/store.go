package filesystem

import (
	"boardsync/core"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

const stateExt = ".state"

type fsStore struct {
	basePath string
}

// NewStore creates a new filesystem-based state store, one file per board.
func NewStore(basePath string) *fsStore {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		log.Fatalf("failed to create base directory: %v", err)
	}
	return &fsStore{basePath: basePath}
}

// statePath resolves the file for a board and rejects ids that would escape
// the base directory.
func (s *fsStore) statePath(boardID string) (string, error) {
	if boardID == "" || boardID == "." || boardID == ".." || filepath.Base(boardID) != boardID {
		return "", fmt.Errorf("invalid board id %q", boardID)
	}

	absBase, err := filepath.Abs(s.basePath)
	if err != nil {
		return "", err
	}
	absFile, err := filepath.Abs(filepath.Join(s.basePath, boardID+stateExt))
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(absFile, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid path: access denied")
	}
	return absFile, nil
}

func (s *fsStore) LoadState(ctx context.Context, boardID string) (*core.BoardState, error) {
	filePath, err := s.statePath(boardID)
	if err != nil {
		return nil, err
	}
	log := logrus.WithFields(logrus.Fields{"board_id": boardID, "file_path": filePath})

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Debug("No saved state for board")
			return nil, core.ErrStateNotFound
		}
		log.WithError(err).Error("Failed to read board state")
		return nil, err
	}

	info, err := os.Stat(filePath)
	if err != nil {
		log.WithError(err).Error("Failed to get file stats")
		return nil, err
	}

	log.WithField("data_length", len(data)).Debug("Board state loaded")
	return &core.BoardState{BoardID: boardID, Data: data, UpdatedAt: info.ModTime()}, nil
}

// SaveState writes through a temp file and rename so a crash never leaves a
// truncated state behind.
func (s *fsStore) SaveState(ctx context.Context, boardID string, data []byte) error {
	filePath, err := s.statePath(boardID)
	if err != nil {
		return err
	}
	log := logrus.WithFields(logrus.Fields{"board_id": boardID, "file_path": filePath})

	tmp, err := os.CreateTemp(s.basePath, boardID+".*.tmp")
	if err != nil {
		log.WithError(err).Error("Failed to create temp file")
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		log.WithError(err).Error("Failed to write board state")
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, filePath); err != nil {
		log.WithError(err).Error("Failed to move board state into place")
		return err
	}

	log.WithField("data_length", len(data)).Debug("Board state saved")
	return nil
}

func (s *fsStore) DeleteState(ctx context.Context, boardID string) error {
	filePath, err := s.statePath(boardID)
	if err != nil {
		return err
	}

	if err := os.Remove(filePath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		logrus.WithField("board_id", boardID).WithError(err).Error("Failed to delete board state")
		return err
	}
	return nil
}
