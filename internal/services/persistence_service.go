// internal/services/persistence_service.go
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/tidwall/gjson"

	apperrors "github.com/Corphon/calligrapher/internal/errors"
	"github.com/Corphon/calligrapher/internal/models"
	"github.com/Corphon/calligrapher/internal/storage"
	"github.com/Corphon/calligrapher/internal/utils"
)

// saveRecordFields must all be present, as strings, in a save file.
var saveRecordFields = []string{"version", "savedAt", "story", "state"}

// PersistenceService writes and reads SaveRecords.
type PersistenceService struct {
	storage *storage.FileStorage
	now     func() time.Time

	logger  *utils.Logger
	metrics *utils.MetricsCollector
}

// NewPersistenceService creates a save/restore service over fs.
func NewPersistenceService(fs *storage.FileStorage) *PersistenceService {
	return &PersistenceService{
		storage: fs,
		now:     time.Now,
		logger:  utils.GetLogger(),
		metrics: utils.GetMetricsCollector(),
	}
}

// Save writes the session's compiled story and engine state to path.
func (p *PersistenceService) Save(session *SessionService, sourcePath, path string) (err error) {
	defer func() { p.metrics.RecordSave(err) }()

	if session == nil || !session.Active() {
		return apperrors.NewValidationError("no active story to save", nil)
	}
	state, err := session.SaveState()
	if err != nil {
		return apperrors.WrapError(err, "serialize story state", apperrors.ErrorTypeError)
	}

	record := models.SaveRecord{
		Version:    models.SaveFormatVersion,
		SavedAt:    p.now().UTC(),
		Story:      session.Source(),
		State:      state,
		SourcePath: sourcePath,
	}
	if err := p.storage.SaveJSONFile(path, record); err != nil {
		return apperrors.NewProcessingError(fmt.Sprintf("could not write save file %s", path), err)
	}

	p.logger.Info("session saved", map[string]interface{}{"path": p.storage.Resolve(path)})
	return nil
}

// ReadRecord loads and validates a save file without touching any session.
func (p *PersistenceService) ReadRecord(path string) (*models.SaveRecord, error) {
	data, err := p.storage.LoadTextFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperrors.NewFileNotFoundError(path, err)
		}
		return nil, apperrors.NewInvalidSaveFileError(path, err)
	}
	if !gjson.ValidBytes(data) {
		return nil, apperrors.NewInvalidSaveFileError(path, fmt.Errorf("not valid JSON"))
	}

	results := gjson.GetManyBytes(data, saveRecordFields...)
	for i, r := range results {
		if r.Type != gjson.String {
			return nil, apperrors.NewInvalidSaveFileError(path,
				fmt.Errorf("missing or non-string field %q", saveRecordFields[i]))
		}
	}
	if v := results[0].String(); v != models.SaveFormatVersion {
		return nil, apperrors.NewInvalidSaveFileError(path, fmt.Errorf("unsupported save version %q", v))
	}

	var record models.SaveRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, apperrors.NewInvalidSaveFileError(path, err)
	}
	return &record, nil
}

// Restore loads the save file into session, leaving it ready to advance.
func (p *PersistenceService) Restore(ctx context.Context, session *SessionService, path string) (record *models.SaveRecord, err error) {
	defer func() { p.metrics.RecordRestore(err) }()

	record, err = p.ReadRecord(path)
	if err != nil {
		return nil, err
	}
	if err := session.Resume(ctx, record.Story, record.State); err != nil {
		if apperrors.IsEngineUnavailableError(err) {
			return nil, err
		}
		return nil, apperrors.NewRestoreFailedError(path, err)
	}

	p.logger.Info("session restored", map[string]interface{}{
		"path":     path,
		"saved_at": record.SavedAt.Format(time.RFC3339),
	})
	return record, nil
}
