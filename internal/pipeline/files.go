package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/hyperjump/dataforge/internal/fileid"
	"github.com/hyperjump/dataforge/internal/models"
	"github.com/hyperjump/dataforge/internal/splitter"
	"github.com/hyperjump/dataforge/internal/storage"
	"go.uber.org/zap"
)

// ErrUnsupportedFile is returned for paths that are not regular files with an allowed extension.
var ErrUnsupportedFile = errors.New("unsupported file")

// IngestFile extracts the text of the file at path and uploads it into the project. The
// document ID is derived from the project and absolute path, so ingesting the same file again
// replaces the earlier document once the new text has a domain tree; if that fails the earlier
// document is kept. A file whose text has not changed is skipped and reported with a nil result. If allowedExts is non-empty the extension must be in it.
func (o *Orchestrator) IngestFile(ctx context.Context, s Settings, projectID, path string, allowedExts []string) (*IngestResult, error) {
	if err := requireID("project id", projectID); err != nil {
		return nil, err
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(absPath))
	if len(allowedExts) > 0 && !ExtensionAllowed(ext, allowedExts) {
		return nil, fmt.Errorf("%w: extension %q not in allowed list", ErrUnsupportedFile, ext)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: not a regular file: %s", ErrUnsupportedFile, absPath)
	}
	o.logger.Debug("ingesting file", zap.String("path", absPath))

	text, err := o.extractor.Extract(absPath)
	if err != nil {
		return nil, fmt.Errorf("extract content: %w", err)
	}
	docID := fileid.DocumentID(projectID, absPath)
	in := models.DocumentInput{ID: docID, Name: filepath.Base(absPath), Content: text}
	prev, err := o.store.GetDocument(ctx, docID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		prev = nil
	case err != nil:
		return nil, err
	case prev.Content == splitter.Normalize(text) && !prev.Stage.Before(models.StageDomainTreeBuilt):
		o.logger.Debug("skipping unchanged file", zap.String("path", absPath))
		return nil, nil
	default:
		// The previous version stays in place until the new one has a domain tree.
		in.ID = docID + "~" + uuid.New().String()
	}

	res, err := o.Upload(ctx, s, projectID, in)
	if err != nil {
		return nil, err
	}
	if prev != nil {
		if err := o.replaceDocument(ctx, docID, res); err != nil {
			return nil, err
		}
	}
	o.logger.Debug("file ingested", zap.String("path", absPath), zap.String("document_id", docID))
	return res, nil
}

// replaceDocument moves a staged upload onto id, dropping the document stored there before.
func (o *Orchestrator) replaceDocument(ctx context.Context, id string, staged *IngestResult) error {
	stagedID := staged.Document.ID
	if err := o.store.ReplaceDocument(ctx, id, stagedID); err != nil {
		o.rollback(ctx, staged.Document)
		return fmt.Errorf("failed to replace document: %w", err)
	}
	staged.Document.ID = id
	for _, c := range staged.Chunks {
		c.DocumentID = id
	}
	if o.index != nil {
		for _, d := range []string{id, stagedID} {
			if err := o.index.DeleteDocument(ctx, d); err != nil {
				o.logger.Warn("index delete failed", zap.String("document_id", d), zap.Error(err))
			}
		}
		if err := o.index.IndexChunks(ctx, staged.Chunks); err != nil {
			o.logger.Warn("chunk indexing failed", zap.String("document_id", id), zap.Error(err))
		}
	}
	o.logger.Debug("document replaced", zap.String("document_id", id), zap.String("staged_id", stagedID))
	return nil
}

// IngestDirectory walks dir recursively and ingests each regular file whose extension is in
// allowedExts (all files when empty). It returns the number of documents ingested and stops
// at the first error.
func (o *Orchestrator) IngestDirectory(ctx context.Context, s Settings, projectID, dir string, allowedExts []string) (n int, err error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return 0, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("not a directory: %s", absDir)
	}
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if len(allowedExts) > 0 && !ExtensionAllowed(filepath.Ext(path), allowedExts) {
			return nil
		}
		// Resolve symlinks so only regular files are ingested
		finfo, statErr := os.Stat(path)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		res, ingestErr := o.IngestFile(ctx, s, projectID, path, allowedExts)
		if ingestErr != nil {
			return fmt.Errorf("%s: %w", path, ingestErr)
		}
		if res != nil {
			n++
		}
		return nil
	})
	return n, err
}

// RemoveFile deletes the document ingested from path, if any.
func (o *Orchestrator) RemoveFile(ctx context.Context, projectID, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("absolute path: %w", err)
	}
	err = o.DeleteDocument(ctx, projectID, fileid.DocumentID(projectID, absPath))
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

// ExtensionAllowed reports whether ext (with or without the dot) is in allowed, ignoring case.
func ExtensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}
