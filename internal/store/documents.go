package store

import (
	"context"
	"fmt"

	"github.com/zulandar/docyard/internal/models"
)

// CreateDocument registers a new document in status new.
func (s *Store) CreateDocument(ctx context.Context, title, language string) (*models.Document, error) {
	if title == "" {
		return nil, fmt.Errorf("store: title is required")
	}
	if language == "" {
		language = "eng"
	}
	doc := models.Document{Title: title, Language: language, Status: models.DocNew}
	if err := s.db.WithContext(ctx).Create(&doc).Error; err != nil {
		return nil, fmt.Errorf("store: create document %q: %w", title, err)
	}
	return &doc, nil
}

// GetDocument returns the document with the given id, or ErrDocumentNotFound.
func (s *Store) GetDocument(ctx context.Context, id uint) (*models.Document, error) {
	var doc models.Document
	result := s.db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&doc)
	if result.Error != nil {
		return nil, fmt.Errorf("store: get document %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: %d", ErrDocumentNotFound, id)
	}
	return &doc, nil
}

// ListDocuments returns documents, newest first. An empty status matches all.
func (s *Store) ListDocuments(ctx context.Context, status string, limit int) ([]models.Document, error) {
	q := s.db.WithContext(ctx).Order("id DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var docs []models.Document
	if err := q.Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("store: list documents: %w", err)
	}
	return docs, nil
}

// SetDocumentStatus writes status only when it differs from the stored value.
// It reports whether a write happened.
func (s *Store) SetDocumentStatus(ctx context.Context, id uint, status string) (bool, error) {
	result := s.db.WithContext(ctx).Model(&models.Document{}).
		Where("id = ? AND status <> ?", id, status).
		Update("status", status)
	if result.Error != nil {
		return false, fmt.Errorf("store: set document %d status %s: %w", id, status, result.Error)
	}
	return result.RowsAffected > 0, nil
}
