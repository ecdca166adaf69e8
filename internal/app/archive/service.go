package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/stanislavb/roleOOC/internal/app/model"
	"github.com/stanislavb/roleOOC/internal/app/store"
	"github.com/stanislavb/roleOOC/internal/pkg/errs"
	"github.com/stanislavb/roleOOC/internal/pkg/logx"
	"github.com/stanislavb/roleOOC/internal/pkg/randx"
)

const contentType = "text/plain; charset=utf-8"

// Service combines archive metadata and bodies.
type Service struct {
	meta    store.ArchiveStore
	objects ObjectStore
	logger  zerolog.Logger
}

// NewService returns a Service reading metadata from meta and bodies from objects.
func NewService(meta store.ArchiveStore, objects ObjectStore) *Service {
	return &Service{
		meta:    meta,
		objects: objects,
		logger:  logx.Component("archive"),
	}
}

// Document is an archive together with its text.
type Document struct {
	model.Archive
	Text []string `json:"text"`
}

// Upload stores body and registers its metadata. The object is removed again if the
// metadata cannot be written.
func (s *Service) Upload(ctx context.Context, a model.Archive, body []byte) (model.Archive, error) {
	a.ArchiveID = strings.ToLower(a.ArchiveID)
	if !randx.IsValidRoomName(a.ArchiveID) {
		return model.Archive{}, errs.NewError(errs.ErrInvalidInput)
	}
	if len(body) == 0 || len(body) > MaxBodySize {
		return model.Archive{}, errs.NewError(errs.ErrInvalidInput)
	}

	// Checked up front so a duplicate upload never overwrites the existing body.
	if _, err := s.meta.GetArchive(ctx, a.ArchiveID); err == nil {
		return model.Archive{}, errs.NewError(errs.ErrConflict, "Archive")
	} else if !errors.Is(err, store.ErrNotFound) {
		return model.Archive{}, errs.Wrap(errs.ErrStorage, err)
	}

	a.ObjectKey = fmt.Sprintf("archives/%s.txt", a.ArchiveID)
	if err := s.objects.Put(ctx, a.ObjectKey, contentType, bytes.NewReader(body)); err != nil {
		return model.Archive{}, errs.Wrap(errs.ErrStorage, err)
	}

	if err := s.meta.AddArchive(ctx, a); err != nil {
		if delErr := s.objects.Delete(ctx, a.ObjectKey); delErr != nil {
			s.logger.Warn().Err(delErr).Str("key", a.ObjectKey).Msg("Failed to remove orphaned archive body")
		}
		if errors.Is(err, store.ErrConflict) {
			return model.Archive{}, errs.Wrap(errs.ErrConflict, err, "Archive")
		}
		return model.Archive{}, errs.Wrap(errs.ErrStorage, err)
	}

	s.logger.Info().Str("archive_id", a.ArchiveID).Int("access_level", a.AccessLevel).Msg("Archive uploaded")
	return a, nil
}

// Get returns the archive if accessLevel is high enough. Archives above the caller's
// level are reported as missing.
func (s *Service) Get(ctx context.Context, archiveID string, accessLevel int) (Document, error) {
	a, err := s.meta.GetArchive(ctx, archiveID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && a.AccessLevel > accessLevel) {
		return Document{}, errs.NewError(errs.ErrNotFound, "Archive")
	}
	if err != nil {
		return Document{}, errs.Wrap(errs.ErrStorage, err)
	}

	body, err := s.objects.Get(ctx, a.ObjectKey)
	if errors.Is(err, ErrObjectNotFound) {
		return Document{}, errs.Wrap(errs.ErrNotFound, err, "Archive")
	}
	if err != nil {
		return Document{}, errs.Wrap(errs.ErrStorage, err)
	}

	return Document{Archive: a, Text: strings.Split(strings.TrimRight(string(body), "\n"), "\n")}, nil
}

// List returns the archives visible at accessLevel.
func (s *Service) List(ctx context.Context, accessLevel int) ([]model.Archive, error) {
	archives, err := s.meta.ListArchives(ctx, accessLevel)
	if err != nil {
		return nil, errs.Wrap(errs.ErrStorage, err)
	}
	return archives, nil
}
