package store

import (
	"context"
	"io"

	"catalog-desk/internal/client"

	"go.uber.org/zap"
)

// Upload streams a spreadsheet to the backend, reporting byte-upload
// progress through state. Only one upload is active at a time: starting a
// new one aborts the in-flight request first. Cancellation returns the state
// to idle without surfacing an error; on success warnings are kept and a
// reset-fetch reflects the newly ingested data.
//
// Upload state machine: idle -> uploading -> idle (success or cancel), or
// idle plus error state on failure. A failed upload is not resumable; retry
// is a fresh Upload.
func (s *Store) Upload(ctx context.Context, filename string, r io.Reader, size int64) error {
	s.mu.Lock()
	if s.uploadCancel != nil {
		s.uploadCancel()
	}
	uploadCtx, cancel := context.WithCancel(ctx)
	s.uploadCancel = cancel
	s.uploadGen++
	gen := s.uploadGen
	s.state.Uploading = true
	s.state.UploadProgress = 0
	s.state.UploadWarnings = nil
	s.state.LastError = ""
	s.publishLocked()

	result, err := s.backend.Upload(uploadCtx, filename, r, size, func(pct int) {
		s.mu.Lock()
		if gen != s.uploadGen || !s.state.Uploading || pct <= s.state.UploadProgress {
			s.mu.Unlock()
			return
		}
		s.state.UploadProgress = pct
		s.publishLocked()
	})
	cancel()

	s.mu.Lock()
	if gen != s.uploadGen {
		// Superseded by a newer upload; its bookkeeping owns the state now.
		s.mu.Unlock()
		return nil
	}
	s.uploadCancel = nil
	s.state.Uploading = false
	s.state.UploadProgress = 0
	if err != nil {
		if client.IsCanceled(err) {
			s.publishLocked()
			return nil
		}
		s.state.LastError = errText(err)
		s.publishLocked()
		s.logger.Warn("upload failed", zap.String("file", filename), zap.Error(err))
		return err
	}
	s.state.UploadWarnings = result.Warnings
	s.publishLocked()

	return s.FetchPage(ctx, true)
}

// CancelUpload aborts the in-flight upload, if any. Safe to call at any
// time, including after the upload has already finished or been superseded.
func (s *Store) CancelUpload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uploadCancel != nil {
		s.uploadCancel()
	}
}
