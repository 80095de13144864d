package grading

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bosla-edu/desk/internal/model"
)

// Phase is the state of a replacement image preview.
type Phase string

const (
	// PhasePendingLocal shows the local file while the upload is in flight.
	PhasePendingLocal Phase = "pending-local"
	// PhaseConfirmedRemote means the API accepted the upload.
	PhaseConfirmedRemote Phase = "confirmed-remote"
	// PhaseFailed means the upload was rejected; the local file is still shown.
	PhaseFailed Phase = "failed"
)

// Preview is the replacement image of one answer. The local copy is shown
// immediately; RemoteURL is only known once the API confirms, and may stay
// empty when the API does not echo one.
type Preview struct {
	AnswerID    int64     `json:"answerId"`
	Phase       Phase     `json:"phase"`
	LocalName   string    `json:"localName"`
	ContentType string    `json:"contentType"`
	RemoteURL   string    `json:"remoteUrl,omitempty"`
	Error       string    `json:"error,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
	local       []byte
	gen         uint64
}

// Local returns the locally held image bytes.
func (p Preview) Local() []byte { return p.local }

// ImageUploader sends a replacement answer image.
type ImageUploader interface {
	ReplaceAnswerImage(ctx context.Context, answerID int64, file *model.File) (string, error)
}

// ReplaceImage shows file as the answer's image right away and uploads it in
// the background. The upload outlives ctx cancellation; WaitUploads blocks
// until every upload has settled.
func (w *Workbench) ReplaceImage(ctx context.Context, up ImageUploader, answerID int64, file *model.File) (Preview, error) {
	if file.Empty() {
		return Preview{}, errors.New("replace image: empty file")
	}
	w.mu.Lock()
	if _, err := w.find(answerID); err != nil {
		w.mu.Unlock()
		return Preview{}, err
	}
	p := Preview{
		AnswerID:    answerID,
		Phase:       PhasePendingLocal,
		LocalName:   file.Name,
		ContentType: file.ContentType,
		UpdatedAt:   time.Now(),
		local:       file.Data,
	}
	w.gen++
	p.gen = w.gen
	w.previews[answerID] = p
	w.uploads.Add(1)
	w.mu.Unlock()

	go func(ctx context.Context) {
		defer w.uploads.Done()
		url, err := up.ReplaceAnswerImage(ctx, answerID, file)

		w.mu.Lock()
		defer w.mu.Unlock()
		cur, ok := w.previews[answerID]
		if !ok || cur.gen != p.gen {
			return // superseded by a newer upload
		}
		cur.UpdatedAt = time.Now()
		if err != nil {
			slog.Warn("replace answer image failed", "answer_id", answerID, "error", err)
			cur.Phase = PhaseFailed
			cur.Error = err.Error()
			w.previews[answerID] = cur
			return
		}
		cur.Phase = PhaseConfirmedRemote
		cur.RemoteURL = url
		w.previews[answerID] = cur
		if i, ferr := w.find(answerID); ferr == nil && url != "" {
			w.entries[i].Answer.ImageURL = url
		}
	}(context.WithoutCancel(ctx))

	return p, nil
}

// Preview returns the replacement image state of an answer.
func (w *Workbench) Preview(answerID int64) (Preview, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.previews[answerID]
	return p, ok
}

// WaitUploads blocks until all image uploads have finished.
func (w *Workbench) WaitUploads() {
	w.uploads.Wait()
}
