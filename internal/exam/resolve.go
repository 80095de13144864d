package exam

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const (
	// DefaultResolveDelay is how long to wait before re-fetching the exam when
	// the create-question response carried no identifier.
	DefaultResolveDelay = 800 * time.Millisecond
	// DefaultResolveWindow is how many of the most recent questions are searched.
	DefaultResolveWindow = 5
)

// resolveCreatedID recovers the identifier of a question the API created
// without echoing it back. It re-fetches the lecture exam and searches the
// last few questions: exact content first, then prefix or substring match,
// then the newest question. Best effort; the match is not guaranteed unique.
//
// Delete this once the create-question endpoint always returns the id.
func (s *Service) resolveCreatedID(ctx context.Context, lectureID int64, content string) (int64, error) {
	if err := s.sleep(ctx, s.resolveDelay); err != nil {
		return 0, err
	}
	e, err := s.gw.LectureExam(ctx, lectureID)
	if err != nil {
		return 0, fmt.Errorf("re-fetch exam: %w", err)
	}
	if e == nil || len(e.Questions) == 0 {
		return 0, nil
	}

	// Questions are sorted by ascending id, so the tail is the newest.
	recent := e.Questions
	if len(recent) > s.window {
		recent = recent[len(recent)-s.window:]
	}
	want := strings.TrimSpace(content)

	for i := len(recent) - 1; i >= 0; i-- {
		if strings.TrimSpace(recent[i].Content) == want {
			return recent[i].ID, nil
		}
	}
	if want != "" {
		for i := len(recent) - 1; i >= 0; i-- {
			got := strings.TrimSpace(recent[i].Content)
			if got == "" {
				continue
			}
			if strings.HasPrefix(got, want) || strings.HasPrefix(want, got) || strings.Contains(got, want) {
				return recent[i].ID, nil
			}
		}
	}
	last := recent[len(recent)-1]
	slog.Warn("no content match for created question, using newest", "lecture_id", lectureID, "question_id", last.ID)
	return last.ID, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
