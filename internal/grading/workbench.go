// Package grading lists submissions and drives the per-student grading
// workbench: dedup, navigation, clamped points, image replacement and the
// single batch save.
package grading

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/bosla-edu/desk/internal/model"
)

// DuplicateFeedback tags the zero record sent for a hidden duplicate answer.
const DuplicateFeedback = "auto-zeroed duplicate"

// ErrOutOfRange is returned by Jump for an index outside the answer list.
var ErrOutOfRange = errors.New("answer index out of range")

// ErrUnknownAnswer is returned for an answer id not on the workbench.
var ErrUnknownAnswer = errors.New("unknown answer")

// Entry is one visible answer with the grade being entered for it.
type Entry struct {
	Answer   model.StudentAnswer `json:"answer"`
	Points   float64             `json:"points"`
	Feedback string              `json:"feedback"`
	Dirty    bool                `json:"dirty"`
}

// IsCorrect reports full marks.
func (e Entry) IsCorrect() bool {
	return e.Answer.MaxScore > 0 && e.Points >= e.Answer.MaxScore
}

// Workbench holds one student's answers while they are graded. It is safe
// for concurrent use.
type Workbench struct {
	mu       sync.Mutex
	score    model.StudentScore
	entries  []Entry
	hidden   []model.StudentAnswer
	raw      int
	cursor   int
	previews map[int64]Preview
	gen      uint64
	uploads  sync.WaitGroup
}

// NewWorkbench dedupes the raw answers and seeds every visible answer with
// its existing points (or 0) and feedback.
func NewWorkbench(score model.StudentScore) *Workbench {
	visible, hidden := Dedupe(score.Answers)
	w := &Workbench{
		score:    score,
		hidden:   hidden,
		raw:      len(score.Answers),
		previews: map[int64]Preview{},
	}
	for _, a := range visible {
		e := Entry{Answer: a, Feedback: a.Feedback}
		if a.PointsEarned != nil {
			e.Points = clamp(*a.PointsEarned, a.MaxScore)
		}
		w.entries = append(w.entries, e)
	}
	return w
}

// ResultID is the student exam result being graded.
func (w *Workbench) ResultID() int64 { return w.score.StudentExamResultID }

// StudentName is the student whose answers are on the workbench.
func (w *Workbench) StudentName() string { return w.score.StudentName }

func clamp(v, max float64) float64 {
	if math.IsNaN(v) || v < 0 || max <= 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

// Len returns the number of visible answers.
func (w *Workbench) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

// Index returns the position of the current answer.
func (w *Workbench) Index() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cursor
}

// Current returns the answer under the cursor.
func (w *Workbench) Current() (Entry, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.entries) == 0 {
		return Entry{}, false
	}
	return w.entries[w.cursor], true
}

// Entries returns a copy of every visible answer.
func (w *Workbench) Entries() []Entry {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Entry(nil), w.entries...)
}

// Hidden returns the duplicate answers that are not shown.
func (w *Workbench) Hidden() []model.StudentAnswer {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]model.StudentAnswer(nil), w.hidden...)
}

// Next moves to the next answer. It reports false at the end.
func (w *Workbench) Next() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cursor+1 >= len(w.entries) {
		return false
	}
	w.cursor++
	return true
}

// Prev moves to the previous answer. It reports false at the start.
func (w *Workbench) Prev() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cursor == 0 {
		return false
	}
	w.cursor--
	return true
}

// Jump moves to answer i.
func (w *Workbench) Jump(i int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if i < 0 || i >= len(w.entries) {
		return fmt.Errorf("%w: %d of %d", ErrOutOfRange, i, len(w.entries))
	}
	w.cursor = i
	return nil
}

// Select moves to the answer with the given id.
func (w *Workbench) Select(answerID int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	i, err := w.find(answerID)
	if err != nil {
		return err
	}
	w.cursor = i
	return nil
}

func (w *Workbench) find(answerID int64) (int, error) {
	for i, e := range w.entries {
		if e.Answer.ID == answerID {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w %d", ErrUnknownAnswer, answerID)
}

// SetPoints stores points for the current answer, clamped to [0, max], and
// returns the stored value.
func (w *Workbench) SetPoints(v float64) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.entries) == 0 {
		return 0
	}
	e := &w.entries[w.cursor]
	e.Points = clamp(v, e.Answer.MaxScore)
	e.Dirty = true
	return e.Points
}

// Zero gives the current answer no points.
func (w *Workbench) Zero() float64 { return w.SetPoints(0) }

// Half gives the current answer floor(max/2) points.
func (w *Workbench) Half() float64 {
	e, ok := w.Current()
	if !ok {
		return 0
	}
	return w.SetPoints(math.Floor(e.Answer.MaxScore / 2))
}

// Full gives the current answer its maximum score.
func (w *Workbench) Full() float64 {
	e, ok := w.Current()
	if !ok {
		return 0
	}
	return w.SetPoints(e.Answer.MaxScore)
}

// SetFeedback stores feedback for the current answer.
func (w *Workbench) SetFeedback(s string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.entries) == 0 {
		return
	}
	w.entries[w.cursor].Feedback = s
	w.entries[w.cursor].Dirty = true
}

// Total sums the points of the visible answers.
func (w *Workbench) Total() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	var t float64
	for _, e := range w.entries {
		t += e.Points
	}
	return t
}

// MaxScore sums the max scores of the visible answers.
func (w *Workbench) MaxScore() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	var t float64
	for _, e := range w.entries {
		t += e.Answer.MaxScore
	}
	return t
}

// Dirty reports whether any grade changed since the workbench was opened or saved.
func (w *Workbench) Dirty() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, e := range w.entries {
		if e.Dirty {
			return true
		}
	}
	return false
}

// BatchPayload builds the grade save body: one record per visible answer and
// a zero record for each hidden duplicate, so the record count always equals
// the raw answer count.
func (w *Workbench) BatchPayload() model.GradeBatch {
	w.mu.Lock()
	defer w.mu.Unlock()
	b := model.GradeBatch{
		StudentExamResultID: w.score.StudentExamResultID,
		GradedAnswers:       make([]model.GradedAnswer, 0, w.raw),
	}
	for _, e := range w.entries {
		b.GradedAnswers = append(b.GradedAnswers, model.GradedAnswer{
			StudentAnswerID: e.Answer.ID,
			PointsEarned:    e.Points,
			IsCorrect:       e.IsCorrect(),
			Feedback:        e.Feedback,
		})
	}
	for _, a := range w.hidden {
		b.GradedAnswers = append(b.GradedAnswers, model.GradedAnswer{
			StudentAnswerID: a.ID,
			PointsEarned:    0,
			IsCorrect:       false,
			Feedback:        DuplicateFeedback,
		})
	}
	return b
}

func (w *Workbench) markSaved() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range w.entries {
		w.entries[i].Dirty = false
		p := w.entries[i].Points
		w.entries[i].Answer.PointsEarned = &p
		w.entries[i].Answer.Feedback = w.entries[i].Feedback
	}
}

// Draft is the unsaved grading state of one workbench.
type Draft struct {
	Points   map[int64]float64 `json:"points"`
	Feedback map[int64]string  `json:"feedback"`
	Cursor   int               `json:"cursor"`
}

// Draft captures the grades entered so far.
func (w *Workbench) Draft() Draft {
	w.mu.Lock()
	defer w.mu.Unlock()
	d := Draft{Points: map[int64]float64{}, Feedback: map[int64]string{}, Cursor: w.cursor}
	for _, e := range w.entries {
		if e.Dirty {
			d.Points[e.Answer.ID] = e.Points
			d.Feedback[e.Answer.ID] = e.Feedback
		}
	}
	return d
}

// Restore applies a draft. Unknown answers are skipped and points are clamped again.
func (w *Workbench) Restore(d Draft) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range w.entries {
		e := &w.entries[i]
		if p, ok := d.Points[e.Answer.ID]; ok {
			e.Points = clamp(p, e.Answer.MaxScore)
			e.Dirty = true
		}
		if f, ok := d.Feedback[e.Answer.ID]; ok {
			e.Feedback = f
			e.Dirty = true
		}
	}
	if d.Cursor >= 0 && d.Cursor < len(w.entries) {
		w.cursor = d.Cursor
	}
}

// View is the JSON rendering of a workbench.
type View struct {
	ResultID    int64              `json:"studentExamResultId"`
	StudentID   int64              `json:"studentId"`
	StudentName string             `json:"studentName"`
	ExamID      int64              `json:"examId"`
	Index       int                `json:"index"`
	Count       int                `json:"count"`
	Current     *Entry             `json:"current,omitempty"`
	Entries     []Entry            `json:"entries"`
	Hidden      int                `json:"hiddenDuplicates"`
	Total       float64            `json:"total"`
	MaxScore    float64            `json:"maxScore"`
	Dirty       bool               `json:"dirty"`
	Previews    map[string]Preview `json:"previews,omitempty"`
}

// View renders the workbench.
func (w *Workbench) View() View {
	v := View{
		ResultID:    w.score.StudentExamResultID,
		StudentID:   w.score.StudentID,
		StudentName: w.score.StudentName,
		ExamID:      w.score.ExamID,
		Index:       w.Index(),
		Count:       w.Len(),
		Entries:     w.Entries(),
		Hidden:      len(w.Hidden()),
		Total:       w.Total(),
		MaxScore:    w.MaxScore(),
		Dirty:       w.Dirty(),
	}
	if e, ok := w.Current(); ok {
		v.Current = &e
	}
	if v.Entries == nil {
		v.Entries = []Entry{}
	}
	w.mu.Lock()
	if len(w.previews) > 0 {
		v.Previews = make(map[string]Preview, len(w.previews))
		for id, p := range w.previews {
			v.Previews[fmt.Sprint(id)] = p
		}
	}
	w.mu.Unlock()
	return v
}

func (w *Workbench) logAttrs() []any {
	return []any{"result_id", w.score.StudentExamResultID, "student_id", w.score.StudentID}
}
