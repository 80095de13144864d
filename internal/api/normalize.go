package api

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/bosla-edu/desk/internal/model"
)

// fieldTable maps a logical field name to its candidate wire keys, in lookup order.
type fieldTable map[string][]string

// keys expands each name into its camelCase and PascalCase spellings, keeping
// the order: first name camel, first name Pascal, then each alias the same way.
func keys(names ...string) []string {
	out := make([]string, 0, len(names)*2)
	for _, n := range names {
		out = append(out, lowerFirst(n))
		if p := upperFirst(n); p != lowerFirst(n) {
			out = append(out, p)
		}
	}
	return out
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToLower(r)) + s[size:]
}

func upperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}

var examFields = fieldTable{
	"id":           keys("id", "examId"),
	"title":        keys("title", "name"),
	"lectureId":    keys("lectureId"),
	"deadline":     keys("deadline", "deadLine", "endDate"),
	"duration":     keys("durationInMinutes", "duration"),
	"type":         keys("type", "examType"),
	"isVisible":    keys("isVisible", "isVisable", "visible"),
	"isRandomized": keys("isRandomized", "isRandom"),
	"questions":    keys("questions", "examQuestions"),
}

var questionFields = fieldTable{
	"id":                 keys("id", "questionId"),
	"examId":             keys("examId"),
	"questionType":       keys("questionType"),
	"content":            keys("content", "questionContent", "text"),
	"answerType":         keys("answerType"),
	"score":              keys("score", "points", "maxScore"),
	"correctByAssistant": keys("correctByAssistant"),
	"correctAnswerPath":  keys("correctAnswerPath", "correctAnswerFile", "correctAnswerImageUrl"),
	"options":            keys("options", "questionOptions", "choices"),
}

var optionFields = fieldTable{
	"id":         keys("id", "optionId"),
	"questionId": keys("questionId"),
	"content":    keys("content", "text", "optionContent"),
	"isCorrect":  keys("isCorrect", "correct"),
}

var answerFields = fieldTable{
	"id":              keys("id", "studentAnswerId", "answerId"),
	"questionId":      keys("questionId"),
	"question":        keys("question"),
	"questionContent": keys("questionContent", "questionText"),
	"questionType":    keys("questionType"),
	"answerType":      keys("answerType", "questionAnswerType"),
	"maxScore":        keys("maxScore", "questionScore", "score"),
	"selected":        keys("selectedOptions", "selectedOptionIds", "selectedOption", "selectedOptionId", "optionId"),
	"text":            keys("answerText", "textAnswer", "text", "essayAnswer"),
	"imageUrl":        keys("imageUrl", "answerImageUrl", "imagePath", "answerImage", "filePath"),
	"pointsEarned":    keys("pointsEarned", "points", "earnedPoints"),
	"isCorrect":       keys("isCorrect"),
	"feedback":        keys("feedback", "comment"),
}

var submissionFields = fieldTable{
	"id":             keys("id", "studentExamResultId", "examResultId"),
	"studentId":      keys("studentId", "userId"),
	"studentName":    keys("studentName", "fullName", "name", "userName"),
	"examId":         keys("examId"),
	"currentScore":   keys("currentScore", "score", "totalScore"),
	"isFinished":     keys("isFinished", "finished"),
	"submittedAt":    keys("submittedAt", "submissionDate", "finishedAt"),
	"totalAnswers":   keys("totalAnswers", "totalQuestions"),
	"gradedAnswers":  keys("gradedAnswers", "gradedCount"),
	"pendingAnswers": keys("pendingAnswers", "pendingCount", "ungradedAnswers"),
}

var scoreFields = fieldTable{
	"resultId":    keys("studentExamResultId", "examResultId", "id"),
	"studentId":   keys("studentId"),
	"studentName": keys("studentName", "fullName", "name"),
	"examId":      keys("examId"),
	"totalScore":  keys("totalScore", "currentScore", "score"),
	"maxScore":    keys("maxScore", "examMaxScore", "totalMaxScore"),
	"answers":     keys("answers", "studentAnswers", "questions"),
}

var exceptionFields = fieldTable{
	"id":                   keys("id"),
	"examId":               keys("examId"),
	"studentId":            keys("studentId"),
	"extendedDeadline":     keys("extendedDeadline"),
	"allowedAfterDeadline": keys("allowedAfterDeadline"),
	"reason":               keys("reason"),
}

var childFields = fieldTable{
	"studentId": keys("studentId", "id"),
	"name":      keys("name", "fullName", "studentName"),
	"grade":     keys("grade", "gradeName", "level"),
	"courses":   keys("courses", "coursesCount", "subscribedCourses"),
	"results":   keys("recentResults", "examResults", "results"),
}

var resultFields = fieldTable{
	"examId":   keys("examId", "id"),
	"title":    keys("title", "examTitle"),
	"score":    keys("score", "currentScore"),
	"maxScore": keys("maxScore", "totalScore"),
}

var teacherFields = fieldTable{
	"courses":              keys("courses", "coursesCount", "totalCourses"),
	"lectures":             keys("lectures", "lecturesCount", "totalLectures"),
	"students":             keys("students", "studentsCount", "totalStudents"),
	"pendingSubscriptions": keys("pendingSubscriptions", "pendingSubscriptionsCount"),
	"pendingGrading":       keys("pendingGrading", "ungradedSubmissions"),
	"revenue":              keys("revenue", "totalRevenue", "earnings"),
}

// record is one decoded JSON object read through a field table.
type record struct {
	raw   map[string]any
	table fieldTable
}

func newRecord(v any, table fieldTable) record {
	m, _ := v.(map[string]any)
	return record{raw: m, table: table}
}

func (r record) get(field string) (any, bool) {
	if r.raw == nil {
		return nil, false
	}
	candidates, ok := r.table[field]
	if !ok {
		candidates = keys(field)
	}
	for _, k := range candidates {
		if v, ok := r.raw[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func (r record) String(field string) string {
	v, ok := r.get(field)
	if !ok {
		return ""
	}
	return toString(v)
}

func (r record) Int64(field string) int64 {
	v, ok := r.get(field)
	if !ok {
		return 0
	}
	return toInt64(v)
}

func (r record) Float(field string) float64 {
	v, ok := r.get(field)
	if !ok {
		return 0
	}
	return toFloat(v)
}

// FloatPtr returns nil when the field is absent or null.
func (r record) FloatPtr(field string) *float64 {
	v, ok := r.get(field)
	if !ok {
		return nil
	}
	f := toFloat(v)
	return &f
}

func (r record) Bool(field string, def bool) bool {
	v, ok := r.get(field)
	if !ok {
		return def
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return def
		}
		return parsed
	case json.Number:
		return b.String() != "0"
	case float64:
		return b != 0
	}
	return def
}

func (r record) Time(field string) *time.Time {
	s := r.String(field)
	if s == "" {
		return nil
	}
	t, err := model.ParseDeadline(s, time.UTC)
	if err != nil || t.IsZero() || t.Year() <= 1 {
		return nil
	}
	return &t
}

func (r record) List(field string) []any {
	v, ok := r.get(field)
	if !ok {
		return nil
	}
	return toList(v)
}

func (r record) Object(field string) (map[string]any, bool) {
	v, ok := r.get(field)
	if !ok {
		return nil, false
	}
	m, ok := v.(map[string]any)
	return m, ok
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	}
	return ""
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
		f, _ := n.Float64()
		return int64(f)
	case float64:
		return int64(n)
	case string:
		i, _ := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i
	}
	return 0
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case json.Number:
		f, _ := n.Float64()
		return f
	case float64:
		return n
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f
	}
	return 0
}

func toList(v any) []any {
	switch l := v.(type) {
	case []any:
		return l
	case map[string]any:
		if inner, ok := unwrapData(l); ok {
			return toList(inner)
		}
	}
	return nil
}

// unwrapData returns the value under "data"/"Data" if the object is an envelope.
func unwrapData(m map[string]any) (any, bool) {
	for _, k := range []string{"data", "Data"} {
		if v, ok := m[k]; ok {
			return v, true
		}
	}
	return nil, false
}

// unwrap strips any number of {data: ...} envelopes.
func unwrap(v any) any {
	for {
		m, ok := v.(map[string]any)
		if !ok {
			return v
		}
		inner, ok := unwrapData(m)
		if !ok || inner == nil {
			return v
		}
		v = inner
	}
}

// NormalizeExam maps a raw exam payload to the client shape. Questions are
// sorted by ascending ID, which is creation order.
func NormalizeExam(v any) model.Exam {
	r := newRecord(unwrap(v), examFields)
	exam := model.Exam{
		ID:                r.Int64("id"),
		Title:             r.String("title"),
		LectureID:         r.Int64("lectureId"),
		Deadline:          r.Time("deadline"),
		DurationInMinutes: int(r.Int64("duration")),
		Type:              parseExamType(r.String("type")),
		IsVisible:         r.Bool("isVisible", true),
		IsRandomized:      r.Bool("isRandomized", false),
		Questions:         []model.Question{},
	}
	for _, raw := range r.List("questions") {
		q := NormalizeQuestion(raw)
		if q.ExamID == 0 {
			q.ExamID = exam.ID
		}
		exam.Questions = append(exam.Questions, q)
	}
	sort.SliceStable(exam.Questions, func(i, j int) bool {
		return exam.Questions[i].ID < exam.Questions[j].ID
	})
	return exam
}

func parseExamType(s string) model.ExamType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "2", "homework":
		return model.ExamTypeHomework
	default:
		return model.ExamTypeExam
	}
}

// NormalizeQuestion maps a raw question payload, including its options.
func NormalizeQuestion(v any) model.Question {
	r := newRecord(unwrap(v), questionFields)
	qt, err := model.ParseQuestionType(r.String("questionType"))
	if err != nil {
		qt = model.QuestionText
	}
	at, err := model.ParseAnswerType(r.String("answerType"))
	if err != nil {
		at = model.AnswerEssay
	}
	q := model.Question{
		ID:                 r.Int64("id"),
		ExamID:             r.Int64("examId"),
		QuestionType:       qt,
		Content:            r.String("content"),
		AnswerType:         at,
		Score:              r.Float("score"),
		CorrectByAssistant: r.Bool("correctByAssistant", false),
		CorrectAnswerPath:  r.String("correctAnswerPath"),
		Options:            []model.Option{},
	}
	for _, raw := range r.List("options") {
		o := NormalizeOption(raw)
		if o.QuestionID == 0 {
			o.QuestionID = q.ID
		}
		q.Options = append(q.Options, o)
	}
	sort.SliceStable(q.Options, func(i, j int) bool {
		return q.Options[i].ID < q.Options[j].ID
	})
	return q
}

// NormalizeOption maps a raw option payload.
func NormalizeOption(v any) model.Option {
	r := newRecord(unwrap(v), optionFields)
	return model.Option{
		ID:         r.Int64("id"),
		QuestionID: r.Int64("questionId"),
		Content:    r.String("content"),
		IsCorrect:  r.Bool("isCorrect", false),
	}
}

// NormalizeStudentAnswer maps one raw answer row. Question details may be
// nested under "question" or flattened onto the row.
func NormalizeStudentAnswer(v any) model.StudentAnswer {
	r := newRecord(unwrap(v), answerFields)
	a := model.StudentAnswer{
		ID:              r.Int64("id"),
		QuestionID:      r.Int64("questionId"),
		QuestionContent: r.String("questionContent"),
		MaxScore:        r.Float("maxScore"),
		Text:            r.String("text"),
		ImageURL:        r.String("imageUrl"),
		PointsEarned:    r.FloatPtr("pointsEarned"),
		IsCorrect:       r.Bool("isCorrect", false),
		Feedback:        r.String("feedback"),
	}
	qt, err := model.ParseQuestionType(r.String("questionType"))
	if err != nil {
		qt = model.QuestionText
	}
	a.QuestionType = qt
	a.AnswerType, _ = model.ParseAnswerType(r.String("answerType"))

	if nested, ok := r.Object("question"); ok {
		q := NormalizeQuestion(nested)
		if a.QuestionID == 0 {
			a.QuestionID = q.ID
		}
		if a.QuestionContent == "" {
			a.QuestionContent = q.Content
		}
		if a.MaxScore == 0 {
			a.MaxScore = q.Score
		}
		if !a.AnswerType.Valid() {
			a.AnswerType = q.AnswerType
		}
		a.QuestionType = q.QuestionType
	}
	if !a.AnswerType.Valid() {
		a.AnswerType = model.AnswerEssay
	}

	if v, ok := r.get("selected"); ok {
		a.SelectedOptions = normalizeSelected(v)
	}
	return a
}

// normalizeSelected accepts a list of option objects, a list of IDs, or a single ID.
func normalizeSelected(v any) []model.SelectedOption {
	var items []any
	switch s := v.(type) {
	case []any:
		items = s
	default:
		items = []any{s}
	}
	out := make([]model.SelectedOption, 0, len(items))
	for _, it := range items {
		switch o := it.(type) {
		case map[string]any:
			opt := NormalizeOption(o)
			out = append(out, model.SelectedOption{OptionID: opt.ID, Content: opt.Content})
		default:
			if id := toInt64(o); id != 0 {
				out = append(out, model.SelectedOption{OptionID: id})
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// NormalizeSubmission maps one row of the exam submissions list.
func NormalizeSubmission(v any) model.Submission {
	r := newRecord(unwrap(v), submissionFields)
	s := model.Submission{
		ID:             r.Int64("id"),
		StudentID:      r.Int64("studentId"),
		StudentName:    r.String("studentName"),
		ExamID:         r.Int64("examId"),
		CurrentScore:   r.Float("currentScore"),
		IsFinished:     r.Bool("isFinished", false),
		SubmittedAt:    r.Time("submittedAt"),
		TotalAnswers:   int(r.Int64("totalAnswers")),
		GradedAnswers:  int(r.Int64("gradedAnswers")),
		PendingAnswers: int(r.Int64("pendingAnswers")),
	}
	if _, ok := r.get("pendingAnswers"); !ok && s.TotalAnswers >= s.GradedAnswers {
		s.PendingAnswers = s.TotalAnswers - s.GradedAnswers
	}
	return s
}

// NormalizeStudentScore maps one student's full answer detail. The answer list
// is kept raw (duplicates included); the grading workbench dedupes it.
func NormalizeStudentScore(v any) model.StudentScore {
	inner := unwrap(v)
	if list, ok := inner.([]any); ok {
		inner = map[string]any{"answers": list}
	}
	r := newRecord(inner, scoreFields)
	s := model.StudentScore{
		StudentExamResultID: r.Int64("resultId"),
		StudentID:           r.Int64("studentId"),
		StudentName:         r.String("studentName"),
		ExamID:              r.Int64("examId"),
		TotalScore:          r.Float("totalScore"),
		MaxScore:            r.Float("maxScore"),
		Answers:             []model.StudentAnswer{},
	}
	for _, raw := range r.List("answers") {
		s.Answers = append(s.Answers, NormalizeStudentAnswer(raw))
	}
	return s
}

// NormalizeDeadlineException maps a created deadline exception.
func NormalizeDeadlineException(v any) model.DeadlineException {
	r := newRecord(unwrap(v), exceptionFields)
	d := model.DeadlineException{
		ID:                   r.Int64("id"),
		ExamID:               r.Int64("examId"),
		StudentID:            r.Int64("studentId"),
		AllowedAfterDeadline: r.Bool("allowedAfterDeadline", false),
		Reason:               r.String("reason"),
	}
	if t := r.Time("extendedDeadline"); t != nil {
		d.ExtendedDeadline = *t
	}
	return d
}

// NormalizeParentDashboard maps the parent dashboard; a bare list is read as children.
func NormalizeParentDashboard(v any) model.ParentDashboard {
	inner := unwrap(v)
	var children []any
	if list, ok := inner.([]any); ok {
		children = list
	} else {
		children = newRecord(inner, fieldTable{"children": keys("children", "students", "kids")}).List("children")
	}
	d := model.ParentDashboard{Children: []model.ChildSummary{}}
	for _, raw := range children {
		r := newRecord(raw, childFields)
		c := model.ChildSummary{
			StudentID:     r.Int64("studentId"),
			Name:          r.String("name"),
			Grade:         r.String("grade"),
			RecentResults: []model.ExamResult{},
		}
		if list := r.List("courses"); list != nil {
			c.Courses = len(list)
		} else {
			c.Courses = int(r.Int64("courses"))
		}
		for _, res := range r.List("results") {
			rr := newRecord(res, resultFields)
			c.RecentResults = append(c.RecentResults, model.ExamResult{
				ExamID:   rr.Int64("examId"),
				Title:    rr.String("title"),
				Score:    rr.Float("score"),
				MaxScore: rr.Float("maxScore"),
			})
		}
		d.Children = append(d.Children, c)
	}
	return d
}

// NormalizeTeacherDashboard maps the teacher dashboard counters.
func NormalizeTeacherDashboard(v any) model.TeacherDashboard {
	r := newRecord(unwrap(v), teacherFields)
	return model.TeacherDashboard{
		Courses:              int(r.Int64("courses")),
		Lectures:             int(r.Int64("lectures")),
		Students:             int(r.Int64("students")),
		PendingSubscriptions: int(r.Int64("pendingSubscriptions")),
		PendingGrading:       int(r.Int64("pendingGrading")),
		Revenue:              r.Float("revenue"),
	}
}

// createdID extracts the identifier of a freshly created entity, looking at the
// usual id keys of the payload and of a nested entity object. Zero means absent.
func createdID(v any, nested ...string) int64 {
	inner := unwrap(v)
	switch t := inner.(type) {
	case json.Number, float64, string:
		return toInt64(t)
	case map[string]any:
		r := newRecord(t, fieldTable{"id": keys(append([]string{"id"}, idKeysFor(nested)...)...)})
		if id := r.Int64("id"); id != 0 {
			return id
		}
		for _, n := range nested {
			if obj, ok := newRecord(t, fieldTable{}).Object(n); ok {
				if id := createdID(obj); id != 0 {
					return id
				}
			}
		}
	}
	return 0
}

func idKeysFor(nested []string) []string {
	out := make([]string, 0, len(nested))
	for _, n := range nested {
		out = append(out, n+"Id")
	}
	return out
}
