package grading

import (
	"sort"

	"github.com/bosla-edu/desk/internal/model"
)

// Dedupe keeps one answer per question. A record with content (image, text
// or selected options) beats an empty one whatever the order; among equals
// the first wins. Visible answers are sorted by question id; hidden ones keep
// their raw order.
//
// The API can return several rows for one question. Whether that is a bug or
// an attempt log is unknown, so hidden rows are zeroed on save rather than
// dropped.
func Dedupe(raw []model.StudentAnswer) (visible, hidden []model.StudentAnswer) {
	keep := map[int64]int{} // question id -> index in raw
	order := []int64{}
	for i, a := range raw {
		j, seen := keep[a.QuestionID]
		if !seen {
			keep[a.QuestionID] = i
			order = append(order, a.QuestionID)
			continue
		}
		if !raw[j].HasContent() && a.HasContent() {
			keep[a.QuestionID] = i
		}
	}

	kept := make(map[int]bool, len(keep))
	for _, qid := range order {
		i := keep[qid]
		kept[i] = true
		visible = append(visible, raw[i])
	}
	for i, a := range raw {
		if !kept[i] {
			hidden = append(hidden, a)
		}
	}
	sort.SliceStable(visible, func(i, j int) bool {
		return visible[i].QuestionID < visible[j].QuestionID
	})
	return visible, hidden
}
