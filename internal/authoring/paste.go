package authoring

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/bosla-edu/desk/internal/model"
)

// Zone is an image drop zone on the form.
type Zone string

const (
	// ZoneQuestion receives the question image.
	ZoneQuestion Zone = "question"
	// ZoneAnswer receives the model answer image.
	ZoneAnswer Zone = "answer"
)

// ErrNotImage is returned when an attachment is not an image.
var ErrNotImage = errors.New("attachment is not an image")

// Hover records the drop zone the pointer last entered. Pastes go there.
func (f *Form) Hover(z Zone) {
	if z == ZoneQuestion || z == ZoneAnswer {
		f.hovered = z
	}
}

// Hovered returns the last hovered drop zone.
func (f *Form) Hovered() Zone { return f.hovered }

// Paste routes clipboard bytes to the last hovered image slot. Anything that
// is not an image is left alone and false is returned, so ordinary text
// pasting keeps working.
func (f *Form) Paste(data []byte) bool {
	file, err := sniffImage("pasted", data)
	if err != nil {
		return false
	}
	f.attach(f.hovered, file)
	return true
}

// AttachImage puts an uploaded file in a slot after checking it is an image.
func (f *Form) AttachImage(z Zone, name string, data []byte) error {
	if z != ZoneQuestion && z != ZoneAnswer {
		return fmt.Errorf("unknown drop zone %q", z)
	}
	file, err := sniffImage(name, data)
	if err != nil {
		return err
	}
	f.attach(z, file)
	return nil
}

func (f *Form) attach(z Zone, file *model.File) {
	if z == ZoneAnswer {
		f.answerImage = file
		f.answerDirty = true
	} else {
		f.image = file
		f.imageDirty = true
		f.questionType = model.QuestionImage
	}
	f.touch()
}

func sniffImage(name string, data []byte) (*model.File, error) {
	if len(data) == 0 {
		return nil, ErrNotImage
	}
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return nil, fmt.Errorf("%w: %s", ErrNotImage, mt.String())
	}
	if !strings.Contains(name, ".") {
		name += mt.Extension()
	}
	return &model.File{Name: name, ContentType: mt.String(), Data: data}, nil
}
