// Package views renders the desk pages. The *_templ.go files are generated.
package views

//go:generate go run github.com/a-h/templ/cmd/templ@v0.3.977 generate

import (
	"context"
	"strconv"
	"time"

	"github.com/bosla-edu/desk/internal/grading"
	"github.com/bosla-edu/desk/internal/i18n"
)

func textDir(ctx context.Context) string {
	if i18n.IsRTL(i18n.Lang(ctx)) {
		return "rtl"
	}
	return "ltr"
}

func formatID(id int64) string { return strconv.FormatInt(id, 10) }

func formatCount(n int) string { return strconv.Itoa(n) }

func formatBool(b bool) string { return strconv.FormatBool(b) }

func formatNumber(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

func formatMoney(f float64) string { return strconv.FormatFloat(f, 'f', 2, 64) }

func formatScore(got, max float64) string {
	return formatNumber(got) + " / " + formatNumber(max)
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04")
}

func previewLabel(ctx context.Context, p grading.Preview) string {
	switch p.Phase {
	case grading.PhaseConfirmedRemote:
		return i18n.T(ctx, "ImageConfirmed")
	case grading.PhaseFailed:
		return i18n.Td(ctx, "ImageFailed", map[string]any{"Error": p.Error})
	default:
		return i18n.T(ctx, "ImagePending")
	}
}
