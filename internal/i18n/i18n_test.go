package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return WithLang(context.Background(), lang)
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")

	if got := T(ctx, "OptionTrue"); got != "True" {
		t.Errorf("T(OptionTrue) = %q, want 'True'", got)
	}
	if got := T(ctx, "OptionFalse"); got != "False" {
		t.Errorf("T(OptionFalse) = %q, want 'False'", got)
	}
}

func TestTranslateArabic(t *testing.T) {
	ctx := initLang(t, "ar")

	if got := T(ctx, "OptionTrue"); got != "صح" {
		t.Errorf("T(OptionTrue) = %q, want 'صح'", got)
	}
	if got := T(ctx, "OptionFalse"); got != "خطأ" {
		t.Errorf("T(OptionFalse) = %q, want 'خطأ'", got)
	}
}

func TestPluralTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	if got := Tp(ctx, "PendingAnswers", 1); got != "1 answer pending" {
		t.Errorf("Tp(PendingAnswers, 1) = %q", got)
	}
	if got := Tp(ctx, "PendingAnswers", 5); got != "5 answers pending" {
		t.Errorf("Tp(PendingAnswers, 5) = %q", got)
	}

	ar := initLang(t, "ar")
	if got := Tp(ar, "PendingAnswers", 2); got != "إجابتان معلقتان" {
		t.Errorf("Tp(ar PendingAnswers, 2) = %q", got)
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got := Td(ctx, "ToastRequestFailed", map[string]any{"Message": "exam not found"})
	if got != "Request failed: exam not found" {
		t.Errorf("Td(ToastRequestFailed) = %q", got)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")

	if got := T(ctx, "NonExistentKey"); got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want 'NonExistentKey'", got)
	}
}

func TestUnknownLanguageFallsBack(t *testing.T) {
	ctx := initLang(t, "fr")

	if got := T(ctx, "OptionTrue"); got != "True" {
		t.Errorf("T(OptionTrue) in fr = %q, want fallback 'True'", got)
	}
}

func TestMatch(t *testing.T) {
	initLang(t, "en")

	tests := []struct {
		accept string
		want   string
	}{
		{"", "en"},
		{"ar-EG,ar;q=0.9,en;q=0.8", "ar"},
		{"en-US", "en"},
		{"de-DE", "en"},
		{"ar", "ar"},
		{";;;", "en"},
	}
	for _, tt := range tests {
		if got := Match(tt.accept); got != tt.want {
			t.Errorf("Match(%q) = %q, want %q", tt.accept, got, tt.want)
		}
	}
}

func TestIsRTL(t *testing.T) {
	if !IsRTL("ar") || !IsRTL("ar-EG") {
		t.Error("Arabic should be RTL")
	}
	if IsRTL("en") || IsRTL("???") {
		t.Error("English and garbage should not be RTL")
	}
}

func TestMiddleware(t *testing.T) {
	initLang(t, "en")

	var got, lang string
	h := Middleware("en")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = T(r.Context(), "OptionTrue")
		lang = Lang(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "ar")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got != "صح" {
		t.Errorf("Accept-Language ar: got %q", got)
	}
	if lang != "ar" {
		t.Errorf("Lang = %q, want ar", lang)
	}
	if rec.Header().Get("Content-Language") != "ar" {
		t.Errorf("Content-Language = %q", rec.Header().Get("Content-Language"))
	}

	req = httptest.NewRequest(http.MethodGet, "/?lang=en", nil)
	req.Header.Set("Accept-Language", "ar")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got != "True" {
		t.Errorf("lang=en query: got %q", got)
	}
}

func TestLangDefaultsToFallback(t *testing.T) {
	initLang(t, "en")
	if got := Lang(context.Background()); got != "en" {
		t.Errorf("Lang(empty ctx) = %q, want en", got)
	}
}
