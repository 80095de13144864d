package i18n

import "net/http"

// Middleware injects a localizer into every request context. The language is
// taken from the "lang" query parameter, then Accept-Language, then lang.
func Middleware(lang string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			chosen := lang
			if q := r.URL.Query().Get("lang"); q != "" {
				chosen = Match(q)
			} else if h := r.Header.Get("Accept-Language"); h != "" {
				chosen = Match(h)
			}
			w.Header().Set("Content-Language", chosen)
			ctx := WithLang(r.Context(), chosen)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
