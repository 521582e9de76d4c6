package auth

import (
	"html/template"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/fruitsalade/docnav/internal/metrics"
)

// SessionCookieName is the cookie carrying the login artifact back to the app.
const SessionCookieName = "docnav_session"

var loginPage = template.Must(template.New("login").Parse(`<!doctype html>
<title>Sign in</title>
<form method="post" action="/login">
<input type="hidden" name="return_url" value="{{.}}">
<label>User <input name="username" autofocus></label>
<label>Code <input name="code" inputmode="numeric"></label>
<button type="submit">Sign in</button>
</form>
`))

// HandleLoginPage handles GET /login. With a development user configured it
// signs in immediately; otherwise it renders the sign-in form.
func (a *Auth) HandleLoginPage(w http.ResponseWriter, r *http.Request) {
	returnURL := a.safeReturnURL(r.URL.Query().Get("return_url"))
	if a.devUser != "" {
		a.completeLogin(w, r, a.devUser, returnURL)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := loginPage.Execute(w, returnURL); err != nil {
		a.log.Error("render login page", zap.Error(err))
	}
}

// HandleLoginSubmit handles POST /login. The one-time code ceremony belongs to
// the production login service; here any non-blank code is accepted.
func (a *Auth) HandleLoginSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		sendAuthError(w, http.StatusBadRequest, "invalid form")
		return
	}
	username := strings.TrimSpace(r.PostForm.Get("username"))
	code := strings.TrimSpace(r.PostForm.Get("code"))
	if username == "" || code == "" {
		metrics.RecordAuthAttempt(false)
		sendAuthError(w, http.StatusBadRequest, "username and code required")
		return
	}
	a.completeLogin(w, r, username, a.safeReturnURL(r.PostForm.Get("return_url")))
}

func (a *Auth) completeLogin(w http.ResponseWriter, r *http.Request, username, returnURL string) {
	artifact := a.sessions.Issue(ProfileFor(username))
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    artifact,
		Path:     "/",
		MaxAge:   int(DefaultSessionTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	a.log.Info("login handoff issued", zap.String("user", username))
	http.Redirect(w, r, returnURL, http.StatusSeeOther)
}

// safeReturnURL keeps returns on the app's origin. Anything else lands on
// the app root.
func (a *Auth) safeReturnURL(raw string) string {
	home := a.appURL + "/"
	if raw == "" {
		return home
	}
	u, err := url.Parse(raw)
	if err != nil {
		return home
	}
	if u.Scheme == "" && u.Host == "" {
		if !strings.HasPrefix(u.Path, "/") || strings.HasPrefix(raw, "//") {
			return home
		}
		return a.appURL + u.RequestURI()
	}
	app, err := url.Parse(home)
	if err != nil || !strings.EqualFold(u.Scheme, app.Scheme) || !strings.EqualFold(u.Host, app.Host) {
		return home
	}
	return u.String()
}
