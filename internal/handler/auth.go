package handler

import (
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"github.com/gorilla/sessions"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	sessionName = "dulce_session"
	adminFlag   = "admin_logged_in"

	flashNotice = "notice"
	flashError  = "error"
)

// session returns the request session. A cookie that fails verification
// yields a fresh session.
func (h *Handler) session(r *http.Request) *sessions.Session {
	sess, err := h.sessions.Get(r, sessionName)
	if err != nil {
		zctx.From(r.Context()).Debug("Discarding invalid session", zap.Error(err))
	}
	return sess
}

func isAdmin(sess *sessions.Session) bool {
	ok, _ := sess.Values[adminFlag].(bool)
	return ok
}

func flashes(sess *sessions.Session, kind string) []string {
	var out []string
	for _, f := range sess.Flashes(kind) {
		if s, ok := f.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// redirect stores an optional flash and answers 303 See Other.
func (h *Handler) redirect(w http.ResponseWriter, r *http.Request, to, kind, msg string) {
	if msg != "" {
		sess := h.session(r)
		sess.AddFlash(msg, kind)
		if err := sess.Save(r, w); err != nil {
			zctx.From(r.Context()).Warn("Save session", zap.Error(err))
		}
	}
	http.Redirect(w, r, to, http.StatusSeeOther)
}

// requireAdmin sends visitors without the admin flag to the login page.
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isAdmin(h.session(r)) {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) loginForm(w http.ResponseWriter, r *http.Request) {
	if isAdmin(h.session(r)) {
		http.Redirect(w, r, "/editserver", http.StatusSeeOther)
		return
	}
	h.render(w, r, http.StatusOK, "login", view{Title: "Acceso"})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	password := r.PostFormValue("password")
	if bcrypt.CompareHashAndPassword(h.password, []byte(password)) != nil {
		zctx.From(r.Context()).Info("Admin login failed")
		h.render(w, r, http.StatusUnauthorized, "login", view{
			Title:  "Acceso",
			Errors: []string{"Contraseña incorrecta"},
		})
		return
	}

	sess := h.session(r)
	sess.Values[adminFlag] = true
	if err := sess.Save(r, w); err != nil {
		zctx.From(r.Context()).Error("Save session", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	zctx.From(r.Context()).Info("Admin logged in")
	http.Redirect(w, r, "/editserver", http.StatusSeeOther)
}

func (h *Handler) loginLimited(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusTooManyRequests, "login", view{
		Title:  "Acceso",
		Errors: []string{"Demasiados intentos, espera un momento"},
	})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	sess := h.session(r)
	delete(sess.Values, adminFlag)
	if err := sess.Save(r, w); err != nil {
		zctx.From(r.Context()).Warn("Save session", zap.Error(err))
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
