package web

import (
	"crypto/subtle"
	"log"
	"net/http"
	"time"

	"github.com/goji/httpauth"
	"github.com/gorilla/securecookie"
	"github.com/msteinert/pam"
	"github.com/pkg/errors"
)

const (
	loginCookie = "cifar-login"
	loginMaxAge = 12 * time.Hour
)

// Checks a user name and password.
type Authenticator func(user, pass string) error

// Accept any user with the given password.
func PasswordAuth(password string) Authenticator {
	return func(user, pass string) error {
		if subtle.ConstantTimeCompare([]byte(pass), []byte(password)) != 1 {
			return errors.New("invalid password")
		}
		return nil
	}
}

// Check the login against the local system accounts.
func PamAuth(user, pass string) error {
	tx, err := pam.StartFunc("", user, func(s pam.Style, msg string) (string, error) {
		switch s {
		case pam.PromptEchoOn:
			return user, nil
		case pam.PromptEchoOff:
			return pass, nil
		case pam.ErrorMsg, pam.TextInfo:
			return "", nil
		}
		return "", errors.Errorf("unsupported pam prompt style %d", s)
	})
	if err != nil {
		return errors.Wrap(err, "pam start")
	}
	return errors.Wrap(tx.Authenticate(0), "pam authenticate")
}

type login struct {
	User string
	At   int64
}

// AuthMiddleware asks for basic auth credentials once, then trusts a signed login cookie
// until it expires.
type AuthMiddleware struct {
	check Authenticator
	codec *securecookie.SecureCookie
}

// Create middleware checking logins against password, or against PAM if password is empty.
func NewAuthMiddleware(password string) *AuthMiddleware {
	check := Authenticator(PamAuth)
	if password != "" {
		check = PasswordAuth(password)
	}
	codec := securecookie.New(securecookie.GenerateRandomKey(32), securecookie.GenerateRandomKey(32))
	codec.MaxAge(int(loginMaxAge.Seconds()))
	return &AuthMiddleware{check: check, codec: codec}
}

func (mw *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	basic := httpauth.BasicAuth(httpauth.AuthOptions{
		Realm:    "cifar training monitor",
		AuthFunc: mw.authorize,
	})(mw.remember(next))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, ok := mw.loggedIn(r); ok {
			r.Header.Set("X-Remote-User", user)
			next.ServeHTTP(w, r)
			return
		}
		basic.ServeHTTP(w, r)
	})
}

func (mw *AuthMiddleware) authorize(user, pass string, r *http.Request) bool {
	if err := mw.check(user, pass); err != nil {
		log.Printf("login %q from %s refused: %v", user, r.RemoteAddr, err)
		return false
	}
	log.Printf("login %q from %s", user, r.RemoteAddr)
	return true
}

func (mw *AuthMiddleware) loggedIn(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(loginCookie)
	if err != nil {
		return "", false
	}
	var l login
	if err := mw.codec.Decode(loginCookie, cookie.Value, &l); err != nil {
		return "", false
	}
	return l.User, l.User != ""
}

// set the login cookie after a successful basic auth
func (mw *AuthMiddleware) remember(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _, _ := r.BasicAuth()
		value, err := mw.codec.Encode(loginCookie, login{User: user, At: time.Now().Unix()})
		if err != nil {
			log.Println("error encoding login cookie:", err)
		} else {
			http.SetCookie(w, &http.Cookie{
				Name:     loginCookie,
				Value:    value,
				Path:     "/",
				MaxAge:   int(loginMaxAge.Seconds()),
				HttpOnly: true,
				SameSite: http.SameSiteStrictMode,
			})
		}
		next.ServeHTTP(w, r)
	})
}
