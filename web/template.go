package web

import (
	"embed"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
)

//go:embed assets
var assets embed.FS

const sessionName = "cifar-session"

// Template and main menu definition
type Templates struct {
	*template.Template
	Menu     []Link
	Options  []Link
	Dropdown []Link
	Heading  template.HTML
	Flashes  []string
	store    sessions.Store
}

type Link struct {
	Url      string
	Name     string
	Selected bool
	Submit   bool
}

// Load and parse templates and initialise main menu
func NewTemplates() (*Templates, error) {
	var err error
	t := &Templates{}
	t.Template, err = template.ParseFS(assets, "assets/*.html")
	if err != nil {
		return nil, err
	}
	t.store = sessions.NewCookieStore(securecookie.GenerateRandomKey(32))
	t.Menu = []Link{{Name: "train", Url: "/train/"}, {Name: "config", Url: "/config"}, {Name: "images", Url: "/images/"}}
	return t, nil
}

func (t *Templates) Clone() *Templates {
	return &Templates{
		Template: t.Template,
		Menu:     append([]Link{}, t.Menu...),
		Options:  append([]Link{}, t.Options...),
		store:    t.store,
	}
}

func (t *Templates) Select(url string) *Templates {
	for i, key := range t.Menu {
		t.Menu[i].Selected = strings.HasPrefix(url, key.Url)
	}
	return t
}

func (t *Templates) AddOption(l Link) *Templates {
	t.Options = append(t.Options, l)
	return t
}

func (t *Templates) SelectOptions(names []string) *Templates {
	for i, key := range t.Options {
		t.Options[i].Selected = false
		for _, name := range names {
			if key.Name == name {
				t.Options[i].Selected = true
			}
		}
	}
	return t
}

// Add a message to be shown on the next page load
func (t *Templates) AddFlash(w http.ResponseWriter, r *http.Request, msg string) {
	session, _ := t.store.Get(r, sessionName)
	session.AddFlash(msg)
	if err := session.Save(r, w); err != nil {
		log.Println("error saving session:", err)
	}
}

// Execute the named template, with flash messages if addFlashes is set
func (t *Templates) Exec(w http.ResponseWriter, r *http.Request, name string, data interface{}, addFlashes bool) {
	t.Flashes = nil
	if addFlashes {
		if session, err := t.store.Get(r, sessionName); err == nil {
			for _, f := range session.Flashes() {
				t.Flashes = append(t.Flashes, fmt.Sprint(f))
			}
			session.Save(r, w)
		}
	}
	if err := t.ExecuteTemplate(w, name, data); err != nil {
		logError(w, err)
	}
}

func logError(w http.ResponseWriter, err error) {
	log.Println(err)
	http.Error(w, fmt.Sprint(err), http.StatusInternalServerError)
}
