package view

import (
	"embed"
	"fmt"
	"html/template"
	"io"

	"mangashell/internal/ipc"
	"mangashell/internal/query"
	"mangashell/pkg/models"
)

const (
	// FallbackText replaces any localized field missing in Language.
	FallbackText = "NotFound"
	Language     = "en"
)

//go:embed templates/*.html.tmpl
var templateFS embed.FS

// Views renders pages and fragments. Every renderer is a pure function of
// its arguments.
type Views struct {
	tmpl *template.Template
}

type PopularListModel struct {
	Status     string
	IsSuccess  bool
	IsError    bool
	IsFetching bool
	Error      string
	Titles     []models.Manga
}

type HomeModel struct {
	Popular PopularListModel
}

func New() (*Views, error) {
	tmpl, err := template.New("views").Funcs(template.FuncMap{
		"title":       Title,
		"description": Description,
	}).ParseFS(templateFS, "templates/*.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Views{tmpl: tmpl}, nil
}

func Title(m models.Manga) string {
	return m.Attributes.Title.Or(Language, FallbackText)
}

func Description(m models.Manga) string {
	return m.Attributes.Description.Or(Language, FallbackText)
}

// NewPopularListModel maps a query state onto the list view.
func NewPopularListModel(s query.State) PopularListModel {
	model := PopularListModel{
		Status:     s.Status.String(),
		IsSuccess:  s.IsSuccess(),
		IsError:    s.IsError(),
		IsFetching: s.IsFetching,
	}
	if s.Err != nil {
		model.Error = s.Err.Error()
	}
	if titles, err := ipc.Data[models.Collection[models.Manga]](s); err == nil {
		model.Titles = titles.Data
	}
	return model
}

func (v *Views) MangaCard(w io.Writer, m models.Manga) error {
	return v.tmpl.ExecuteTemplate(w, "manga_card", m)
}

func (v *Views) PopularTitleList(w io.Writer, s query.State) error {
	return v.tmpl.ExecuteTemplate(w, "popular_list", NewPopularListModel(s))
}

func (v *Views) Home(w io.Writer, s query.State) error {
	return v.tmpl.ExecuteTemplate(w, "home", HomeModel{Popular: NewPopularListModel(s)})
}
