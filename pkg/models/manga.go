package models

import "time"

type Manga = ApiObject[MangaAttributes]

type MangaAttributes struct {
	Title                        LocalizedString   `json:"title"`
	AltTitles                    []LocalizedString `json:"altTitles,omitempty"`
	Description                  LocalizedString   `json:"description"`
	IsLocked                     bool              `json:"isLocked,omitempty"`
	OriginalLanguage             string            `json:"originalLanguage,omitempty"`
	LastVolume                   string            `json:"lastVolume,omitempty"`
	LastChapter                  string            `json:"lastChapter,omitempty"`
	PublicationDemographic       string            `json:"publicationDemographic,omitempty"`
	Status                       string            `json:"status,omitempty"`
	Year                         int               `json:"year,omitempty"`
	ContentRating                string            `json:"contentRating,omitempty"`
	Tags                         []Tag             `json:"tags,omitempty"`
	State                        string            `json:"state,omitempty"`
	CreatedAt                    time.Time         `json:"createdAt"`
	UpdatedAt                    time.Time         `json:"updatedAt"`
	Version                      int               `json:"version,omitempty"`
	AvailableTranslatedLanguages []string          `json:"availableTranslatedLanguages,omitempty"`
}

type Tag = ApiObject[TagAttributes]

type TagAttributes struct {
	Name  LocalizedString `json:"name"`
	Group string          `json:"group,omitempty"`
}

// IDs returns the entity ids in collection order.
func (c Collection[T]) IDs(id func(T) string) []string {
	out := make([]string, 0, len(c.Data))
	for _, item := range c.Data {
		out = append(out, id(item))
	}
	return out
}

// MangaID is the id accessor for Collection[Manga].IDs.
func MangaID(m Manga) string { return m.ID }
