package ipc

import (
	"mangashell/internal/rpc"
	"mangashell/pkg/models"
)

// MangaQuery is the input of MangaByID.
type MangaQuery struct {
	ID string `json:"id"`
}

// Procedures shared by the backend and the shell.
var (
	PopularTitles = rpc.Define[rpc.NoInput, models.Collection[models.Manga]]("mdx-popular-titles")
	MangaByID     = rpc.Define[MangaQuery, models.Data[models.Manga]]("mdx-manga")
)

// EventName is the event the backend emits for every manga it fetches.
func EventName(mangaID string) string {
	return "mangadex-manga-" + mangaID
}
