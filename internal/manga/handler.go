package manga

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"mangashell/pkg/models"
)

// Handler serves the snapshot store read-only, in the same envelopes
// MangaDex uses.
type Handler struct {
	Repo *Repo
	now  func() time.Time
}

func NewHandler(repo *Repo) *Handler {
	return &Handler{Repo: repo, now: time.Now}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", h.list)
	rg.GET("/:id", h.get)
}

type errorBody struct {
	Result string `json:"result"`
	Detail string `json:"detail"`
}

func fail(c *gin.Context, status int, detail string) {
	c.JSON(status, errorBody{Result: "error", Detail: detail})
}

// list accepts title (substring), max_age (a duration such as 24h: only
// snapshots fetched within it), limit and offset.
func (h *Handler) list(c *gin.Context) {
	q := SnapshotQuery{Title: c.Query("title")}

	var ok bool
	if q.Limit, ok = intParam(c, "limit"); !ok {
		return
	}
	if q.Offset, ok = intParam(c, "offset"); !ok {
		return
	}
	if raw := strings.TrimSpace(c.Query("max_age")); raw != "" {
		age, err := time.ParseDuration(raw)
		if err != nil || age <= 0 {
			fail(c, http.StatusBadRequest, "max_age must be a positive duration")
			return
		}
		q.Since = h.now().Add(-age)
	}
	q = q.normalized()

	ctx := c.Request.Context()
	total, err := h.Repo.Count(ctx, q)
	if err != nil {
		fail(c, http.StatusInternalServerError, "snapshot store unavailable")
		return
	}
	items, err := h.Repo.List(ctx, q)
	if err != nil {
		fail(c, http.StatusInternalServerError, "snapshot store unavailable")
		return
	}

	c.JSON(http.StatusOK, models.Collection[Snapshot]{
		Result:   "ok",
		Response: "collection",
		Data:     items,
		Limit:    q.Limit,
		Offset:   q.Offset,
		Total:    total,
	})
}

func (h *Handler) get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		fail(c, http.StatusBadRequest, "id must be a uuid")
		return
	}

	s, err := h.Repo.GetByID(c.Request.Context(), id.String())
	if err != nil {
		fail(c, http.StatusInternalServerError, "snapshot store unavailable")
		return
	}
	if s == nil {
		fail(c, http.StatusNotFound, "no snapshot for "+id.String())
		return
	}
	c.JSON(http.StatusOK, models.Data[Snapshot]{Result: "ok", Response: "entity", Data: *s})
}

// intParam reads a non-negative integer query parameter; absent means 0.
// It writes a 400 and reports false on a malformed value.
func intParam(c *gin.Context, name string) (int, bool) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		fail(c, http.StatusBadRequest, name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}
