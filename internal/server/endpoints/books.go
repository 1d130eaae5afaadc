package endpoints

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/quire/internal/api"
	"github.com/jackzampolin/quire/internal/archive"
	"github.com/jackzampolin/quire/internal/source"
	"github.com/jackzampolin/quire/internal/svcctx"
	"github.com/jackzampolin/quire/internal/types"
)

// LocalState describes what is already on disk for a book.
type LocalState struct {
	Folder        string `json:"folder"`
	Saved         int    `json:"saved"`
	Failed        int    `json:"failed"`
	IgnoreUpdates bool   `json:"ignore_updates"`
}

// PreviewResponse describes a remote book before downloading it.
type PreviewResponse struct {
	Meta         types.BookMeta     `json:"meta"`
	ChapterTotal int                `json:"chapter_total"`
	FirstChapter string             `json:"first_chapter,omitempty"`
	LastChapter  string             `json:"last_chapter,omitempty"`
	NameOptions  []types.NameOption `json:"name_options"`
	Local        *LocalState        `json:"local,omitempty"`
}

// PreviewBookEndpoint handles GET /api/books/{book_id}/preview.
type PreviewBookEndpoint struct{}

func (e *PreviewBookEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/books/{book_id}/preview", e.handler
}

func (e *PreviewBookEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Preview book
//	@Description	Fetch a book's metadata and directory without downloading chapters
//	@Tags			books
//	@Produce		json
//	@Param			book_id	path		string	true	"Book ID or share URL"
//	@Success		200		{object}	PreviewResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		502		{object}	ErrorResponse
//	@Router			/api/books/{book_id}/preview [get]
func (e *PreviewBookEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	bookID, ok := types.ParseBookID(r.PathValue("book_id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "book_id must be numeric")
		return
	}

	s := svcctx.SchedulerFrom(r.Context())
	cm := svcctx.ConfigManagerFrom(r.Context())
	if s == nil || cm == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not initialized")
		return
	}

	resp, err := BuildPreview(r.Context(), s.Source(), cm.Get().SavePath, bookID)
	if err != nil {
		switch {
		case source.IsPermanent(err):
			writeError(w, http.StatusNotFound, err.Error())
		default:
			writeError(w, http.StatusBadGateway, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// BuildPreview fetches a book's directory and joins it with what is
// already saved under root.
func BuildPreview(ctx context.Context, src source.Source, root, bookID string) (*PreviewResponse, error) {
	dir, err := src.Directory(ctx, bookID)
	if err != nil {
		return nil, err
	}

	resp := &PreviewResponse{
		Meta:         dir.Meta,
		ChapterTotal: len(dir.Chapters),
		NameOptions:  dir.Meta.NameOptions(),
	}
	if n := len(dir.Chapters); n > 0 {
		resp.FirstChapter = dir.Chapters[0].Title
		resp.LastChapter = dir.Chapters[n-1].Title
	}

	folder, err := archive.FindBookDir(root, bookID)
	if err != nil || folder == "" {
		return resp, nil
	}
	local := &LocalState{Folder: folder}
	st, err := archive.ReadStatus(folder)
	switch {
	case err == nil:
		total, failed := st.Counts()
		local.Saved = total - failed
		local.Failed = failed
		local.IgnoreUpdates = st.IgnoreUpdates
	case !errors.Is(err, archive.ErrNoStatus):
		return nil, fmt.Errorf("failed to read status of %s: %w", folder, err)
	}
	resp.Local = local
	return resp, nil
}

func (e *PreviewBookEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "preview <book_id>",
		Short: "Show a book's metadata and chapter count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp PreviewResponse
			if err := client.Get(cmd.Context(), "/api/books/"+url.PathEscape(args[0])+"/preview", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
