package endpoints

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/quire/internal/api"
	"github.com/jackzampolin/quire/internal/library"
	"github.com/jackzampolin/quire/internal/svcctx"
)

// ListLibraryEndpoint handles GET /api/library.
type ListLibraryEndpoint struct{}

func (e *ListLibraryEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/library", e.handler
}

func (e *ListLibraryEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		List library
//	@Description	List downloaded books and the files under the save root
//	@Tags			library
//	@Produce		json
//	@Success		200	{object}	library.Listing
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/library [get]
func (e *ListLibraryEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	cm := svcctx.ConfigManagerFrom(r.Context())
	if cm == nil {
		writeError(w, http.StatusServiceUnavailable, "config not initialized")
		return
	}

	listing, err := library.List(cm.Get().SavePath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

func (e *ListLibraryEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List downloaded books",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var listing library.Listing
			if err := client.Get(cmd.Context(), "/api/library", &listing); err != nil {
				return err
			}

			rows := make([][]string, len(listing.Books))
			for i, b := range listing.Books {
				rows[i] = []string{b.BookID, b.BookName, b.Author, fmt.Sprint(b.Saved), fmt.Sprint(b.Failed), b.Size}
			}
			return api.OutputTable(listing,
				[]string{"Book", "Name", "Author", "Saved", "Failed", "Size"},
				rows,
				[]api.Alignment{api.AlignLeft, api.AlignLeft, api.AlignLeft, api.AlignRight, api.AlignRight, api.AlignRight},
			)
		},
	}
}

// LibraryFileEndpoint handles GET /api/library/file/{path...}.
type LibraryFileEndpoint struct{}

func (e *LibraryFileEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/library/file/{path...}", e.handler
}

func (e *LibraryFileEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Download artifact
//	@Description	Download a text, EPUB or audio file from the save root
//	@Tags			library
//	@Produce		octet-stream
//	@Param			path	path		string	true	"Path relative to the save root"
//	@Success		200		{file}		file
//	@Failure		403		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Router			/api/library/file/{path} [get]
func (e *LibraryFileEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	cm := svcctx.ConfigManagerFrom(r.Context())
	if cm == nil {
		writeError(w, http.StatusServiceUnavailable, "config not initialized")
		return
	}

	full, ctype, err := library.Resolve(cm.Get().SavePath, r.PathValue("path"))
	if err != nil {
		switch {
		case errors.Is(err, library.ErrNotAllowed):
			writeError(w, http.StatusForbidden, err.Error())
		case errors.Is(err, library.ErrNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	f, err := os.Open(full)
	if err != nil {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", ctype)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename*=UTF-8''%s", url.PathEscape(filepath.Base(full))))
	http.ServeContent(w, r, filepath.Base(full), info.ModTime(), f)
}

func (e *LibraryFileEndpoint) Command(getServerURL func() string) *cobra.Command {
	var dest string
	cmd := &cobra.Command{
		Use:   "get <path>",
		Short: "Download a file from the library",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rel := strings.TrimPrefix(args[0], "/")
			target := dest
			if target == "" {
				target = path.Base(rel)
			}

			out, err := os.Create(target)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", target, err)
			}
			client := api.NewClient(getServerURL())
			if err := client.Download(cmd.Context(), "/api/library/file/"+escapeSegments(rel), out); err != nil {
				out.Close()
				os.Remove(target)
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s\n", target)
			return nil
		},
	}
	cmd.Flags().StringVar(&dest, "dest", "", "Destination file (default: the file's base name)")
	return cmd
}

// escapeSegments escapes each path segment, keeping the separators.
func escapeSegments(rel string) string {
	parts := strings.Split(rel, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
