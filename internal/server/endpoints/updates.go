package endpoints

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/quire/internal/api"
	"github.com/jackzampolin/quire/internal/svcctx"
	"github.com/jackzampolin/quire/internal/updates"
)

func detectorFrom(r *http.Request) *updates.Detector {
	s := svcctx.SchedulerFrom(r.Context())
	cm := svcctx.ConfigManagerFrom(r.Context())
	if s == nil || cm == nil {
		return nil
	}
	return updates.New(updates.Config{
		Root:   cm.Get().SavePath,
		Source: s.Source(),
		Logger: svcctx.LoggerFrom(r.Context()),
	})
}

// CheckUpdatesEndpoint handles GET /api/updates.
type CheckUpdatesEndpoint struct{}

func (e *CheckUpdatesEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/updates", e.handler
}

func (e *CheckUpdatesEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Check for updates
//	@Description	Compare every downloaded book against its remote directory
//	@Tags			updates
//	@Produce		json
//	@Success		200	{object}	updates.Report
//	@Failure		500	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/updates [get]
func (e *CheckUpdatesEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	d := detectorFrom(r)
	if d == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not initialized")
		return
	}

	report, err := d.Check(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (e *CheckUpdatesEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check downloaded books for new chapters",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var report updates.Report
			if err := client.Get(cmd.Context(), "/api/updates", &report); err != nil {
				return err
			}
			return OutputUpdates(&report)
		},
	}
}

// OutputUpdates prints an update report, as a table unless structured
// output was requested.
func OutputUpdates(report *updates.Report) error {
	var rows [][]string
	for _, b := range report.Updates {
		rows = append(rows, []string{b.BookID, b.BookName, strconv.Itoa(b.LocalTotal), strconv.Itoa(b.RemoteTotal), "+" + strconv.Itoa(b.NewCount), strconv.Itoa(b.LocalFailed), b.LastChapterTitle})
	}
	for _, b := range report.NoUpdates {
		status := "up to date"
		if b.Ignored {
			status = "ignored"
		}
		rows = append(rows, []string{b.BookID, b.BookName, strconv.Itoa(b.LocalTotal), strconv.Itoa(b.RemoteTotal), "0", strconv.Itoa(b.LocalFailed), status})
	}
	for _, ce := range report.Errors {
		rows = append(rows, []string{ce.BookID, ce.Folder, "", "", "", "", "error: " + ce.Error})
	}
	return api.OutputTable(report,
		[]string{"Book", "Name", "Local", "Remote", "New", "Failed", "Latest"},
		rows,
		[]api.Alignment{api.AlignLeft, api.AlignLeft, api.AlignRight, api.AlignRight, api.AlignRight, api.AlignRight, api.AlignLeft},
	)
}

// IgnoreUpdatesRequest toggles update checks for a book.
type IgnoreUpdatesRequest struct {
	Ignore bool `json:"ignore"`
}

// IgnoreUpdatesResponse echoes the new setting.
type IgnoreUpdatesResponse struct {
	BookID string `json:"book_id"`
	Ignore bool   `json:"ignore"`
}

// IgnoreUpdatesEndpoint handles PUT /api/updates/{book_id}/ignore.
type IgnoreUpdatesEndpoint struct{}

func (e *IgnoreUpdatesEndpoint) Route() (string, string, http.HandlerFunc) {
	return "PUT", "/api/updates/{book_id}/ignore", e.handler
}

func (e *IgnoreUpdatesEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Ignore updates
//	@Description	Exclude or include a downloaded book in update checks
//	@Tags			updates
//	@Accept			json
//	@Produce		json
//	@Param			book_id	path		string					true	"Book ID"
//	@Param			request	body		IgnoreUpdatesRequest	true	"Ignore flag"
//	@Success		200		{object}	IgnoreUpdatesResponse
//	@Failure		404		{object}	ErrorResponse
//	@Router			/api/updates/{book_id}/ignore [put]
func (e *IgnoreUpdatesEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req IgnoreUpdatesRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	d := detectorFrom(r)
	if d == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not initialized")
		return
	}

	bookID := r.PathValue("book_id")
	if err := d.SetIgnore(r.Context(), bookID, req.Ignore); err != nil {
		if errors.Is(err, updates.ErrNotDownloaded) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, IgnoreUpdatesResponse{BookID: bookID, Ignore: req.Ignore})
}

func (e *IgnoreUpdatesEndpoint) Command(getServerURL func() string) *cobra.Command {
	var unset bool
	cmd := &cobra.Command{
		Use:   "ignore <book_id>",
		Short: "Skip a book in update checks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp IgnoreUpdatesResponse
			path := fmt.Sprintf("/api/updates/%s/ignore", args[0])
			if err := client.Put(cmd.Context(), path, IgnoreUpdatesRequest{Ignore: !unset}, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().BoolVar(&unset, "unset", false, "Include the book in update checks again")
	return cmd
}
