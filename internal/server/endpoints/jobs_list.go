package endpoints

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/quire/internal/api"
	"github.com/jackzampolin/quire/internal/jobs"
	"github.com/jackzampolin/quire/internal/svcctx"
)

// ListJobsResponse is the response for listing jobs.
type ListJobsResponse struct {
	Items []jobs.View `json:"items"`
}

// ListJobsEndpoint handles GET /api/jobs.
type ListJobsEndpoint struct{}

func (e *ListJobsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/jobs", e.handler
}

func (e *ListJobsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		List jobs
//	@Description	List every job, most recently updated first
//	@Tags			jobs
//	@Produce		json
//	@Param			state	query		string	false	"Filter by state"
//	@Success		200		{object}	ListJobsResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/api/jobs [get]
func (e *ListJobsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	s := svcctx.SchedulerFrom(r.Context())
	if s == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not initialized")
		return
	}

	state := jobs.State(r.URL.Query().Get("state"))
	items := make([]jobs.View, 0)
	for _, v := range s.List() {
		if state != "" && v.State != state {
			continue
		}
		items = append(items, v)
	}

	writeJSON(w, http.StatusOK, ListJobsResponse{Items: items})
}

func (e *ListJobsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var state string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/jobs"
			if state != "" {
				path += "?state=" + state
			}

			client := api.NewClient(getServerURL())
			var resp ListJobsResponse
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}

			rows := make([][]string, len(resp.Items))
			for i, v := range resp.Items {
				rows[i] = []string{
					shortID(v.ID),
					v.BookID,
					v.Title,
					string(v.State),
					fmt.Sprintf("%d/%d", v.Progress.SavedChapters, v.Progress.ChapterTotal),
					fmt.Sprintf("%d", v.Progress.FailedChapters),
					v.Message,
				}
			}
			return api.OutputTable(resp,
				[]string{"ID", "Book", "Title", "State", "Saved", "Failed", "Message"},
				rows,
				[]api.Alignment{api.AlignLeft, api.AlignLeft, api.AlignLeft, api.AlignLeft, api.AlignRight, api.AlignRight, api.AlignLeft},
			)
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "Filter by state")
	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
