package endpoints

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/quire/internal/api"
	"github.com/jackzampolin/quire/internal/jobs"
	"github.com/jackzampolin/quire/internal/svcctx"
)

// CreateJobRequest is the request body for submitting a download.
type CreateJobRequest struct {
	BookID     string `json:"book_id"`
	RangeStart *int   `json:"range_start,omitempty"`
	RangeEnd   *int   `json:"range_end,omitempty"`
	Mode       string `json:"mode,omitempty"`
}

// CreateJobResponse is the response for submitting a download.
type CreateJobResponse struct {
	ID     string     `json:"id"`
	BookID string     `json:"book_id"`
	State  jobs.State `json:"state"`
}

// CreateJobEndpoint handles POST /api/jobs.
type CreateJobEndpoint struct{}

func (e *CreateJobEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/jobs", e.handler
}

func (e *CreateJobEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Submit a download
//	@Description	Queue a download job for a book, optionally limited to a chapter range
//	@Tags			jobs
//	@Accept			json
//	@Produce		json
//	@Param			request	body		CreateJobRequest	true	"Download request"
//	@Success		202		{object}	CreateJobResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/api/jobs [post]
func (e *CreateJobEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.BookID == "" {
		writeError(w, http.StatusBadRequest, "book_id is required")
		return
	}

	s := svcctx.SchedulerFrom(r.Context())
	if s == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not initialized")
		return
	}

	mode, err := jobs.ParseMode(req.Mode)
	if err != nil {
		writeJobError(w, err)
		return
	}
	rng, err := jobs.NewRange(req.RangeStart, req.RangeEnd)
	if err != nil {
		writeJobError(w, err)
		return
	}

	id, err := s.Submit(r.Context(), jobs.Request{BookID: req.BookID, Range: rng, Mode: mode})
	if err != nil {
		writeJobError(w, err)
		return
	}
	view, err := s.Get(id)
	if err != nil {
		writeJobError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, CreateJobResponse{ID: id, BookID: view.BookID, State: view.State})
}

func (e *CreateJobEndpoint) Command(getServerURL func() string) *cobra.Command {
	var start, end int
	var mode string
	cmd := &cobra.Command{
		Use:   "create <book_id>",
		Short: "Submit a download",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := CreateJobRequest{BookID: args[0], Mode: mode}
			if cmd.Flags().Changed("start") || cmd.Flags().Changed("end") {
				if !cmd.Flags().Changed("start") || !cmd.Flags().Changed("end") {
					return fmt.Errorf("--start and --end must be given together")
				}
				req.RangeStart, req.RangeEnd = &start, &end
			}

			client := api.NewClient(getServerURL())
			var resp CreateJobResponse
			if err := client.Post(cmd.Context(), "/api/jobs", req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().IntVar(&start, "start", 0, "First chapter (1-based, inclusive)")
	cmd.Flags().IntVar(&end, "end", 0, "Last chapter (1-based, inclusive)")
	cmd.Flags().StringVar(&mode, "mode", "", "resume, failed_only or full (default resume)")
	return cmd
}
