package endpoints

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/quire/internal/api"
	"github.com/jackzampolin/quire/internal/jobs"
	"github.com/jackzampolin/quire/internal/svcctx"
)

// JobActionResponse is returned by job actions.
type JobActionResponse struct {
	ID     string     `json:"id"`
	State  jobs.State `json:"state"`
	Status string     `json:"status"`
}

// CancelJobEndpoint handles POST /api/jobs/{id}/cancel.
type CancelJobEndpoint struct{}

func (e *CancelJobEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/jobs/{id}/cancel", e.handler
}

func (e *CancelJobEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Cancel job
//	@Description	Request cancellation. In-flight batches finish; chapters not yet dispatched stay pending.
//	@Tags			jobs
//	@Produce		json
//	@Param			id	path		string	true	"Job ID"
//	@Success		200	{object}	JobActionResponse
//	@Failure		404	{object}	ErrorResponse
//	@Router			/api/jobs/{id}/cancel [post]
func (e *CancelJobEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	s := svcctx.SchedulerFrom(r.Context())
	if s == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not initialized")
		return
	}

	id := r.PathValue("id")
	if err := s.Cancel(id); err != nil {
		writeJobError(w, err)
		return
	}
	view, err := s.Get(id)
	if err != nil {
		writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, JobActionResponse{ID: id, State: view.State, Status: "cancel requested"})
}

func (e *CancelJobEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp JobActionResponse
			if err := client.Post(cmd.Context(), "/api/jobs/"+args[0]+"/cancel", nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// ClearJobEndpoint handles DELETE /api/jobs/{id}.
type ClearJobEndpoint struct{}

func (e *ClearJobEndpoint) Route() (string, string, http.HandlerFunc) {
	return "DELETE", "/api/jobs/{id}", e.handler
}

func (e *ClearJobEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Clear job
//	@Description	Remove a finished job from the registry
//	@Tags			jobs
//	@Param			id	path	string	true	"Job ID"
//	@Success		204
//	@Failure		404	{object}	ErrorResponse
//	@Failure		409	{object}	ErrorResponse
//	@Router			/api/jobs/{id} [delete]
func (e *ClearJobEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	s := svcctx.SchedulerFrom(r.Context())
	if s == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not initialized")
		return
	}

	if err := s.Clear(r.PathValue("id")); err != nil {
		writeJobError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (e *ClearJobEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <id>",
		Short: "Remove a finished job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			return client.Delete(cmd.Context(), "/api/jobs/"+args[0])
		},
	}
}

// ResolveChoiceRequest carries the chosen display name.
type ResolveChoiceRequest struct {
	Value string `json:"value"`
}

// ResolveChoiceEndpoint handles POST /api/jobs/{id}/choice.
type ResolveChoiceEndpoint struct{}

func (e *ResolveChoiceEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/jobs/{id}/choice", e.handler
}

func (e *ResolveChoiceEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Choose book name
//	@Description	Resolve the pending name choice of a parked job
//	@Tags			jobs
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string					true	"Job ID"
//	@Param			request	body		ResolveChoiceRequest	true	"Chosen name"
//	@Success		200		{object}	JobActionResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		409		{object}	ErrorResponse
//	@Router			/api/jobs/{id}/choice [post]
func (e *ResolveChoiceEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req ResolveChoiceRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s := svcctx.SchedulerFrom(r.Context())
	if s == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not initialized")
		return
	}

	id := r.PathValue("id")
	if err := s.Resolve(id, req.Value); err != nil {
		writeJobError(w, err)
		return
	}
	view, err := s.Get(id)
	if err != nil {
		writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, JobActionResponse{ID: id, State: view.State, Status: "resolved"})
}

func (e *ResolveChoiceEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "choose <id> <name>",
		Short: "Choose the display name of a parked job",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp JobActionResponse
			if err := client.Post(cmd.Context(), "/api/jobs/"+args[0]+"/choice", ResolveChoiceRequest{Value: args[1]}, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// RetryJobRequest selects which chapters a retry fetches.
type RetryJobRequest struct {
	Mode string `json:"mode,omitempty"`
}

// RetryJobEndpoint handles POST /api/jobs/{id}/retry.
type RetryJobEndpoint struct{}

func (e *RetryJobEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/jobs/{id}/retry", e.handler
}

func (e *RetryJobEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Retry job
//	@Description	Submit a new job for the same book and range as a finished one
//	@Tags			jobs
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Job ID"
//	@Param			request	body		RetryJobRequest	false	"Retry mode (default failed_only)"
//	@Success		202		{object}	CreateJobResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		409		{object}	ErrorResponse
//	@Router			/api/jobs/{id}/retry [post]
func (e *RetryJobEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req RetryJobRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Mode == "" {
		req.Mode = string(jobs.ModeFailedOnly)
	}
	mode, err := jobs.ParseMode(req.Mode)
	if err != nil {
		writeJobError(w, err)
		return
	}

	s := svcctx.SchedulerFrom(r.Context())
	if s == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not initialized")
		return
	}

	id, err := s.Retry(r.Context(), r.PathValue("id"), mode)
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

func (e *RetryJobEndpoint) Command(getServerURL func() string) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "retry <id>",
		Short: "Retry a finished job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp CreateJobResponse
			if err := client.Post(cmd.Context(), "/api/jobs/"+args[0]+"/retry", RetryJobRequest{Mode: mode}, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(jobs.ModeFailedOnly), "resume, failed_only or full")
	return cmd
}
