package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"llmd/internal/download"
	"llmd/pkg/types"
)

type downloadsResponse struct {
	Tasks []download.Task `json:"tasks"`
}

// handleListDownloads godoc
// @Summary      List queued and running download tasks
// @Tags         downloads
// @Produce      json
// @Success      200  {object}  httpapi.downloadsResponse
// @Router       /v1/downloads [get]
func (a *api) handleListDownloads(w http.ResponseWriter, r *http.Request) {
	tasks := a.opts.Downloads.Tasks()
	if tasks == nil {
		tasks = []download.Task{}
	}
	writeJSON(w, http.StatusOK, downloadsResponse{Tasks: tasks})
}

// handleStopDownload godoc
// @Summary      Stop a download task
// @Tags         downloads
// @Produce      json
// @Param        id   path      string  true  "Task id"
// @Success      200  {object}  types.MessageResponse
// @Failure      404  {object}  types.ErrorResponse
// @Router       /v1/downloads/{id} [delete]
func (a *api) handleStopDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !a.opts.Downloads.StopTask(id) {
		writeJSONError(w, http.StatusNotFound, download.ErrTaskNotFound.Error()+": "+id)
		return
	}
	writeJSON(w, http.StatusOK, types.MessageResponse{Message: "Download stopped"})
}
