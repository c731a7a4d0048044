package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"llmd/internal/engines"
	"llmd/pkg/types"
)

// handleListEngines godoc
// @Summary      List engines and their install state
// @Tags         engines
// @Produce      json
// @Success      200  {object}  types.EnginesResponse
// @Router       /v1/engines [get]
func (a *api) handleListEngines(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.EnginesResponse{Engines: a.opts.Engines.ListEngines()})
}

// handleGetEngine godoc
// @Summary      Engine install state
// @Tags         engines
// @Produce      json
// @Param        name  path      string  true  "Engine name"
// @Success      200   {object}  types.EngineInfo
// @Failure      404   {object}  types.ErrorResponse
// @Router       /v1/engines/{name} [get]
func (a *api) handleGetEngine(w http.ResponseWriter, r *http.Request) {
	info, err := a.opts.Engines.GetEngineInfo(chi.URLParam(r, "name"))
	if err != nil {
		writeJSONError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleEngineReleases godoc
// @Summary      Upstream releases of an engine
// @Tags         engines
// @Produce      json
// @Param        name  path      string  true  "Engine name"
// @Success      200   {array}   types.Release
// @Failure      404   {object}  types.ErrorResponse
// @Failure      502   {object}  types.ErrorResponse
// @Router       /v1/engines/{name}/releases [get]
func (a *api) handleEngineReleases(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, cancel := joinContexts(a.opts.BaseContext, r.Context())
	defer cancel()
	rels, err := a.opts.Engines.GetReleases(ctx, chi.URLParam(r, "name"))
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadGateway
		}
		writeJSONError(w, status, err.Error())
		a.logEnd(r, "engine_releases", status, start, err)
		return
	}
	if rels == nil {
		rels = []types.Release{}
	}
	writeJSON(w, http.StatusOK, rels)
	a.logEnd(r, "engine_releases", http.StatusOK, start, nil)
}

// handleInstallEngine godoc
// @Summary      Install an engine
// @Description  Resolves the release asset for this host and queues its download. The body is optional.
// @Tags         engines
// @Accept       json
// @Produce      json
// @Param        name  path      string                      true   "Engine name"
// @Param        body  body      types.InstallEngineRequest  false  "Version or local archive"
// @Success      200   {object}  types.InstallEngineResponse
// @Success      202   {object}  types.InstallEngineResponse
// @Failure      404   {object}  types.ErrorResponse
// @Failure      409   {object}  types.ErrorResponse
// @Failure      422   {object}  types.ErrorResponse
// @Router       /v1/engines/{name}/install [post]
func (a *api) handleInstallEngine(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req types.InstallEngineRequest
	if !a.decodeJSON(w, r, &req, true) {
		return
	}
	name := chi.URLParam(r, "name")
	a.logDebug(r, "install_engine", map[string]any{"engine": name, "version": req.Version})
	ctx, cancel := joinContexts(a.opts.BaseContext, r.Context())
	defer cancel()
	res, err := a.opts.Engines.InstallEngine(ctx, name, engines.InstallOptions{Version: req.Version, LocalPath: req.LocalPath})
	if err != nil {
		status := statusFor(err)
		writeJSONError(w, status, err.Error())
		a.logEnd(r, "install_engine", status, start, err)
		return
	}
	if res.TaskID == "" {
		writeJSON(w, http.StatusOK, types.InstallEngineResponse{Message: "Engine installed successfully"})
		a.logEnd(r, "install_engine", http.StatusOK, start, nil)
		return
	}
	writeJSON(w, http.StatusAccepted, types.InstallEngineResponse{TaskID: res.TaskID, Message: "Engine installation started"})
	a.logEnd(r, "install_engine", http.StatusAccepted, start, nil)
}

// handleUninstallEngine godoc
// @Summary      Uninstall an engine
// @Tags         engines
// @Produce      json
// @Param        name  path      string  true  "Engine name"
// @Success      200   {object}  types.MessageResponse
// @Failure      404   {object}  types.ErrorResponse
// @Router       /v1/engines/{name} [delete]
func (a *api) handleUninstallEngine(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if err := a.opts.Engines.UninstallEngine(chi.URLParam(r, "name")); err != nil {
		status := statusFor(err)
		writeJSONError(w, status, err.Error())
		a.logEnd(r, "uninstall_engine", status, start, err)
		return
	}
	writeJSON(w, http.StatusOK, types.MessageResponse{Message: "Engine uninstalled successfully"})
	a.logEnd(r, "uninstall_engine", http.StatusOK, start, nil)
}
