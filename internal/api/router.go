package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/samber/lo"

	"lifxsync/internal/lights"
	"lifxsync/internal/registry"
)

const maxRequestBodySize = 1 << 16

// Handler builds the router with all routes and middleware.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/status", s.handleStatus)
	r.Get("/events", s.handleEvents)

	r.Route("/devices", func(r chi.Router) {
		r.Get("/", s.handleListDevices)
		r.Route("/{addr}", func(r chi.Router) {
			r.Get("/", s.handleGetDevice)
			r.Put("/mode", s.handleSetMode)
			r.Put("/enabled", s.handleSetEnabled)
		})
	})

	r.Post("/update", s.handleUpdate)
	r.Post("/update/brightness", s.handleUpdateBrightness)
	r.Post("/restore", s.handleRestore)

	return r
}

type statusResponse struct {
	Active             bool   `json:"active"`
	Devices            int    `json:"devices"`
	UpdatingColor      bool   `json:"updatingColor"`
	UpdatingBrightness bool   `json:"updatingBrightness"`
	Version            string `json:"version,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	color, bright := s.ctrl.Updating()
	writeJSON(w, http.StatusOK, statusResponse{
		Active:             s.ctrl.Active(),
		Devices:            s.ctrl.ActiveCount(),
		UpdatingColor:      color,
		UpdatingBrightness: bright,
		Version:            s.version,
	})
}

type deviceResponse struct {
	Address      string      `json:"address"`
	Label        string      `json:"label"`
	Product      string      `json:"product"`
	Firmware     string      `json:"firmware,omitempty"`
	Mode         lights.Mode `json:"mode"`
	Enabled      bool        `json:"enabled"`
	Restore      lights.HSBK `json:"restore"`
	RestoreHex   string      `json:"restoreHex"`
	DiscoveredAt time.Time   `json:"discoveredAt"`
}

func toDeviceResponse(rec registry.DeviceRecord) deviceResponse {
	return deviceResponse{
		Address:      rec.Address,
		Label:        rec.Label,
		Product:      rec.Version.Product,
		Firmware:     rec.Version.Firmware,
		Mode:         rec.Mode,
		Enabled:      rec.Enabled,
		Restore:      rec.Restore.Color,
		RestoreHex:   rec.Restore.Color.Hex(),
		DiscoveredAt: rec.DiscoveredAt,
	}
}

func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := lo.Map(s.ctrl.Snapshot(), func(rec registry.DeviceRecord, _ int) deviceResponse {
		return toDeviceResponse(rec)
	})
	writeJSON(w, http.StatusOK, devices)
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	rec, err := s.ctrl.Device(chi.URLParam(r, "addr"))
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDeviceResponse(rec))
}

type modeRequest struct {
	Mode lights.Mode `json:"mode"`
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	addr := chi.URLParam(r, "addr")
	if err := s.ctrl.SetMode(r.Context(), addr, req.Mode); err != nil {
		writeRegistryError(w, err)
		return
	}
	s.handleGetDevice(w, r)
}

type enabledRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) handleSetEnabled(w http.ResponseWriter, r *http.Request) {
	var req enabledRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		writeBadRequest(w, "enabled is required")
		return
	}
	if err := s.ctrl.SetEnabled(r.Context(), chi.URLParam(r, "addr"), *req.Enabled); err != nil {
		writeRegistryError(w, err)
		return
	}
	s.handleGetDevice(w, r)
}

type updateRequest struct {
	Mode       lights.Mode `json:"mode"`
	Color      string      `json:"color"`
	Brightness *uint16     `json:"brightness,omitempty"`
	Transition int         `json:"transition"`
}

func (req updateRequest) validate() (lights.Color, error) {
	if req.Mode != lights.ModeAll && !req.Mode.Valid() {
		return lights.Color{}, registry.ErrInvalidMode
	}
	return lights.ParseHex(req.Color)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	color, err := req.validate()
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if err := s.ctrl.RequestUpdate(req.Mode, color, req.Transition); err != nil {
		writeRegistryError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleUpdateBrightness(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	color, err := req.validate()
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if req.Brightness == nil {
		writeBadRequest(w, "brightness is required")
		return
	}
	if err := s.ctrl.RequestUpdateBrightness(req.Mode, color, *req.Brightness, req.Transition); err != nil {
		writeRegistryError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.RestoreAll(r.Context()); err != nil {
		s.log.Error(err, "Restore incomplete")
		writeError(w, http.StatusBadGateway, ErrCodeDevice, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeRegistryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		writeNotFound(w, err.Error())
	case errors.Is(err, registry.ErrInvalidMode):
		writeBadRequest(w, err.Error())
	case errors.Is(err, registry.ErrInactive):
		writeError(w, http.StatusConflict, ErrCodeInactive, err.Error())
	case errors.Is(err, registry.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}
