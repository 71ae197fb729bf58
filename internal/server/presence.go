package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/swarmnet/internal/store"
	"github.com/HerbHall/swarmnet/pkg/models"
)

const maxListLimit = 1000

// PresenceSource is the read side of store.PresenceStore.
type PresenceSource interface {
	GetPresence(ctx context.Context, mac string) (*models.DevicePresence, error)
	ListPresence(ctx context.Context, now time.Time, threshold time.Duration) ([]models.DeviceStatus, error)
	ListDetections(ctx context.Context, limit int) ([]models.DetectionRecord, error)
	ListTelemetry(ctx context.Context, limit int) ([]models.TelemetryRecord, error)
	Stats(ctx context.Context) (store.Stats, error)
}

// PresenceRoutes serves read-only JSON views of the presence tables.
type PresenceRoutes struct {
	src       PresenceSource
	threshold time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewPresenceRoutes creates the manager's API routes. threshold decides
// the derived online flag.
func NewPresenceRoutes(src PresenceSource, threshold time.Duration, logger *zap.Logger) *PresenceRoutes {
	return &PresenceRoutes{src: src, threshold: threshold, logger: logger, now: time.Now}
}

// RegisterRoutes implements RouteRegistrar.
func (p *PresenceRoutes) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/devices", p.handleListDevices)
	mux.HandleFunc("GET /api/v1/devices/{mac}", p.handleGetDevice)
	mux.HandleFunc("GET /api/v1/detections", p.handleListDetections)
	mux.HandleFunc("GET /api/v1/telemetry", p.handleListTelemetry)
	mux.HandleFunc("GET /api/v1/stats", p.handleStats)
}

// DeviceListResponse is the response for GET /api/v1/devices.
type DeviceListResponse struct {
	Devices         []models.DeviceStatus `json:"devices"`
	Online          int                   `json:"online"`
	Total           int                   `json:"total"`
	OnlineThreshold string                `json:"online_threshold"`
}

func (p *PresenceRoutes) handleListDevices(w http.ResponseWriter, r *http.Request) {
	filter, err := parseOnlineFilter(r.URL.Query().Get("online"))
	if err != nil {
		BadRequest(w, err.Error(), r.URL.Path)
		return
	}

	all, err := p.src.ListPresence(r.Context(), p.now(), p.threshold)
	if err != nil {
		p.internal(w, r, err)
		return
	}

	resp := DeviceListResponse{
		Devices:         make([]models.DeviceStatus, 0, len(all)),
		OnlineThreshold: p.threshold.String(),
	}
	for _, d := range all {
		if d.Online {
			resp.Online++
		}
		if filter == nil || *filter == d.Online {
			resp.Devices = append(resp.Devices, d)
		}
	}
	resp.Total = len(all)
	writeJSON(w, http.StatusOK, resp)
}

func (p *PresenceRoutes) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	hw, err := net.ParseMAC(r.PathValue("mac"))
	if err != nil || len(hw) != 6 {
		BadRequest(w, "invalid MAC address", r.URL.Path)
		return
	}

	d, err := p.src.GetPresence(r.Context(), hw.String())
	if errors.Is(err, store.ErrDeviceNotFound) {
		NotFound(w, "device "+hw.String()+" has never been seen", r.URL.Path)
		return
	}
	if err != nil {
		p.internal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d.StatusAt(p.now(), p.threshold))
}

func (p *PresenceRoutes) handleListDetections(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		BadRequest(w, err.Error(), r.URL.Path)
		return
	}
	recs, err := p.src.ListDetections(r.Context(), limit)
	if err != nil {
		p.internal(w, r, err)
		return
	}
	if recs == nil {
		recs = []models.DetectionRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (p *PresenceRoutes) handleListTelemetry(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		BadRequest(w, err.Error(), r.URL.Path)
		return
	}
	recs, err := p.src.ListTelemetry(r.Context(), limit)
	if err != nil {
		p.internal(w, r, err)
		return
	}
	if recs == nil {
		recs = []models.TelemetryRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (p *PresenceRoutes) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := p.src.Stats(r.Context())
	if err != nil {
		p.internal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (p *PresenceRoutes) internal(w http.ResponseWriter, r *http.Request, err error) {
	p.logger.Error("presence query failed",
		zap.String("path", r.URL.Path),
		zap.String("request_id", RequestID(r.Context())),
		zap.Error(err),
	)
	InternalError(w, "failed to read presence data", r.URL.Path)
}

func parseOnlineFilter(v string) (*bool, error) {
	if v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, errors.New("online must be true or false")
	}
	return &b, nil
}

// parseLimit returns 0 (store default) for an empty value.
func parseLimit(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > maxListLimit {
		return 0, errors.New("limit must be between 1 and " + strconv.Itoa(maxListLimit))
	}
	return n, nil
}
