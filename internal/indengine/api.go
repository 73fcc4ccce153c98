package indengine

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"ta-enginev1/internal/indicator"
	"ta-enginev1/internal/logger"
	"ta-enginev1/internal/metrics"
	"ta-enginev1/internal/model"
	"ta-enginev1/internal/stream"
	"ta-enginev1/internal/vwap"
	"ta-enginev1/internal/worker"
)

const maxBody = 8 << 20

// Handler returns the HTTP API:
//
//	POST /compute               worker request -> worker response
//	POST /vwap                  bars + params -> VWAP bands
//	POST /validate              series -> validation report
//	GET  /indicators            supported indicator names
//	GET  /streams               all streams
//	GET  /streams/{id}          config and latest update
//	POST /streams/{id}/bars     push closed bars, or peek one forming bar
//	PUT  /streams/{id}/params   switch indicator or parameters
//	GET  /healthz, /metrics, /ws
func (svc *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/compute", svc.handleCompute)
	mux.HandleFunc("/vwap", svc.handleVWAP)
	mux.HandleFunc("/validate", svc.handleValidate)
	mux.HandleFunc("/indicators", svc.handleIndicators)
	mux.HandleFunc("/streams", svc.handleStreams)
	mux.HandleFunc("/streams/", svc.handleStream)
	mux.Handle("/healthz", svc.health)
	mux.Handle("/metrics", metrics.Handler(svc.reg))
	mux.Handle("/ws", svc.hub)
	return svc.withRequestID(mux)
}

func (svc *Service) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = logger.GenerateRequestID("http", time.Now())
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(logger.WithRequestID(r.Context(), id)))
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		writeError(w, http.StatusMethodNotAllowed, method+" only")
		return false
	}
	return true
}

// handleCompute runs one worker request through the pool. The reply is the
// worker message: {"id","result"} or {"id","error"}.
func (svc *Service) handleCompute(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	if !svc.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}
	var req worker.Request
	if !decode(w, r, &req) {
		return
	}
	resp, err := svc.pool.Do(r.Context(), req)
	if err != nil {
		svc.log.Warn("compute not run", append(logger.Attrs(r.Context()), "error", err)...)
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	code := http.StatusOK
	if resp.Error != "" {
		code = http.StatusUnprocessableEntity
	}
	writeJSON(w, code, resp)
}

type vwapRequest struct {
	Bars     []model.Bar `json:"bars"`
	Params   vwap.Params `json:"params"`
	Timezone string      `json:"timezone,omitempty"`
	Decimals *int        `json:"decimals,omitempty"`
}

func (svc *Service) handleVWAP(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req vwapRequest
	if !decode(w, r, &req) {
		return
	}
	if _, err := vwap.ParseResetInterval(string(req.Params.ResetInterval)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	loc, err := loadLocation(req.Timezone)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Params.Location = loc

	res := vwap.CalculateWithBands(req.Bars, req.Params)
	if req.Decimals != nil {
		res = vwap.FormatBandsResult(res, *req.Decimals)
	}
	writeJSON(w, http.StatusOK, res)
}

func (svc *Service) handleValidate(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var series model.Series
	if !decode(w, r, &series) {
		return
	}
	writeJSON(w, http.StatusOK, model.ValidateOHLCV(series))
}

func (svc *Service) handleIndicators(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"indicators": indicator.Names()})
}

type streamView struct {
	ID        string         `json:"id"`
	Symbol    string         `json:"symbol"`
	Indicator string         `json:"indicator"`
	Params    model.ParamMap `json:"params"`
	Bars      int            `json:"bars"`
	Latest    *stream.Update `json:"latest,omitempty"`
}

func view(s *stream.Stream, withLatest bool) streamView {
	cfg := s.Config()
	v := streamView{ID: cfg.ID, Symbol: cfg.Symbol, Indicator: cfg.Indicator, Params: cfg.Params, Bars: s.Len()}
	if withLatest {
		if u, ok := s.Latest(); ok {
			v.Latest = &u
		}
	}
	return v
}

func (svc *Service) handleStreams(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	streams := svc.Streams()
	out := make([]streamView, 0, len(streams))
	for _, s := range streams {
		out = append(out, view(s, false))
	}
	writeJSON(w, http.StatusOK, map[string]any{"streams": out})
}

// handleStream routes /streams/{id}[/bars|/params].
func (svc *Service) handleStream(w http.ResponseWriter, r *http.Request) {
	id, action, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/streams/"), "/")
	s, ok := svc.Stream(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown stream "+id)
		return
	}
	switch action {
	case "":
		if allow(w, r, http.MethodGet) {
			writeJSON(w, http.StatusOK, view(s, true))
		}
	case "bars":
		if allow(w, r, http.MethodPost) {
			svc.handlePushBars(w, r, s)
		}
	case "params":
		if allow(w, r, http.MethodPut) {
			svc.handleSetParams(w, r, s)
		}
	default:
		writeError(w, http.StatusNotFound, "unknown action "+action)
	}
}

type pushRequest struct {
	Bars    []model.Bar `json:"bars"`
	Forming bool        `json:"forming,omitempty"`
}

func (svc *Service) handlePushBars(w http.ResponseWriter, r *http.Request, s *stream.Stream) {
	var req pushRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.Bars) == 0 {
		writeError(w, http.StatusBadRequest, "no bars")
		return
	}

	if req.Forming {
		if len(req.Bars) != 1 {
			writeError(w, http.StatusBadRequest, "a forming push carries exactly one bar")
			return
		}
		u, err := svc.peek(s, req.Bars[0])
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, u)
		return
	}

	var (
		seq      uint64
		accepted []model.Bar
	)
	for _, b := range req.Bars {
		n, err := s.Push(r.Context(), b)
		if err != nil && errors.Is(err, stream.ErrOutOfOrder) {
			svc.persist(s.Symbol(), accepted...)
			writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error(), "accepted": len(accepted), "seq": seq})
			return
		}
		accepted = append(accepted, b)
		seq = n
		if err != nil {
			// the bar is buffered; only its compute failed
			svc.log.Warn("push compute failed", append(logger.Attrs(r.Context()), "stream", s.ID(), "error", err)...)
		}
	}
	svc.persist(s.Symbol(), accepted...)
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": len(accepted), "seq": seq})
}

type paramsRequest struct {
	Indicator string         `json:"indicator,omitempty"`
	Params    model.ParamMap `json:"params"`
}

func (svc *Service) handleSetParams(w http.ResponseWriter, r *http.Request, s *stream.Stream) {
	var req paramsRequest
	if !decode(w, r, &req) {
		return
	}
	var err error
	if req.Indicator != "" {
		_, err = s.SetIndicator(r.Context(), req.Indicator, req.Params)
	} else {
		_, err = s.SetParams(r.Context(), req.Params)
	}
	if err != nil && (errors.Is(err, indicator.ErrUnknownIndicator) || errors.Is(err, indicator.ErrInvalidParam)) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	svc.log.Info("stream reconfigured over http", append(logger.Attrs(r.Context()), "stream", s.ID())...)
	writeJSON(w, http.StatusOK, view(s, true))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, stream.ErrOutOfOrder):
		return http.StatusConflict
	case errors.Is(err, indicator.ErrMissingField), errors.Is(err, indicator.ErrInvalidParam):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
