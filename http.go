package proberun

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/raphi011/proberun/internal/descriptor"
	"github.com/raphi011/proberun/internal/html"
	"github.com/raphi011/proberun/internal/model"
	"github.com/raphi011/proberun/internal/runstate"
	"github.com/raphi011/proberun/internal/settings"
)

const (
	defaultResultsLimit = 100
	maxDescriptorSize   = 1 << 20
)

type MalformedRequestError struct {
	param string
}

func (e MalformedRequestError) Error() string {
	return "malformed request param: " + e.param
}

// SettingValue is the body of a settings update.
type SettingValue struct {
	Value string `json:"value"`
}

func (s *Server) router() *httprouter.Router {
	router := httprouter.New()

	router.POST("/runs", s.StartRunHandler)
	router.POST("/runs/cancel", s.CancelRunHandler)
	router.GET("/state", s.GetState)

	router.GET("/results", s.GetResults)
	router.GET("/results/:result-id", s.GetResult)
	router.DELETE("/results/:result-id", s.DeleteResult)
	router.PUT("/results/:result-id/viewed", s.MarkResultViewed)
	router.GET("/results/:result-id/measurements", s.GetMeasurements)
	router.GET("/results/:result-id/logs/:test-name", s.GetLog)

	router.POST("/uploads", s.StartUploadHandler)

	router.GET("/descriptors", s.GetDescriptors)
	router.POST("/descriptors", s.ImportDescriptor)
	router.DELETE("/descriptors/:descriptor-id", s.DeleteDescriptor)

	router.GET("/settings", s.GetSettings)
	router.PUT("/settings/:key", s.PutSetting)

	router.Handler(http.MethodGet, "/metrics", promhttp.Handler())

	return router
}

func (s *Server) httpError(w http.ResponseWriter, err error) {
	var notFound model.NotFoundError
	var duplicate model.DuplicateError
	var malformedRequest MalformedRequestError
	var runInProgress RunInProgressError
	var invalidDescriptor descriptor.InvalidDescriptorError
	var unknownSetting settings.UnknownKeyError
	var invalidSetting settings.InvalidValueError

	switch {
	case errors.As(err, &notFound), errors.As(err, &unknownSetting):
		w.WriteHeader(http.StatusNotFound)
	case errors.As(err, &duplicate), errors.As(err, &runInProgress):
		w.WriteHeader(http.StatusConflict)
	case errors.As(err, &malformedRequest), errors.As(err, &invalidDescriptor), errors.As(err, &invalidSetting):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		s.log.Error("request failed", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func (s *Server) writeResponse(w http.ResponseWriter, status int, response any) {
	body, err := json.Marshal(response)
	if err != nil {
		s.log.Error("unable to marshal response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if _, err = w.Write(body); err != nil {
		s.log.Warn("error writing body", "error", err)
	}
}

func wantsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

func (s *Server) StartRunHandler(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	var spec model.RunSpecification

	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		s.httpError(w, MalformedRequestError{param: "body"})
		return
	}

	if len(spec.Tests) == 0 {
		s.httpError(w, MalformedRequestError{param: "tests"})
		return
	}

	if spec.TaskOrigin == "" {
		spec.TaskOrigin = model.TaskOriginOoniRun
	}

	state, err := s.StartRun(spec)
	if err != nil {
		s.httpError(w, err)
		return
	}

	s.writeResponse(w, http.StatusAccepted, runstate.SnapshotOf(state))
}

func (s *Server) CancelRunHandler(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	s.CancelRun()

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) GetState(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	s.writeResponse(w, http.StatusOK, runstate.SnapshotOf(s.State()))
}

func (s *Server) GetResults(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	limit := defaultResultsLimit

	if l := r.URL.Query().Get("limit"); l != "" {
		var err error
		if limit, err = strconv.Atoi(l); err != nil || limit <= 0 {
			s.httpError(w, MalformedRequestError{param: "limit"})
			return
		}
	}

	results, err := s.storage.LoadResults(r.Context(), limit)
	if err != nil {
		s.httpError(w, err)
		return
	}

	if wantsHTML(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")

		if err := html.RenderResults(results, w); err != nil {
			s.log.Warn("unable to render results", "error", err)
		}
		return
	}

	s.writeResponse(w, http.StatusOK, results)
}

func (s *Server) GetResult(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	result, err := s.getResult(r, p)
	if err != nil {
		s.httpError(w, err)
		return
	}

	if !wantsHTML(r) {
		s.writeResponse(w, http.StatusOK, result)
		return
	}

	measurements, err := s.storage.LoadMeasurementsByResult(r.Context(), result.ID)
	if err != nil {
		s.httpError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	if err := html.RenderResult(html.ResultPage{Result: result, Measurements: measurements}, w); err != nil {
		s.log.Warn("unable to render result", "error", err)
	}
}

func (s *Server) DeleteResult(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	result, err := s.getResult(r, p)
	if err != nil {
		s.httpError(w, err)
		return
	}

	if !result.IsDone {
		s.httpError(w, RunInProgressError{})
		return
	}

	if err := s.storage.DeleteResult(r.Context(), result.ID); err != nil {
		s.httpError(w, err)
		return
	}

	if err := s.files.DeleteLogs(result.ID); err != nil {
		s.log.Warn("unable to delete logs", "result-id", result.ID, "error", err)
	}

	s.recovery.DeleteOrphans(r.Context())

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) MarkResultViewed(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	id, err := resultID(p)
	if err != nil {
		s.httpError(w, err)
		return
	}

	if err := s.storage.MarkResultViewed(r.Context(), id); err != nil {
		s.httpError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) GetMeasurements(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	result, err := s.getResult(r, p)
	if err != nil {
		s.httpError(w, err)
		return
	}

	measurements, err := s.storage.LoadMeasurementsByResult(r.Context(), result.ID)
	if err != nil {
		s.httpError(w, err)
		return
	}

	s.writeResponse(w, http.StatusOK, measurements)
}

func (s *Server) GetLog(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	id, err := resultID(p)
	if err != nil {
		s.httpError(w, err)
		return
	}

	log, err := s.files.ReadLog(id, model.TestType(p.ByName("test-name")))
	if err != nil {
		s.httpError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if _, err := io.WriteString(w, log); err != nil {
		s.log.Warn("error writing body", "error", err)
	}
}

func (s *Server) StartUploadHandler(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	filter, err := uploadFilter(r)
	if err != nil {
		s.httpError(w, err)
		return
	}

	s.StartUpload(filter)

	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) GetDescriptors(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	descriptors, err := s.catalog.All(r.Context())
	if err != nil {
		s.httpError(w, err)
		return
	}

	s.writeResponse(w, http.StatusOK, descriptors)
}

func (s *Server) ImportDescriptor(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxDescriptorSize))
	if err != nil {
		s.httpError(w, MalformedRequestError{param: "body"})
		return
	}

	d, err := s.catalog.Import(r.Context(), body, descriptor.FormatFromContentType(r.Header.Get("Content-Type")))
	if err != nil {
		s.httpError(w, err)
		return
	}

	s.writeResponse(w, http.StatusCreated, d)
}

func (s *Server) DeleteDescriptor(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	id := model.DescriptorID(p.ByName("descriptor-id"))

	if err := s.storage.DeleteDescriptor(r.Context(), id); err != nil {
		s.httpError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) GetSettings(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	all, err := s.settings.All(r.Context())
	if err != nil {
		s.httpError(w, err)
		return
	}

	s.writeResponse(w, http.StatusOK, all)
}

func (s *Server) PutSetting(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	var v SettingValue

	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		s.httpError(w, MalformedRequestError{param: "body"})
		return
	}

	if err := s.settings.Set(r.Context(), p.ByName("key"), v.Value); err != nil {
		s.httpError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getResult(r *http.Request, p httprouter.Params) (model.Result, error) {
	id, err := resultID(p)
	if err != nil {
		return model.Result{}, err
	}

	return s.storage.LoadResult(r.Context(), id)
}

func resultID(p httprouter.Params) (model.ResultID, error) {
	id, err := strconv.ParseInt(p.ByName("result-id"), 10, 64)
	if err != nil {
		return 0, MalformedRequestError{param: "result-id"}
	}

	return model.ResultID(id), nil
}

func uploadFilter(r *http.Request) (model.MeasurementsFilter, error) {
	q := r.URL.Query()

	if m := q.Get("measurement-id"); m != "" {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return nil, MalformedRequestError{param: "measurement-id"}
		}

		return model.SingleMeasurement{MeasurementID: model.MeasurementID(id)}, nil
	}

	if res := q.Get("result-id"); res != "" {
		id, err := strconv.ParseInt(res, 10, 64)
		if err != nil {
			return nil, MalformedRequestError{param: "result-id"}
		}

		return model.ResultMeasurements{ResultID: model.ResultID(id)}, nil
	}

	return model.AllMeasurements{}, nil
}
