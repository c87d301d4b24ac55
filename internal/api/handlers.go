package api

import (
	"encoding/json"
	"io"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"github.com/robofleet/resmux/internal/broker/model"
	"github.com/robofleet/resmux/internal/log"
	"github.com/robofleet/resmux/internal/telemetry"
)

// decodeBody reads and unmarshals the request body. On failure it returns
// the raw bytes so the caller can still echo correlation fields.
func (s *Server) decodeBody(r *http.Request, dst any) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, s.maxBody))
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return raw, err
	}
	return raw, nil
}

func (s *Server) header(api string, result model.Result, requestID string) resultHeader {
	return resultHeader{
		API:       api,
		Result:    result,
		RequestID: requestID,
		Timestamp: s.clock.NowMS(),
	}
}

// statusFor maps an engine outcome to an HTTP status: engine results are
// 200, backend failures 500. Validation failures are handled before the
// engine is called and return 400.
func statusFor(err error) int {
	if err != nil {
		return http.StatusInternalServerError
	}
	return http.StatusOK
}

func (s *Server) handleRegistration(w http.ResponseWriter, r *http.Request) {
	var req registrationRequest
	raw, err := s.decodeBody(r, &req)
	if err == nil {
		err = req.validate()
	}
	if err != nil {
		echo := recoverEchoFields(raw)
		lg := log.WithComponentFromContext(r.Context(), "api")
		lg.Warn().Err(err).
			Str(log.FieldEvent, "api.invalid_payload").
			Str("endpoint", "registration").
			Msg("rejected registration payload")
		writeJSON(w, http.StatusBadRequest, registrationResponse{
			resultHeader: s.header(apiRegistrationResult, model.ResultOthers, echo.RequestID),
		})
		return
	}

	if !s.allowWrite(w, r, apiRegistrationResult, req.RobotID, req.RequestID) {
		return
	}

	annotateSpan(r, req.BldgID, req.ResourceID, req.RobotID)
	out := s.engine.Register(r.Context(), engineRegistration(req))
	writeJSON(w, statusFor(out.Err), registrationResponse{
		resultHeader:      s.header(apiRegistrationResult, out.Result, req.RequestID),
		MaxExpirationTime: out.MaxExpirationMS,
		ExpirationTime:    out.ExpirationMS,
	})
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	var req releaseRequest
	raw, err := s.decodeBody(r, &req)
	if err == nil {
		err = req.validate()
	}
	if err != nil {
		echo := recoverEchoFields(raw)
		lg := log.WithComponentFromContext(r.Context(), "api")
		lg.Warn().Err(err).
			Str(log.FieldEvent, "api.invalid_payload").
			Str("endpoint", "release").
			Msg("rejected release payload")
		writeJSON(w, http.StatusBadRequest, releaseResponse{
			resultHeader: s.header(apiReleaseResult, model.ResultOthers, echo.RequestID),
			ResourceID:   echo.ResourceID,
		})
		return
	}

	if !s.allowWrite(w, r, apiReleaseResult, req.RobotID, req.RequestID) {
		return
	}

	annotateSpan(r, req.BldgID, req.ResourceID, req.RobotID)
	out := s.engine.Release(r.Context(), engineRelease(req))
	writeJSON(w, statusFor(out.Err), releaseResponse{
		resultHeader: s.header(apiReleaseResult, out.Result, req.RequestID),
		ResourceID:   req.ResourceID,
	})
}

func (s *Server) handleResourceStatus(w http.ResponseWriter, r *http.Request) {
	var req resourceStatusRequest
	raw, err := s.decodeBody(r, &req)
	if err == nil {
		err = req.validate()
	}
	if err != nil {
		echo := recoverEchoFields(raw)
		lg := log.WithComponentFromContext(r.Context(), "api")
		lg.Warn().Err(err).
			Str(log.FieldEvent, "api.invalid_payload").
			Str("endpoint", "request_resource_status").
			Msg("rejected resource status payload")
		writeJSON(w, http.StatusBadRequest, resourceStatusResponse{
			resultHeader:  s.header(apiResourceStatusResp, model.ResultOthers, echo.RequestID),
			ResourceID:    echo.ResourceID,
			ResourceState: model.StateUnknown,
		})
		return
	}

	out := s.engine.ResourceStatus(r.Context(), engineStatus(req))
	writeJSON(w, statusFor(out.Err), resourceStatusResponse{
		resultHeader:      s.header(apiResourceStatusResp, out.Result, req.RequestID),
		ResourceID:        req.ResourceID,
		ResourceState:     out.State,
		RobotID:           out.RobotID,
		MaxExpirationTime: out.MaxExpirationMS,
		ExpirationTime:    out.ExpirationMS,
	})
}

func (s *Server) handleRobotStatus(w http.ResponseWriter, r *http.Request) {
	var req robotStatusRequest
	_, err := s.decodeBody(r, &req)
	if err == nil {
		err = req.validate()
	}
	if err != nil {
		lg := log.WithComponentFromContext(r.Context(), "api")
		lg.Warn().Err(err).
			Str(log.FieldEvent, "api.invalid_payload").
			Str("endpoint", "robot_status").
			Msg("rejected robot status payload")
		writeJSON(w, http.StatusBadRequest, robotStatusResponse{
			resultHeader: s.header(apiRobotStatusResult, model.ResultOthers, req.RequestID),
		})
		return
	}

	if !s.allowWrite(w, r, apiRobotStatusResult, req.RobotID, req.RequestID) {
		return
	}

	out := s.engine.RobotStatus(r.Context(), engineRobotStatus(req))
	writeJSON(w, statusFor(out.Err), robotStatusResponse{
		resultHeader: s.header(apiRobotStatusResult, out.Result, req.RequestID),
	})
}

// handleAllData dumps every catalog record for dashboards and debugging.
func (s *Server) handleAllData(w http.ResponseWriter, r *http.Request) {
	records, err := s.engine.ListAll(r.Context())
	if err != nil {
		lg := log.WithComponentFromContext(r.Context(), "api")
		lg.Error().Err(err).
			Str(log.FieldEvent, "api.all_data_failed").
			Msg("catalog enumeration failed")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// annotateSpan attaches lease identity to the active request span, if any.
func annotateSpan(r *http.Request, bldgID, resourceID, robotID string) {
	span := trace.SpanFromContext(r.Context())
	if !span.IsRecording() {
		return
	}
	span.SetAttributes(telemetry.LeaseAttributes(bldgID, resourceID, robotID)...)
}

// allowWrite applies the optional per-robot limiter. Returns false after
// writing the 429 response.
func (s *Server) allowWrite(w http.ResponseWriter, r *http.Request, api, robotID, requestID string) bool {
	if s.opts.RobotLimiter == nil || s.opts.RobotLimiter.Allow(robotID) {
		return true
	}
	lg := log.WithComponentFromContext(r.Context(), "api")
	lg.Warn().
		Str(log.FieldEvent, "api.ratelimited").
		Str(log.FieldRobotID, robotID).
		Msg("robot rate limit exceeded")
	writeJSON(w, http.StatusTooManyRequests, resultHeader{
		API:       api,
		Result:    model.ResultOthers,
		RequestID: requestID,
		Timestamp: s.clock.NowMS(),
	})
	return false
}
