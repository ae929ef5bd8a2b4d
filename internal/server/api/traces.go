// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/tombee/tracehub/internal/broadcast"
	"github.com/tombee/tracehub/internal/log"
	"github.com/tombee/tracehub/internal/server/httputil"
	"github.com/tombee/tracehub/internal/tracestore"
	"github.com/tombee/tracehub/internal/tracestore/index"
	"github.com/tombee/tracehub/pkg/errors"
	"github.com/tombee/tracehub/pkg/telemetry"
)

// writeResponse acknowledges a write.
type writeResponse struct {
	TraceID string `json:"traceId"`
	Changed int    `json:"changed"`
}

// handleWrite handles POST /api/traces. Every failure, malformed input
// included, is a 500 so existing clients keep their retry semantics.
func (r *Router) handleWrite(w http.ResponseWriter, req *http.Request) {
	body, err := readBody(req, r.config.MaxBodyBytes)
	if err != nil {
		r.writeBodyError(w, err, http.StatusInternalServerError)
		return
	}

	var frag telemetry.TraceFragment
	if err := telemetry.Unmarshal(body, &frag); err != nil {
		httputil.WriteErr(w, http.StatusInternalServerError, &errors.ValidationError{
			Field:   "body",
			Message: "malformed trace fragment: " + err.Error(),
		})
		return
	}

	res, err := r.deps.Ingest.Write(req.Context(), &frag)
	if err != nil {
		if !errors.IsValidation(err) {
			r.logger.Error("trace write failed", slog.String(log.TraceIDKey, frag.TraceID), slog.Any("error", err))
		}
		httputil.WriteErr(w, http.StatusInternalServerError, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, writeResponse{TraceID: res.Trace.TraceID, Changed: len(res.Changed)})
}

// handleGet handles GET /api/traces/{id}.
func (r *Router) handleGet(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")

	t, err := r.deps.Traces.Read(req.Context(), id)
	if err != nil {
		switch {
		case errors.IsNotFound(err):
			httputil.WriteErr(w, http.StatusNotFound, err)
		case errors.IsValidation(err):
			httputil.WriteErr(w, http.StatusBadRequest, err)
		default:
			r.logger.Error("trace read failed", slog.String(log.TraceIDKey, id), slog.Any("error", err))
			httputil.WriteErr(w, http.StatusInternalServerError, err)
		}
		return
	}

	httputil.WriteJSON(w, http.StatusOK, t)
}

// handleList handles GET /api/traces?limit&continuationToken&filter.
func (r *Router) handleList(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()

	opts := tracestore.ListOptions{
		Limit:             r.config.DefaultLimit,
		ContinuationToken: q.Get("continuationToken"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			httputil.WriteErr(w, http.StatusBadRequest, &errors.ValidationError{
				Field:   "limit",
				Message: "must be a positive integer",
			})
			return
		}
		opts.Limit = min(n, maxListLimit)
	}
	if v := q.Get("filter"); v != "" {
		f, err := index.ParseFilter([]byte(v))
		if err != nil {
			httputil.WriteErr(w, http.StatusBadRequest, err)
			return
		}
		opts.Filter = f
	}

	res, err := r.deps.Traces.List(req.Context(), opts)
	if err != nil {
		if errors.IsValidation(err) {
			httputil.WriteErr(w, http.StatusBadRequest, err)
			return
		}
		r.logger.Error("trace list failed", slog.Any("error", err))
		httputil.WriteErr(w, http.StatusInternalServerError, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, res)
}

// handleStream handles GET /api/traces/{id}/stream as Server-Sent Events.
// Subscribing to a trace that does not exist yet is allowed.
func (r *Router) handleStream(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	if err := telemetry.ValidateTraceID(id); err != nil {
		httputil.WriteErr(w, http.StatusBadRequest, err)
		return
	}

	conn, err := broadcast.NewSSEConn(w, req)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	subID := r.deps.Subscriptions.Subscribe(id, conn)
	r.logger.Debug("sse subscriber connected", slog.String(log.TraceIDKey, id), slog.String(log.SubscriberKey, subID))

	conn.Serve(r.config.HeartbeatInterval)
}

// handleWebSocket handles GET /api/traces/{id}/ws.
func (r *Router) handleWebSocket(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	if err := telemetry.ValidateTraceID(id); err != nil {
		httputil.WriteErr(w, http.StatusBadRequest, err)
		return
	}

	conn, err := broadcast.UpgradeWS(w, req)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", slog.String(log.TraceIDKey, id), slog.Any("error", err))
		return
	}
	subID := r.deps.Subscriptions.Subscribe(id, conn)
	r.logger.Debug("websocket subscriber connected", slog.String(log.TraceIDKey, id), slog.String(log.SubscriberKey, subID))

	conn.Serve(r.config.HeartbeatInterval)
}

// handleCloseSubscribers handles DELETE /api/traces/{id}/subscribers.
func (r *Router) handleCloseSubscribers(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	n := r.deps.Subscriptions.Close(id)
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"traceId": id, "closed": n})
}

func (r *Router) writeBodyError(w http.ResponseWriter, err error, status int) {
	var tooLarge *errBodyTooLarge
	if errors.As(err, &tooLarge) {
		httputil.WriteError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	httputil.WriteErr(w, status, &errors.ValidationError{Field: "body", Message: err.Error()})
}
