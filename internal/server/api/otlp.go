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
	"mime"
	"net/http"

	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	"google.golang.org/protobuf/proto"

	"github.com/tombee/tracehub/internal/otlp"
	"github.com/tombee/tracehub/internal/server/httputil"
	"github.com/tombee/tracehub/pkg/errors"
)

const protobufContentType = "application/x-protobuf"

// handleOTLP handles POST /api/otlp[/{parentTraceId}/{parentSpanId}].
// Malformed exports are reported as 500 like native writes.
func (r *Router) handleOTLP(w http.ResponseWriter, req *http.Request) {
	parent := otlp.Parent{
		TraceID: req.PathValue("parentTraceId"),
		SpanID:  req.PathValue("parentSpanId"),
	}
	r.ingestOTLP(w, req, parent, http.StatusInternalServerError)
}

// handleOTLPStandard handles the OTLP/HTTP POST /v1/traces path, where
// exporters expect 400 for payloads they should not retry.
func (r *Router) handleOTLPStandard(w http.ResponseWriter, req *http.Request) {
	r.ingestOTLP(w, req, otlp.Parent{}, http.StatusBadRequest)
}

func (r *Router) ingestOTLP(w http.ResponseWriter, req *http.Request, parent otlp.Parent, invalidStatus int) {
	body, err := readBody(req, r.config.MaxBodyBytes)
	if err != nil {
		r.writeBodyError(w, err, invalidStatus)
		return
	}

	isProto := false
	if ct, _, err := mime.ParseMediaType(req.Header.Get("Content-Type")); err == nil && ct == protobufContentType {
		isProto = true
	}

	var export *otlp.ExportRequest
	if isProto {
		export, err = otlp.DecodeProto(body)
	} else {
		export, err = otlp.DecodeJSON(body)
	}
	if err != nil {
		httputil.WriteErr(w, invalidStatus, err)
		return
	}

	n, err := r.deps.Ingest.IngestOTLP(req.Context(), export, parent, "otlp_http")
	if err != nil {
		if errors.IsValidation(err) {
			httputil.WriteErr(w, invalidStatus, err)
			return
		}
		r.logger.Error("otlp ingest failed", slog.Any("error", err))
		httputil.WriteErr(w, http.StatusInternalServerError, err)
		return
	}
	r.logger.Debug("otlp export stored", slog.Int("spans", n), slog.String("parent_trace_id", parent.TraceID))

	if isProto {
		data, err := proto.Marshal(&coltracepb.ExportTraceServiceResponse{})
		if err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", protobufContentType)
		w.WriteHeader(http.StatusOK)
		w.Write(data)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{})
}
