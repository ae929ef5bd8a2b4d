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

/*
Package client provides an HTTP client for the tracehub server API.

The tracehub CLI uses it to read, write and follow traces:

	c, err := client.New(client.DefaultServerURL())
	if err != nil {
	    log.Fatal(err)
	}

	// Merge a fragment into a trace
	res, err := c.WriteTrace(ctx, &telemetry.TraceFragment{TraceID: "1234", Spans: spans})

	// Page through traces of one type
	page, err := c.ListTraces(ctx, client.ListOptions{
	    Limit:  20,
	    Filter: &index.Filter{Eq: map[string]any{"type": "eval"}},
	})

	// Follow live span events until the server closes the stream
	err = c.Stream(ctx, "1234", func(ev telemetry.SpanEvent) error {
	    fmt.Println(ev.Type, ev.Span.SpanID)
	    return nil
	})

# Errors

Non-2xx responses are returned as *APIError, which carries the server's
error type so callers can use the pkg/errors helpers:

	if tracehuberrors.IsNotFound(err) { ... }

# Retries

Reads are retried with exponential backoff on connection failures, 5xx,
408 and 429 responses. Trace writes are retried too: merging the same
fragment twice yields the same trace.
*/
package client
