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

package shared

import (
	"os"

	"github.com/tombee/tracehub/internal/client"
	"github.com/tombee/tracehub/internal/config"
)

// ServerURL resolves the server to talk to: --server, then
// TRACEHUB_SERVER, then the HTTP address of --config, then the default.
func ServerURL() (string, error) {
	if serverFlag != "" {
		return serverFlag, nil
	}
	if v := os.Getenv(client.ServerEnv); v != "" {
		return v, nil
	}
	if configFlag != "" {
		cfg, err := config.Load(configFlag)
		if err != nil {
			return "", err
		}
		return "http://" + cfg.Server.HTTPAddr, nil
	}
	return client.DefaultServerURL(), nil
}

// NewClient builds an API client for the resolved server.
func NewClient() (*client.Client, error) {
	u, err := ServerURL()
	if err != nil {
		return nil, NewInvalidInputError("failed to resolve server", err)
	}
	v, _, _ := GetVersion()
	c, err := client.New(u, client.WithUserAgent("tracehub-cli/"+v))
	if err != nil {
		return nil, NewInvalidInputError("invalid server", err)
	}
	return c, nil
}
