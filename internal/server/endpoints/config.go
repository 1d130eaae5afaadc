package endpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jackzampolin/quire/internal/api"
	"github.com/jackzampolin/quire/internal/config"
	"github.com/jackzampolin/quire/internal/svcctx"
)

// GetConfigEndpoint handles GET /api/config.
type GetConfigEndpoint struct{}

func (e *GetConfigEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/config", e.handler
}

func (e *GetConfigEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Get configuration
//	@Description	Get the configuration new jobs will use
//	@Tags			config
//	@Produce		json
//	@Success		200	{object}	config.Config
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/config [get]
func (e *GetConfigEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	cm := svcctx.ConfigManagerFrom(r.Context())
	if cm == nil {
		writeError(w, http.StatusServiceUnavailable, "config not initialized")
		return
	}
	writeJSON(w, http.StatusOK, cm.Get())
}

func (e *GetConfigEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Show the server's configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var cfg config.Config
			if err := client.Get(cmd.Context(), "/api/config", &cfg); err != nil {
				return err
			}
			return api.Output(cfg)
		},
	}
}

// UpdateConfigEndpoint handles PUT /api/config.
type UpdateConfigEndpoint struct{}

func (e *UpdateConfigEndpoint) Route() (string, string, http.HandlerFunc) {
	return "PUT", "/api/config", e.handler
}

func (e *UpdateConfigEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Update configuration
//	@Description	Merge the given keys into the configuration, validate, persist and apply. Running jobs keep their snapshot.
//	@Tags			config
//	@Accept			json
//	@Produce		json
//	@Param			request	body		object	true	"Partial configuration"
//	@Success		200		{object}	config.Config
//	@Failure		400		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Router			/api/config [put]
func (e *UpdateConfigEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	cm := svcctx.ConfigManagerFrom(r.Context())
	if cm == nil {
		writeError(w, http.StatusServiceUnavailable, "config not initialized")
		return
	}

	// Decoding onto the current config leaves absent keys untouched.
	next := cm.Get()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(next); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if next.SavePath == "" {
		next.SavePath = cm.Get().SavePath
	}

	if err := cm.Apply(next); err != nil {
		if errors.Is(err, config.ErrInvalid) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := cm.Save(); err != nil {
		svcctx.LoggerFrom(r.Context()).Warn("config applied but not saved", "error", err)
	}
	writeJSON(w, http.StatusOK, cm.Get())
}

func (e *UpdateConfigEndpoint) Command(getServerURL func() string) *cobra.Command {
	var sets []string
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Update configuration keys",
		Example: `  quire api config set --set max_workers=4 --set audiobook.enabled=true
  quire api config set --set api_endpoints='["https://a.example","https://b.example"]'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(sets) == 0 {
				return fmt.Errorf("at least one --set key=value is required")
			}
			patch, err := ParseSets(sets)
			if err != nil {
				return err
			}

			client := api.NewClient(getServerURL())
			var cfg config.Config
			if err := client.Put(cmd.Context(), "/api/config", patch, &cfg); err != nil {
				return err
			}
			return api.Output(cfg)
		},
	}
	cmd.Flags().StringArrayVar(&sets, "set", nil, "key=value, dotted keys for nested settings")
	return cmd
}

// ParseSets turns key=value pairs into a nested map. Values of non-string
// keys are parsed as YAML, so 4, true and [a, b] keep their types.
func ParseSets(sets []string) (map[string]any, error) {
	defaults := make(map[string]any)
	for _, e := range config.DefaultEntries() {
		defaults[e.Key] = e.Value
	}

	out := make(map[string]any)
	for _, kv := range sets {
		key, raw, ok := strings.Cut(kv, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q, want key=value", kv)
		}

		def, known := defaults[key]
		if !known {
			return nil, fmt.Errorf("unknown config key %q", key)
		}
		var value any = raw
		if _, isString := def.(string); !isString {
			if err := yaml.Unmarshal([]byte(raw), &value); err != nil {
				return nil, fmt.Errorf("invalid value for %s: %w", key, err)
			}
		}

		parts := strings.Split(key, ".")
		node := out
		for _, p := range parts[:len(parts)-1] {
			child, ok := node[p].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[p] = child
			}
			node = child
		}
		node[parts[len(parts)-1]] = value
	}
	return out, nil
}
