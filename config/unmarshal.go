package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"

	"grindstone.dev/grindstone/config/jsontemplate"
)

// UnmarshalCoordinator parses a coordinator config document on top of the
// defaults. `{"$param": "NAME"}` values are resolved from params.
func UnmarshalCoordinator(data []byte, params *jsontemplate.Params) (*CoordinatorConfig, error) {
	config := DefaultCoordinatorConfig()
	if err := unmarshal(data, params, config); err != nil {
		return nil, err
	}
	slog.Info("resolved coordinator config", "config", fmt.Sprintf("%+v", *config))
	return config, nil
}

// UnmarshalWorker parses a worker config document on top of the defaults.
func UnmarshalWorker(data []byte, params *jsontemplate.Params) (*WorkerConfig, error) {
	config := DefaultWorkerConfig()
	if err := unmarshal(data, params, config); err != nil {
		return nil, err
	}
	slog.Info("resolved worker config", "config", fmt.Sprintf("%+v", *config))
	return config, nil
}

func unmarshal(data []byte, params *jsontemplate.Params, target any) error {
	if params == nil {
		params = jsontemplate.NewParams()
	}

	// Resolve variables in the overall configuration
	resolved, err := jsontemplate.Resolve(data, target, params)
	if err != nil {
		return fmt.Errorf("failed to resolve variables: %v", err)
	}

	decoder := json.NewDecoder(bytes.NewReader(resolved))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("invalid config document format: %v", err)
	}
	return nil
}
