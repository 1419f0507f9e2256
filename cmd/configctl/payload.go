package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// loadPayload returns the config to push: the contents of file, or inline
// when file is empty. With validate set the payload must parse as TOML.
func loadPayload(file, inline string, validate bool) (string, error) {
	payload := inline
	if file != "" {
		if inline != "" {
			return "", errors.New("use -file or -payload, not both")
		}
		data, err := os.ReadFile(file)
		if err != nil {
			return "", err
		}
		payload = string(data)
	}
	if validate {
		var doc map[string]any
		if err := toml.Unmarshal([]byte(payload), &doc); err != nil {
			return "", fmt.Errorf("not valid TOML: %w", err)
		}
	}
	return payload, nil
}
