package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/catalogstream/errors"
)

// configSchema validates session configuration documents before they are
// unmarshaled. Durations accept either Go duration strings or nanosecond
// numbers.
const configSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "Catalog browsing session configuration",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "name": {
      "type": "string"
    },
    "page_size": {
      "type": "integer",
      "minimum": 1,
      "maximum": 1000
    },
    "sort_mode": {
      "type": "integer",
      "minimum": 0,
      "maximum": 3
    },
    "fresh_for": {
      "oneOf": [
        {"type": "string", "pattern": "^([0-9]+(\\.[0-9]+)?(ns|us|ms|s|m|h))+$"},
        {"type": "number", "minimum": 0}
      ]
    },
    "stale_for": {
      "oneOf": [
        {"type": "string", "pattern": "^([0-9]+(\\.[0-9]+)?(ns|us|ms|s|m|h))+$"},
        {"type": "number", "minimum": 0}
      ]
    },
    "fetch_rate": {
      "type": "number",
      "minimum": 0
    },
    "fetch_burst": {
      "type": "integer",
      "minimum": 0
    }
  }
}`

// ValidateConfigJSON checks a raw configuration document against the schema
func ValidateConfigJSON(data []byte) error {
	schemaLoader := gojsonschema.NewStringLoader(configSchema)
	documentLoader := gojsonschema.NewBytesLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return errors.WrapInvalid(err, "Session", "ValidateConfigJSON", "schema validation")
	}

	if !result.Valid() {
		msg := "config validation failed:"
		for _, desc := range result.Errors() {
			msg += fmt.Sprintf(" %s: %s;", desc.Field(), desc.Description())
		}
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Session", "ValidateConfigJSON", msg)
	}
	return nil
}

// ParseConfig validates and unmarshals a configuration document
func ParseConfig(data []byte) (Config, error) {
	if err := ValidateConfigJSON(data); err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.WrapInvalid(err, "Session", "ParseConfig", "config unmarshal")
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// UnmarshalJSON accepts durations as either Go duration strings or
// nanosecond numbers
func (c *Config) UnmarshalJSON(data []byte) error {
	type Alias Config
	aux := &struct {
		FreshFor any `json:"fresh_for"`
		StaleFor any `json:"stale_for"`
		*Alias
	}{
		Alias: (*Alias)(c),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	freshFor, err := parseDuration(aux.FreshFor)
	if err != nil {
		return err
	}
	staleFor, err := parseDuration(aux.StaleFor)
	if err != nil {
		return err
	}
	c.FreshFor = freshFor
	c.StaleFor = staleFor
	return nil
}

func parseDuration(value any) (time.Duration, error) {
	switch v := value.(type) {
	case nil:
		return 0, nil
	case string:
		return time.ParseDuration(v)
	case float64:
		return time.Duration(v), nil
	default:
		return 0, fmt.Errorf("unsupported duration value %v", value)
	}
}
