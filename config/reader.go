package config

import (
	"bytes"
	"encoding/json"
	"io"
	"sort"
	"strings"

	"github.com/a8m/envsubst"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"

	"go.tab5.dev/bsp/components/storage"
)

// Read reads a config from the given file. ${VAR} references are expanded from the environment
// before parsing.
func Read(filePath string) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	cfg, err := FromReader(bytes.NewReader(buf))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config %s", filePath)
	}
	cfg.ConfigFilePath = filePath
	return cfg, nil
}

// FromReader parses and validates a JSON config. Unset fields keep their Default values.
func FromReader(r io.Reader) (*Config, error) {
	var attributes map[string]interface{}
	if err := json.NewDecoder(r).Decode(&attributes); err != nil {
		return nil, errors.Wrap(err, "cannot parse config as json")
	}
	cfg, err := FromAttributes(attributes)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(""); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromAttributes decodes a generic map, as produced by JSON decoding, over Default. Each I2C bus
// entry is decoded over that bus's default wiring. Durations may be given as strings like "50ms".
// Unknown keys are an error.
func FromAttributes(attributes map[string]interface{}) (*Config, error) {
	cfg := Default()
	rest := make(map[string]interface{}, len(attributes))
	for k, v := range attributes {
		rest[k] = v
	}
	busAttrs, _ := rest["i2c_buses"].(map[string]interface{})
	delete(rest, "i2c_buses")

	// Present optional sections start from their defaults.
	if _, ok := rest["sd_card"].(map[string]interface{}); ok {
		sd := storage.DefaultSDCardConfig()
		cfg.SDCard = &sd
	}
	if _, ok := rest["spiffs"].(map[string]interface{}); ok {
		part := storage.DefaultPartitionConfig()
		cfg.SPIFFS = &part
	}

	var unused []string
	if err := decode(rest, cfg, "", &unused); err != nil {
		return nil, err
	}
	for name, raw := range busAttrs {
		busCfg := cfg.I2CBuses[name]
		if err := decode(raw, &busCfg, "i2c_buses."+name+".", &unused); err != nil {
			return nil, errors.Wrapf(err, "i2c bus %s", name)
		}
		cfg.I2CBuses[name] = busCfg
	}
	if len(unused) > 0 {
		sort.Strings(unused)
		return nil, errors.Errorf("unknown config keys: %s", strings.Join(unused, ", "))
	}
	return cfg, nil
}

func decode(input, result interface{}, prefix string, unused *[]string) error {
	var md mapstructure.Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:    "json",
		Result:     result,
		Metadata:   &md,
		DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(input); err != nil {
		return err
	}
	for _, key := range md.Unused {
		*unused = append(*unused, prefix+key)
	}
	return nil
}
