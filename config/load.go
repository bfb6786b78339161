package config

import (
	// Go Internal Packages
	"strings"

	// External Packages
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
)

// secrets maps the environment variables that may override the file configuration.
var secrets = map[string]string{
	"MONGO_URI":      "mongo.uri",
	"REDIS_URI":      "redis.uri",
	"REDIS_PASSWORD": "redis.password",
	"KAFKA_BROKERS":  "kafka.brokers",
	"LEDGER_URL":     "ledger.url",
	"IS_PROD_MODE":   "is_prod_mode",
}

// Load reads the default configuration, overrides it with the file at path (if it
// exists) and then with secrets from the environment.
func Load(path string) (*koanf.Koanf, Config, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(DefaultConfig), yaml.Parser()); err != nil {
		return nil, Config{}, err
	}
	if path != "" {
		// a missing file leaves the defaults in place
		_ = k.Load(file.Provider(path), yaml.Parser())
	}
	if err := LoadSecrets(k); err != nil {
		return nil, Config{}, err
	}

	var conf Config
	if err := k.Unmarshal("", &conf); err != nil {
		return nil, Config{}, err
	}
	return k, conf, nil
}

// LoadSecrets overrides configuration keys with the secret environment variables that are set.
func LoadSecrets(k *koanf.Koanf) error {
	return k.Load(env.ProviderWithValue("", ".", func(key, value string) (string, interface{}) {
		path, ok := secrets[key]
		if !ok || value == "" {
			return "", nil
		}
		if path == "kafka.brokers" {
			return path, strings.Split(value, ",")
		}
		return path, value
	}), nil)
}
