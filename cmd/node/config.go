package main

import (
	"io/ioutil"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/vireonet/vireo/pkg/config"
)

func readConfigFile(path string) (config.ApplicationConfiguration, error) {
	var cfg config.ApplicationConfiguration

	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "reading config %s", path)
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parsing config %s", path)
	}

	if cfg.Consensus.SecondsPerBlock <= 0 {
		cfg.Consensus.SecondsPerBlock = 15
	}
	if cfg.Consensus.MaxTransactionsPerBlock <= 0 {
		cfg.Consensus.MaxTransactionsPerBlock = 512
	}

	return cfg, nil
}
