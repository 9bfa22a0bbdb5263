package main

import (
	"bytes"
	"io"
	"os"

	"github.com/BurntSushi/toml"
)

type config struct {
	Title string

	Mongo struct {
		URI      string
		Database string
	}

	Listen struct {
		Subnets             []string
		Addresses           []string
		Port                int
		BindConcurrency     int `toml:"bind-concurrency"`
		UDPAssociationLimit int `toml:"udp-association-limit"`
	}

	Cache struct {
		Capacity int
		TTL      string
	}

	DNS struct {
		Upstream          string
		MaxCacheSize      int    `toml:"max-cache-size"`
		ResolutionTimeout string `toml:"resolution-timeout"`
	}

	Log struct {
		Level  string
		Config string // optional path to a logrus hook/formatter config file
	}
}

func loadConfig(name ...string) (config, error) {
	b := new(bytes.Buffer)
	var c config
	for _, fn := range name {
		if err := loadFile(b, fn); err != nil {
			return c, err
		}
		b.WriteString("\n")
	}
	_, err := toml.DecodeReader(b, &c)
	return c, err
}

func loadFile(w io.Writer, name string) error {
	f, err := os.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}
