package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ericfisherdev/repowatch/internal/domain/model"
)

// Seed is the YAML file that pre-populates the registry at startup:
//
//	repositories:
//	  - name: octo/hello
//	    channels: ["#dev"]
//	  - name: octo/hooks
//	    push: true
type Seed struct {
	Repositories []SeedRepository `yaml:"repositories" validate:"dive"`
}

// SeedRepository declares one tracked repository.
type SeedRepository struct {
	Name     string   `yaml:"name" validate:"required,repo_name"`
	Channels []string `yaml:"channels" validate:"dive,channel"`
	Enabled  *bool    `yaml:"enabled"`
	Push     bool     `yaml:"push"`
}

var seedValidator = newSeedValidator()

func newSeedValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("repo_name", func(fl validator.FieldLevel) bool {
		_, _, err := model.SplitFullName(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("channel", func(fl validator.FieldLevel) bool {
		return model.ValidateChannel(fl.Field().String()) == nil
	})
	return v
}

// LoadSeed reads and validates a seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes and validates seed YAML. Unknown keys are rejected and an
// empty document yields an empty seed.
func ParseSeed(data []byte) (*Seed, error) {
	var seed Seed

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}

	if err := seedValidator.Struct(seed); err != nil {
		return nil, fmt.Errorf("invalid seed file: %w", err)
	}
	return &seed, nil
}
