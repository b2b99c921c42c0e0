// Package config loads capture profiles and environment settings.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/andresmejia3/livecapture/internal/capture"
	"github.com/andresmejia3/livecapture/internal/session"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultDatabaseURL is used when neither --db nor POSTGRES_HOST is set.
const DefaultDatabaseURL = "postgres://localhost:5432/livecapture"

// Profile is the on-disk capture profile.
type Profile struct {
	PhotoCount   int           `yaml:"photo_count" validate:"min=1,max=20"`
	Interval     time.Duration `yaml:"interval" validate:"gte=0,lte=10s"`
	MaxDimension int           `yaml:"max_dimension" validate:"gte=0,lte=8192"`
	JPEGQuality  int           `yaml:"jpeg_quality" validate:"min=1,max=100"`
	SlotRetries  int           `yaml:"slot_retries" validate:"gte=0,lte=5"`
	AbortOnSpoof bool          `yaml:"abort_on_spoof"`
}

// DefaultProfile mirrors capture.DefaultConfig.
func DefaultProfile() Profile {
	c := capture.DefaultConfig()
	return Profile{
		PhotoCount:   c.PhotoCount,
		Interval:     c.Interval,
		MaxDimension: c.MaxDimension,
		JPEGQuality:  c.Quality,
		SlotRetries:  c.SlotRetries,
	}
}

// Capture converts the profile into burst settings.
func (p Profile) Capture() capture.Config {
	return capture.Config{
		PhotoCount:   p.PhotoCount,
		Interval:     p.Interval,
		MaxDimension: p.MaxDimension,
		Quality:      p.JPEGQuality,
		SlotRetries:  p.SlotRetries,
	}
}

func (p Profile) Session() session.Options {
	return session.Options{AbortOnSpoof: p.AbortOnSpoof}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report yaml keys instead of Go field names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks every field against its bounds.
func (p Profile) Validate() error {
	err := validate.Struct(p)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s (got %v)", fe.Field(), fe.Tag(), fe.Param(), fe.Value()))
	}
	return fmt.Errorf("invalid profile: %s", strings.Join(msgs, "; "))
}

// ParseProfile decodes YAML over the defaults, so omitted keys keep their
// default value.
func ParseProfile(data []byte) (Profile, error) {
	p := DefaultProfile()
	if len(bytes.TrimSpace(data)) == 0 {
		return p, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return Profile{}, fmt.Errorf("decode profile: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// LoadProfile reads a profile file. An empty path returns the defaults.
func LoadProfile(path string) (Profile, error) {
	if path == "" {
		return DefaultProfile(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read profile %s: %w", path, err)
	}
	p, err := ParseProfile(data)
	if err != nil {
		return Profile{}, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// LoadEnv loads .env style files into the process environment. Missing files
// are skipped and variables already set win.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// DatabaseURL returns flagValue when set, otherwise a URL assembled from the
// POSTGRES_* variables, otherwise DefaultDatabaseURL.
func DatabaseURL(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return DefaultDatabaseURL
	}
	port := os.Getenv("POSTGRES_PORT")
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		os.Getenv("POSTGRES_USER"), os.Getenv("POSTGRES_PASSWORD"), host, port, os.Getenv("POSTGRES_DB"))
}

// DatabaseConfigured reports whether a database was asked for explicitly.
func DatabaseConfigured(flagValue string) bool {
	return flagValue != "" || os.Getenv("POSTGRES_HOST") != ""
}
