package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MyCarrier-DevOps/docsync/internal/domain"
)

// fileSettings is the YAML shape of the settings file.
// Pointers distinguish "unset" from zero values.
type fileSettings struct {
	Token           *string `yaml:"token"`
	RemoteURL       *string `yaml:"remote_url"`
	Branch          *string `yaml:"branch"`
	AutoSync        *bool   `yaml:"auto_sync"`
	PushInterval    *string `yaml:"push_interval"`
	SlowNoticeAfter *string `yaml:"slow_notice_after"`
	Watch           *bool   `yaml:"watch"`
	WatchDebounce   *string `yaml:"watch_debounce"`
	Embedded        *bool   `yaml:"embedded"`
}

// applyFile overlays the settings file at path onto s.
// A missing file returns an error wrapping os.ErrNotExist, unless it was
// requested explicitly, in which case the error is ErrSettingsFileNotFound.
func applyFile(s *domain.Settings, path string, explicit bool) error {
	if path == "" {
		return os.ErrNotExist
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if explicit {
				return fmt.Errorf("%w: %s", ErrSettingsFileNotFound, path)
			}
			return err
		}
		return fmt.Errorf("failed to read settings file: %w", err)
	}

	var fs fileSettings
	if err := yaml.Unmarshal(data, &fs); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSettingsFileInvalid, path, err)
	}
	return fs.apply(s)
}

func (f fileSettings) apply(s *domain.Settings) error {
	if f.Token != nil {
		s.Token = *f.Token
	}
	if f.RemoteURL != nil {
		s.RemoteURL = *f.RemoteURL
	}
	if f.Branch != nil {
		s.Branch = *f.Branch
	}
	if f.AutoSync != nil {
		s.AutoSync = *f.AutoSync
	}
	if f.Watch != nil {
		s.Watch = *f.Watch
	}
	if f.Embedded != nil {
		s.ForceEmbedded = *f.Embedded
	}

	return errors.Join(
		parseDuration("push_interval", f.PushInterval, &s.PushInterval),
		parseDuration("slow_notice_after", f.SlowNoticeAfter, &s.SlowNoticeAfter),
		parseDuration("watch_debounce", f.WatchDebounce, &s.WatchDebounce),
	)
}

func parseDuration(name string, raw *string, dst *time.Duration) error {
	if raw == nil {
		return nil
	}
	d, err := time.ParseDuration(*raw)
	if err != nil {
		return fmt.Errorf("%w: %s=%q", ErrInvalidSetting, name, *raw)
	}
	*dst = d
	return nil
}
