package config

import (
	"fmt"
	"reflect"
	"sync/atomic"

	"github.com/dndcreator/promethea-gateway/internal/bus"
	"github.com/dndcreator/promethea-gateway/pkg/models"
)

// Snapshot is an immutable view of the system config layered with one
// user's overrides. Callers hold a Snapshot for the lifetime of a single
// operation (a turn, an HTTP request) rather than re-reading the service,
// so a config change mid-operation never produces a torn read.
type Snapshot struct {
	System *Config
	User   *Config
	UserID string
}

// Effective returns the user override layered over the system config, with
// the user's non-zero fields taking precedence. nil User returns System
// unchanged.
func (s *Snapshot) Effective() *Config {
	if s == nil || s.System == nil {
		return &Config{}
	}
	if s.User == nil {
		return s.System
	}
	merged := *s.System
	mergeConfigOverride(&merged, s.User)
	return &merged
}

// Redacted returns a deep copy of cfg with every field tagged
// secret:"true" zeroed out — the shape returned to GET /api/config, so a
// JWT secret or LLM API key never reaches an HTTP response body.
func Redacted(cfg *Config) *Config {
	if cfg == nil {
		return &Config{}
	}
	clone := *cfg
	zeroSecretFields(reflect.ValueOf(&clone).Elem())
	return &clone
}

func zeroSecretFields(v reflect.Value) {
	if v.Kind() != reflect.Struct {
		return
	}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fv := v.Field(i)
		if !fv.CanSet() {
			continue
		}
		if field.Tag.Get("secret") == "true" {
			fv.Set(reflect.Zero(fv.Type()))
			continue
		}
		switch fv.Kind() {
		case reflect.Struct:
			zeroSecretFields(fv)
		case reflect.Slice:
			for j := 0; j < fv.Len(); j++ {
				elem := fv.Index(j)
				if elem.Kind() == reflect.Struct {
					zeroSecretFields(elem)
				}
			}
		}
	}
}

// Service is the RCU-style config service: a system config plus per-user
// override documents, published as an atomic.Pointer so readers never
// observe a partially-applied mutation. Every mutating call publishes a
// fresh *Snapshot and emits models.EventConfigChanged.
type Service struct {
	bus *bus.Bus

	system atomic.Pointer[Config]
	users  atomic.Pointer[map[string]*Config]
}

// NewService constructs a Service seeded with system. eventBus may be nil,
// in which case mutations are not announced.
func NewService(system *Config, eventBus *bus.Bus) *Service {
	if system == nil {
		system = &Config{}
	}
	s := &Service{bus: eventBus}
	s.system.Store(system)
	empty := map[string]*Config{}
	s.users.Store(&empty)
	return s
}

// GetSnapshot returns the current system config layered with userID's
// override, if any. userID == "" returns the system config alone.
func (s *Service) GetSnapshot(userID string) *Snapshot {
	snap := &Snapshot{System: s.system.Load(), UserID: userID}
	if userID == "" {
		return snap
	}
	users := *s.users.Load()
	if u, ok := users[userID]; ok {
		snap.User = u
	}
	return snap
}

// UpdateSystemConfig replaces the system config wholesale with patch,
// rejecting the patch if it touches any field tagged secret:"true".
func (s *Service) UpdateSystemConfig(patch *Config) error {
	if patch == nil {
		return fmt.Errorf("patch is required")
	}
	if err := rejectSecretFields(patch); err != nil {
		return err
	}
	s.system.Store(patch)
	s.emitChanged("", "system")
	return nil
}

// UpdateUserConfig replaces userID's override document with patch.
func (s *Service) UpdateUserConfig(userID string, patch *Config) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	if patch == nil {
		return fmt.Errorf("patch is required")
	}
	if err := rejectSecretFields(patch); err != nil {
		return err
	}

	for {
		old := s.users.Load()
		next := cloneUserMap(*old)
		next[userID] = patch
		if s.users.CompareAndSwap(old, &next) {
			break
		}
	}
	s.emitChanged(userID, "user")
	return nil
}

// ResetUser discards userID's override document, reverting it to the bare
// system config.
func (s *Service) ResetUser(userID string) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	for {
		old := s.users.Load()
		if _, ok := (*old)[userID]; !ok {
			return nil
		}
		next := cloneUserMap(*old)
		delete(next, userID)
		if s.users.CompareAndSwap(old, &next) {
			break
		}
	}
	s.emitChanged(userID, "reset")
	return nil
}

func (s *Service) emitChanged(userID, kind string) {
	if s.bus == nil {
		return
	}
	s.bus.Emit(models.EventConfigChanged, map[string]string{
		"user_id": userID,
		"kind":    kind,
	}, "")
}

func cloneUserMap(m map[string]*Config) map[string]*Config {
	next := make(map[string]*Config, len(m)+1)
	for k, v := range m {
		next[k] = v
	}
	return next
}

// rejectSecretFields walks cfg by reflection and fails if any field tagged
// secret:"true" is non-zero, enforcing that secrets can only reach Config
// via environment overrides, never a user or system config patch.
func rejectSecretFields(cfg *Config) error {
	var offending []string
	walkSecretFields(reflect.ValueOf(cfg).Elem(), "", &offending)
	if len(offending) > 0 {
		return fmt.Errorf("config patch touches secret fields: %v", offending)
	}
	return nil
}

func walkSecretFields(v reflect.Value, path string, offending *[]string) {
	if v.Kind() != reflect.Struct {
		return
	}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fv := v.Field(i)
		name := path + "." + field.Name

		if field.Tag.Get("secret") == "true" {
			if !fv.IsZero() {
				*offending = append(*offending, name)
			}
			continue
		}

		switch fv.Kind() {
		case reflect.Struct:
			walkSecretFields(fv, name, offending)
		case reflect.Slice:
			for j := 0; j < fv.Len(); j++ {
				elem := fv.Index(j)
				if elem.Kind() == reflect.Struct {
					walkSecretFields(elem, fmt.Sprintf("%s[%d]", name, j), offending)
				}
			}
		case reflect.Map:
			for _, key := range fv.MapKeys() {
				elem := fv.MapIndex(key)
				if elem.Kind() == reflect.Struct {
					walkSecretFields(elem, fmt.Sprintf("%s[%v]", name, key.Interface()), offending)
				}
			}
		}
	}
}

// mergeConfigOverride copies every non-zero field of override's top-level
// sections onto base. Sections are merged wholesale (an override's LLM
// section, if set, replaces base's LLM section entirely) rather than
// field-by-field, matching how per-user documents are authored in practice.
func mergeConfigOverride(base, override *Config) {
	if override == nil {
		return
	}
	if !reflect.DeepEqual(override.Server, ServerConfig{}) {
		base.Server = override.Server
	}
	if !reflect.DeepEqual(override.Database, DatabaseConfig{}) {
		base.Database = override.Database
	}
	if !reflect.DeepEqual(override.Auth, AuthConfig{}) {
		base.Auth = override.Auth
	}
	if !reflect.DeepEqual(override.LLM, LLMConfig{}) {
		base.LLM = override.LLM
	}
	if !reflect.DeepEqual(override.Session, SessionConfig{}) {
		base.Session = override.Session
	}
	if !reflect.DeepEqual(override.Tools, ToolsConfig{}) {
		base.Tools = override.Tools
	}
	if !reflect.DeepEqual(override.Logging, LoggingConfig{}) {
		base.Logging = override.Logging
	}
}
