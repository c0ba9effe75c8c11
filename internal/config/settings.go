package config

// settingsStore persists the non-secret keys between runs. Save receives the
// value already parsed by its keySpec; Lookup hands back text so that every
// platform goes through the same keySpec.parse on the way in.
type settingsStore interface {
	Lookup(key string) (raw string, ok bool, err error)
	Save(key string, v any) error
	Remove(key string) error
}
