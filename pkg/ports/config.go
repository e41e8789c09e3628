package ports

// Config exposes settings addressed by dotted key, e.g. "gate.on_branch.keep_io".
// Missing keys yield the zero value of the requested type.
type Config interface {
	Get(key string) (any, bool)
	GetString(key string) string
	GetBool(key string) bool
	GetFloat(key string) float64
	GetStrings(key string) []string
}
