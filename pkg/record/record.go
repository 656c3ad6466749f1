// Package record defines the normalized record model shared by cloudmark rules.
package record

// Bucket names every record and event carries.
const (
	Com = "com"
	Ext = "ext"
)

// Common keys of the com bucket.
const (
	KeyCloudType      = "cloud_type"
	KeyRecordType     = "record_type"
	KeyReference      = "reference"
	KeyDescription    = "description"
	KeyRecommendation = "recommendation"
)

// Record is one normalized cloud resource or one derived event.
// Values keep their JSON dynamic types, so a flag may be a bool, a string,
// nil or missing altogether. Records are treated as read-only once built.
type Record map[string]any

// Bucket returns the named bucket when it is present and is a mapping.
// A missing, null or non-mapping bucket reports false.
func (r Record) Bucket(name string) (map[string]any, bool) {
	switch b := r[name].(type) {
	case map[string]any:
		return b, b != nil
	case Record:
		return b, b != nil
	default:
		return nil, false
	}
}

// Str returns the string stored under key, or false when the key is absent
// or holds another type.
func Str(bucket map[string]any, key string) (string, bool) {
	s, ok := bucket[key].(string)
	return s, ok
}

// IsFalse reports whether key holds exactly the boolean false.
// A missing key, nil, true, "false" or 0 all report false.
func IsFalse(bucket map[string]any, key string) bool {
	v, ok := bucket[key].(bool)
	return ok && !v
}
