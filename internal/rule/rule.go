// Package rule implements cloudmark rule-check plugins.
//
// A rule looks at one normalized record and yields an event when it finds the
// misconfiguration it checks for. Rules never fail: a record of the wrong
// shape simply produces nothing.
package rule

import (
	"context"
	"iter"
	"slices"
	"strings"

	"github.com/yairfalse/cloudmark/pkg/record"
)

// Plugin is the capability set every rule exposes to the host loop.
type Plugin interface {
	// Name returns the rule identifier (e.g., "az_postgres_log_connections").
	Name() string

	// Eval yields the events rec triggers. The sequence is finite and is
	// re-evaluated from rec on each iteration.
	Eval(ctx context.Context, rec record.Record) iter.Seq[record.Record]

	// Done releases whatever the rule holds. Called once at shutdown.
	Done() error
}

// Guard selects the records a rule applies to.
type Guard struct {
	CloudType    string `yaml:"cloud_type"`    // com.cloud_type, e.g. "azure"
	RecordType   string `yaml:"record_type"`   // com.record_type, e.g. "rdbms"
	ResourceType string `yaml:"resource_type"` // ext.record_type, e.g. "postgresql_server"
}

// DefaultGuard matches Azure PostgreSQL server records.
var DefaultGuard = Guard{
	CloudType:    "azure",
	RecordType:   "rdbms",
	ResourceType: "postgresql_server",
}

func (g Guard) withDefaults() Guard {
	if g.CloudType == "" {
		g.CloudType = DefaultGuard.CloudType
	}
	if g.RecordType == "" {
		g.RecordType = DefaultGuard.RecordType
	}
	if g.ResourceType == "" {
		g.ResourceType = DefaultGuard.ResourceType
	}
	return g
}

// match returns the com and ext buckets of rec when the guard chain passes.
func (g Guard) match(rec record.Record) (com, ext map[string]any, ok bool) {
	com, ok = rec.Bucket(record.Com)
	if !ok {
		return nil, nil, false
	}
	if s, _ := record.Str(com, record.KeyCloudType); s != g.CloudType {
		return nil, nil, false
	}
	if s, _ := record.Str(com, record.KeyRecordType); s != g.RecordType {
		return nil, nil, false
	}

	ext, ok = rec.Bucket(record.Ext)
	if !ok {
		return nil, nil, false
	}
	if s, _ := record.Str(ext, record.KeyRecordType); s != g.ResourceType {
		return nil, nil, false
	}
	return com, ext, true
}

// subject is the "{cloud} {resource} {reference}" phrase opening every
// description and recommendation. Empty parts are left out.
func subject(com, ext map[string]any) string {
	cloud, _ := record.Str(com, record.KeyCloudType)
	kind, _ := record.Str(ext, record.KeyRecordType)
	parts := []string{
		record.Friendly(cloud),
		record.Friendly(kind),
		record.Text(com[record.KeyReference]),
	}
	return strings.Join(slices.DeleteFunc(parts, func(s string) bool { return s == "" }), " ")
}

// newEvent builds a fresh event. ext is copied, never aliased.
func newEvent(com, ext map[string]any, tag, description, recommendation string) record.Record {
	return record.Record{
		record.Ext: record.Merge(ext, map[string]any{
			record.KeyRecordType: tag,
		}),
		record.Com: map[string]any{
			record.KeyCloudType:      com[record.KeyCloudType],
			record.KeyRecordType:     tag,
			record.KeyReference:      com[record.KeyReference],
			record.KeyDescription:    description,
			record.KeyRecommendation: recommendation,
		},
	}
}
