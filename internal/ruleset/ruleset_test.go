package ruleset

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/cloudmark/internal/rule"
	"github.com/yairfalse/cloudmark/pkg/record"
)

const regoSource = `package cloudmark

violation := {"description": "ssl off"} if {
	input.ext.ssl_enforcement_enabled == false
}
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_BuiltinsOnly(t *testing.T) {
	reg, err := Load(context.Background(), Options{Builtin: true, Logger: zerolog.Nop()})
	require.NoError(t, err)

	assert.Equal(t, len(rule.Builtins()), reg.Len())
	_, ok := reg.Get("az_postgres_log_connections")
	assert.True(t, ok)
	_, ok = reg.Get("az_postgres_log_disconnections")
	assert.True(t, ok)
}

func TestLoad_Empty(t *testing.T) {
	reg, err := Load(context.Background(), Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	assert.Zero(t, reg.Len())
}

func TestLoad_FileWithFlagAndRego(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "ssl.rego", regoSource)
	path := writeFile(t, dir, "rules.yaml", `
rules:
  - name: az_mysql_log_connections
    flag: log_connections_enabled
    finding_tag: mysql_log_connections_event
    condition: log connections
    resource_type: mysql_server
  - name: az_postgres_ssl
    finding_tag: postgres_ssl_event
    rego: ssl.rego
`)

	reg, err := Load(context.Background(), Options{
		Builtin: true,
		Files:   []string{path},
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, err)
	assert.Equal(t, len(rule.Builtins())+2, reg.Len())

	mysql, ok := reg.Get("az_mysql_log_connections")
	require.True(t, ok)
	rec := record.Record{
		"com": map[string]any{"cloud_type": "azure", "record_type": "rdbms", "reference": "m1"},
		"ext": map[string]any{"record_type": "mysql_server", "log_connections_enabled": false},
	}
	events := slices.Collect(mysql.Eval(context.Background(), rec))
	require.Len(t, events, 1)
	com, _ := events[0].Bucket("com")
	assert.Equal(t, "Azure Mysql Server m1 has log connections disabled.", com["description"])

	ssl, ok := reg.Get("az_postgres_ssl")
	require.True(t, ok)
	_, isRego := ssl.(*rule.RegoRule)
	assert.True(t, isRego)
}

func TestLoad_Disable(t *testing.T) {
	reg, err := Load(context.Background(), Options{
		Builtin: true,
		Disable: []string{"az_postgres_log_duration"},
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, err)

	_, ok := reg.Get("az_postgres_log_duration")
	assert.False(t, ok)
	assert.Equal(t, len(rule.Builtins())-1, reg.Len())
}

func TestLoad_DisableUnknown(t *testing.T) {
	_, err := Load(context.Background(), Options{
		Builtin: true,
		Disable: []string{"nope"},
		Logger:  zerolog.Nop(),
	})
	require.ErrorIs(t, err, ErrUnknownRule)
}

func TestLoad_DuplicateAcrossBuiltins(t *testing.T) {
	path := writeFile(t, t.TempDir(), "rules.yaml", `
rules:
  - name: az_postgres_log_connections
    flag: x
    finding_tag: y
    condition: z
`)
	_, err := Load(context.Background(), Options{Builtin: true, Files: []string{path}, Logger: zerolog.Nop()})
	require.ErrorIs(t, err, ErrDuplicateRule)
}

func TestLoad_DuplicateAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	content := `
rules:
  - name: same
    flag: x
    finding_tag: y
    condition: z
`
	a := writeFile(t, dir, "a.yaml", content)
	b := writeFile(t, dir, "b.yaml", content)

	_, err := Load(context.Background(), Options{Files: []string{a, b}, Logger: zerolog.Nop()})
	require.ErrorIs(t, err, ErrDuplicateRule)
	assert.Contains(t, err.Error(), "b.yaml")
}

func TestLoadFile_DuplicateWithinFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "rules.yaml", `
rules:
  - {name: a, flag: x, finding_tag: y, condition: z}
  - {name: a, flag: x, finding_tag: y, condition: z}
`)
	_, err := LoadFile(context.Background(), path, zerolog.Nop())
	require.ErrorIs(t, err, ErrDuplicateRule)
}

func TestLoadFile_Invalid(t *testing.T) {
	tests := map[string]string{
		"no name":                 "rules:\n  - {flag: x, finding_tag: y, condition: z}\n",
		"no flag":                 "rules:\n  - {name: a, finding_tag: y, condition: z}\n",
		"no tag":                  "rules:\n  - {name: a, flag: x, condition: z}\n",
		"rego with flag":          "rules:\n  - {name: a, finding_tag: y, flag: x, rego: r.rego}\n",
		"rego no tag":             "rules:\n  - {name: a, rego: r.rego}\n",
		"rego with cloud_type":    "rules:\n  - {name: a, finding_tag: y, rego: r.rego, cloud_type: gcp}\n",
		"rego with record_type":   "rules:\n  - {name: a, finding_tag: y, rego: r.rego, record_type: sql}\n",
		"rego with resource_type": "rules:\n  - {name: a, finding_tag: y, rego: r.rego, resource_type: bucket}\n",
	}

	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, dir, "r.rego", regoSource)
			path := writeFile(t, dir, "rules.yaml", content)
			_, err := LoadFile(context.Background(), path, zerolog.Nop())
			require.ErrorIs(t, err, ErrInvalidRule)
		})
	}
}

func TestLoadFile_RegoWithGuard(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "ssl.rego", regoSource)
	path := writeFile(t, dir, "rules.yaml", `
rules:
  - name: gcp_bucket_ssl
    finding_tag: bucket_ssl_event
    rego: ssl.rego
    cloud_type: gcp
    resource_type: bucket
`)

	reg, err := Load(context.Background(), Options{Files: []string{path}, Logger: zerolog.Nop()})
	require.ErrorIs(t, err, ErrInvalidRule)
	assert.Nil(t, reg)
	assert.Contains(t, err.Error(), "gcp_bucket_ssl")
	assert.Contains(t, err.Error(), "match in the policy instead")
}

func TestLoad_LogsComponent(t *testing.T) {
	var buf bytes.Buffer
	_, err := Load(context.Background(), Options{Builtin: true, Logger: zerolog.New(&buf)})
	require.NoError(t, err)

	assert.Contains(t, buf.String(), `"component":"ruleset"`)
	assert.Contains(t, buf.String(), "rules loaded")
}

func TestLoadFile_UnknownField(t *testing.T) {
	path := writeFile(t, t.TempDir(), "rules.yaml", "rules:\n  - {name: a, flagg: x}\n")
	_, err := LoadFile(context.Background(), path, zerolog.Nop())
	require.Error(t, err)
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(context.Background(), "/nonexistent/rules.yaml", zerolog.Nop())
	require.Error(t, err)
}

func TestLoadFile_MissingRego(t *testing.T) {
	path := writeFile(t, t.TempDir(), "rules.yaml", "rules:\n  - {name: a, finding_tag: t, rego: missing.rego}\n")
	_, err := LoadFile(context.Background(), path, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read rego module")
}

func TestLoadFile_BadRego(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.rego", "package cloudmark\n\nviolation := {")
	path := writeFile(t, dir, "rules.yaml", "rules:\n  - {name: a, finding_tag: t, rego: bad.rego}\n")

	_, err := LoadFile(context.Background(), path, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compile rego rule a")
}

func TestParse_EmptyDocument(t *testing.T) {
	f, err := Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, f.Rules)
}

func TestParse_GuardInline(t *testing.T) {
	f, err := Parse([]byte(`
rules:
  - name: a
    flag: f
    finding_tag: t
    condition: c
    cloud_type: gcp
    record_type: sql
    resource_type: cloudsql_instance
`))
	require.NoError(t, err)
	require.Len(t, f.Rules, 1)
	assert.Equal(t, "gcp", f.Rules[0].CloudType)
	assert.Equal(t, "sql", f.Rules[0].RecordType)
	assert.Equal(t, "cloudsql_instance", f.Rules[0].ResourceType)
}
