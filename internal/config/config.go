// Package config defines the YAML pipeline model.
//
// A pipeline file names a source, a target and the run options. JSON files
// are accepted too, since JSON is a subset of YAML. Values may reference
// environment variables as $NAME or ${NAME}; they are substituted before the
// document is decoded (see Load).
//
// Example (trimmed):
//
//	name: orders
//	spill_to_disk: true
//	source:
//	  type: DATABASE
//	  dialect: postgres
//	  dsn: ${SRC_DSN}
//	  queries:
//	    extract: SELECT * FROM orders WHERE updated_at > '{max_updated_at}'
//	  chunk_size: 50000
//	target:
//	  type: DATABASE
//	  dialect: mysql
//	  host: db
//	  table: orders
//	  insertion_method: UPSERT
//	  conflict_key: id
//	  deltas:
//	    updated_at: {type: max}
package config

import (
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"mergeflow/internal/objectstore"
	"mergeflow/internal/storage"
)

// Endpoint types.
const (
	TypeDatabase = "DATABASE"
	TypeFile     = "FILE"
	TypeAPI      = "API"
	TypeEmail    = "EMAIL"
	TypeReport   = "REPORT"
)

// Insertion methods.
const (
	MethodUpsert     = "UPSERT"
	MethodBulkInsert = "BULK_INSERT"
	MethodFullCopy   = "FULL_COPY"
)

// Defaults applied by Load for keys that are absent.
const (
	DefaultSpillDir      = "spill"
	DefaultIterPageSize  = 100000
	DefaultEmailFolder   = "INBOX"
	DefaultEmailSearch   = "ALL"
	DefaultReportName    = "default"
	DefaultReportFormat  = "csv"
	DefaultAPIMethod     = "GET"
	DefaultAPITimeout    = 30 * time.Second
	DefaultTokenPrefix   = "Bearer"
	DefaultEmailIMAPPort = 993
)

// Pipeline is the top-level object decoded from a pipeline file.
type Pipeline struct {
	Name string `yaml:"name"`

	Source    Source      `yaml:"source"`
	Target    Target      `yaml:"target"`
	Transform []Transform `yaml:"transform"`

	SpillToDisk bool   `yaml:"spill_to_disk"`
	SpillDir    string `yaml:"spill_dir"`
	// ClearSpill removes the run's spill files after a successful load.
	ClearSpill bool `yaml:"clear_spill"`

	AutoCreateTable     bool         `yaml:"auto_create_table"`
	ControlColumns      bool         `yaml:"control_columns"`
	ControlColumnsNames ControlNames `yaml:"control_columns_names"`
	IgnoreMD5Fields     []string     `yaml:"ignore_md5_fields"`

	NoSource bool `yaml:"no_source"`
	NoTarget bool `yaml:"no_target"`

	// S3 holds object storage credentials shared by s3:// file paths, the
	// spill archive and report uploads.
	S3      objectstore.Config `yaml:"s3"`
	Archive Archive            `yaml:"archive"`
	Metrics Metrics            `yaml:"metrics"`
	Log     Log                `yaml:"log"`
}

// ControlNames overrides the physical names of the control columns.
type ControlNames struct {
	Fingerprint string `yaml:"fingerprint"`
	Timestamp   string `yaml:"timestamp"`
}

// Connection holds what every endpoint type shares.
type Connection struct {
	// Type selects the endpoint implementation (DATABASE, FILE, API, EMAIL,
	// REPORT). Matching is case-insensitive.
	Type string `yaml:"type"`

	// Dialect names the database family for DATABASE endpoints.
	Dialect  string            `yaml:"dialect"`
	DSN      string            `yaml:"dsn"`
	Host     string            `yaml:"host"`
	Port     int               `yaml:"port"`
	Database string            `yaml:"database"`
	User     string            `yaml:"user"`
	Password string            `yaml:"password"`
	Options  map[string]string `yaml:"options"`

	MaxOpenConns int `yaml:"max_open_conns"`

	Schema string `yaml:"schema"`
	Table  string `yaml:"table"`

	// ChunkSize bounds the rows per extracted batch; <= 0 extracts in one
	// batch (paged by DefaultIterPageSize in iterative mode).
	ChunkSize int `yaml:"chunk_size"`
}

// Kind returns the upper-cased endpoint type.
func (c Connection) Kind() string { return strings.ToUpper(strings.TrimSpace(c.Type)) }

// Storage converts the connection to driver settings.
func (c Connection) Storage() storage.Config {
	return storage.Config{
		Kind:         c.Dialect,
		DSN:          c.DSN,
		Host:         c.Host,
		Port:         c.Port,
		Database:     c.Database,
		User:         c.User,
		Password:     c.Password,
		Options:      c.Options,
		MaxOpenConns: c.MaxOpenConns,
	}
}

// Queries are the SQL templates of a DATABASE source (and the parameter
// list of an iterated API source).
type Queries struct {
	Extract       string            `yaml:"extract"`
	Iterate       string            `yaml:"iterate"`
	ExtractParams map[string]string `yaml:"extract_params"`
}

// Source describes where rows come from.
type Source struct {
	Connection `yaml:",inline"`

	Queries Queries    `yaml:"queries"`
	File    FileSource `yaml:"file"`
	API     API        `yaml:"api"`
	Email   Email      `yaml:"email"`
}

// Replacement rewrites a literal byte sequence in raw CSV input.
type Replacement struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// FileSource configures a FILE source.
type FileSource struct {
	Path  string   `yaml:"path"`
	Paths []string `yaml:"paths"`
	// PathsFile names a text file listing one path per line.
	PathsFile string `yaml:"paths_file"`

	// Format is csv, json or xlsx; empty infers it from the extension.
	Format string `yaml:"format"`

	Delimiter        string            `yaml:"delimiter"`
	Encoding         string            `yaml:"encoding"`
	HasHeader        *bool             `yaml:"has_header"`
	NormalizeHeaders bool              `yaml:"normalize_headers"`
	TrimSpace        bool              `yaml:"trim_space"`
	LazyQuotes       bool              `yaml:"lazy_quotes"`
	SkipBadRows      bool              `yaml:"skip_bad_rows"`
	HeaderMap        map[string]string `yaml:"header_map"`
	Replace          []Replacement     `yaml:"replace"`

	// RecordsPath is the dot-separated path to the record array in JSON.
	RecordsPath string `yaml:"records_path"`
	Flatten     bool   `yaml:"flatten"`

	// Sheet selects the xlsx sheet; empty reads the first one.
	Sheet string `yaml:"sheet"`
}

// AllPaths returns Path followed by Paths, without empty entries.
func (f FileSource) AllPaths() []string {
	var out []string
	if p := strings.TrimSpace(f.Path); p != "" {
		out = append(out, p)
	}
	for _, p := range f.Paths {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Header reports whether the first CSV line is a header (default true).
func (f FileSource) Header() bool { return f.HasHeader == nil || *f.HasHeader }

// API configures an API source.
type API struct {
	Method  string            `yaml:"method"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
	Payload string            `yaml:"payload"`

	RecordsPath string `yaml:"records_path"`
	Flatten     bool   `yaml:"flatten"`

	Timeout            time.Duration `yaml:"timeout"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	// RequestsPerSecond rate-limits iterated requests; 0 is unlimited.
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	Auth APIAuth `yaml:"auth"`
}

// APIAuth configures request authentication.
type APIAuth struct {
	// Type is "", "bearer" or "oauth2".
	Type string `yaml:"type"`
	// Token is the static token of the bearer type.
	Token string `yaml:"token"`
	// Bearer is the Authorization scheme placed before the token.
	Bearer         string `yaml:"bearer"`
	AccessTokenURL string `yaml:"access_token_url"`
	ClientID       string `yaml:"client_id"`
	ClientSecret   string `yaml:"client_secret"`
	// HeadersExtra are sent on every request and added to the token request
	// form.
	HeadersExtra map[string]string `yaml:"auth_headers_extra"`
}

// Email configures an EMAIL source.
type Email struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Folder   string `yaml:"folder"`
	// SearchMail is an IMAP search criterion such as ALL, UNSEEN or
	// FROM "x@y".
	SearchMail           string `yaml:"search_mail"`
	SearchSubjectPattern string `yaml:"search_subject_pattern"`
	SavePath             string `yaml:"save_path"`
	InsecureSkipVerify   bool   `yaml:"insecure_skip_verify"`
}

// ColumnOverride replaces the inferred type of one target column.
type ColumnOverride struct {
	Type      string `yaml:"type"`
	Size      int    `yaml:"size"`
	Precision int    `yaml:"precision"`
	Scale     int    `yaml:"scale"`
	Nullable  *bool  `yaml:"nullable"`
}

// Delta is an aggregate over a target column exposed to the extract query.
type Delta struct {
	Type string `yaml:"type"`
}

// Target describes where rows go.
type Target struct {
	Connection `yaml:",inline"`

	InsertionMethod string     `yaml:"insertion_method"`
	ConflictKey     StringList `yaml:"conflict_key"`
	ConflictAction  string     `yaml:"conflict_action"`
	StagingSchema   string     `yaml:"staging_schema"`
	StagingTable    string     `yaml:"staging_table"`

	TargetTableDefinition map[string]ColumnOverride `yaml:"target_table_definition"`
	Deltas                map[string]Delta          `yaml:"deltas"`

	File   FileTarget `yaml:"file"`
	Report Report     `yaml:"report"`
}

// Method returns the upper-cased insertion method, UPSERT when empty.
func (t Target) Method() string {
	m := strings.ToUpper(strings.TrimSpace(t.InsertionMethod))
	if m == "" {
		return MethodUpsert
	}
	return m
}

// Staged reports whether a staging table is configured.
func (t Target) Staged() bool { return strings.TrimSpace(t.StagingTable) != "" }

// FileTarget configures a FILE target.
type FileTarget struct {
	Path      string `yaml:"path"`
	Delimiter string `yaml:"delimiter"`
	Header    *bool  `yaml:"header"`
}

// Report configures a REPORT target.
type Report struct {
	Path     string `yaml:"path"`
	Filename string `yaml:"filename"`
	// Format is csv, txt or xlsx.
	Format       string   `yaml:"format"`
	Header       *bool    `yaml:"header"`
	Delimiter    string   `yaml:"delimiter"`
	ColumnsNames []string `yaml:"columns_names"`
	Sheet        string   `yaml:"sheet"`
	// Upload is an s3://bucket/prefix the finished report is copied to.
	Upload string `yaml:"upload"`
}

// Archive copies finished spill files to object storage.
type Archive struct {
	// S3Prefix is s3://bucket[/prefix]; empty disables archiving.
	S3Prefix string `yaml:"s3_prefix"`
}

// Metrics selects the metrics backend.
type Metrics struct {
	// Backend is none, pushgateway or datadog.
	Backend        string   `yaml:"backend"`
	PushgatewayURL string   `yaml:"pushgateway_url"`
	Job            string   `yaml:"job"`
	DatadogAddr    string   `yaml:"datadog_addr"`
	Namespace      string   `yaml:"namespace"`
	Tags           []string `yaml:"tags"`
	// Out is a file the final metrics map is written to as JSON.
	Out string `yaml:"out"`
}

// Log configures the run logger.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Transform defines one transformation step. Steps run in order.
type Transform struct {
	// Kind selects the transform (normalize, require, coerce, dedupe).
	Kind string `yaml:"kind"`
	// Options is interpreted by the selected transform.
	Options Options `yaml:"options"`
}

// StringList decodes either a scalar or a sequence of strings.
type StringList []string

func (s *StringList) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		var v string
		if err := n.Decode(&v); err != nil {
			return err
		}
		*s = nil
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				*s = append(*s, p)
			}
		}
		return nil
	default:
		var v []string
		if err := n.Decode(&v); err != nil {
			return err
		}
		*s = v
		return nil
	}
}
