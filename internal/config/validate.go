package config

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"

	"mergeflow/internal/apperr"
	"mergeflow/internal/ddl"
	"mergeflow/internal/objectstore"
	"mergeflow/internal/storage"
	"mergeflow/internal/template"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError blocks execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is surfaced to users but does not block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding. Path is a dotted path into
// the config (e.g. "target.conflict_key", "transform[1].options.fields").
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// Known values of enumerated keys.
var (
	sourceTypes     = set(TypeDatabase, TypeFile, TypeAPI, TypeEmail)
	targetTypes     = set(TypeDatabase, TypeFile, TypeReport)
	methods         = set(MethodUpsert, MethodBulkInsert, MethodFullCopy)
	conflictActions = set("", "update", "ignore", "nothing")
	deltaTypes      = set("max", "min", "count", "sum", "avg", "distinct")
	fileFormats     = set("", "csv", "json", "ndjson", "xlsx")
	reportFormats   = set("csv", "txt", "xlsx")
	authTypes       = set("", "bearer", "headers", "oauth2")
	metricBackends  = set("", "none", "pushgateway", "datadog")
	transformKinds  = set("normalize", "require", "coerce", "dedupe", "dedup")
	logLevels       = set("", "debug", "info", "warn", "warning", "error")
)

func set(vals ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		m[v] = struct{}{}
	}
	return m
}

func in(m map[string]struct{}, v string) bool {
	_, ok := m[v]
	return ok
}

type issues []Issue

func (is *issues) errorf(path, format string, args ...any) {
	*is = append(*is, Issue{Severity: SeverityError, Path: path, Message: fmt.Sprintf(format, args...)})
}

func (is *issues) warnf(path, format string, args ...any) {
	*is = append(*is, Issue{Severity: SeverityWarning, Path: path, Message: fmt.Sprintf(format, args...)})
}

// ValidatePipeline performs static validation of a Pipeline. It does not
// mutate the pipeline and performs no I/O.
func ValidatePipeline(p Pipeline) []Issue {
	var is issues

	if strings.TrimSpace(p.Name) == "" {
		is.errorf("name", "name must not be empty; it names spill files and metrics")
	} else if strings.ContainsAny(p.Name, `/\`) {
		is.errorf("name", "name %q must not contain path separators", p.Name)
	}
	if p.NoSource && p.NoTarget {
		is.warnf("no_source", "both no_source and no_target are set; the run does nothing")
	}
	if !p.NoSource {
		validateSource(&is, p)
	}
	if !p.NoTarget {
		validateTarget(&is, p)
	}
	validateTransforms(&is, p.Transform)
	validateRun(&is, p)
	return is
}

// Errors joins the error-severity issues into a config error, or returns nil.
func Errors(list []Issue) error {
	var errs []error
	for _, i := range list {
		if i.Severity == SeverityError {
			errs = append(errs, i)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return apperr.Config("config.validate", "%w", errors.Join(errs...))
}

// LogWarnings logs the warning-severity issues.
func LogWarnings(log *slog.Logger, list []Issue) {
	for _, i := range list {
		if i.Severity == SeverityWarning {
			log.Warn("config: "+i.Message, "path", i.Path)
		}
	}
}

func validateSource(is *issues, p Pipeline) {
	s := p.Source
	kind := s.Kind()
	switch {
	case kind == "":
		is.errorf("source.type", "source.type must not be empty (or set no_source)")
		return
	case !in(sourceTypes, kind):
		is.errorf("source.type", "unknown source type %q", s.Type)
		return
	}

	switch kind {
	case TypeDatabase:
		validateConnection(is, "source", s.Connection)
		if strings.TrimSpace(s.Queries.Extract) == "" {
			is.errorf("source.queries.extract", "database source requires an extract query")
			break
		}
		if s.Queries.Iterate == "" {
			validateParams(is, "source.queries.extract", s.Queries.Extract, s.Queries.ExtractParams, p.Target.Deltas)
		}
		if s.ChunkSize < 0 {
			is.warnf("source.chunk_size", "negative chunk_size is treated as unchunked")
		}
	case TypeFile:
		f := s.File
		if len(f.AllPaths()) == 0 && f.PathsFile == "" {
			is.errorf("source.file.path", "file source requires path, paths or paths_file")
		}
		if !in(fileFormats, strings.ToLower(f.Format)) {
			is.errorf("source.file.format", "unknown file format %q (csv, json, ndjson, xlsx)", f.Format)
		}
		if len([]rune(f.Delimiter)) > 1 {
			is.errorf("source.file.delimiter", "delimiter must be a single character, got %q", f.Delimiter)
		}
		for _, path := range f.AllPaths() {
			if objectstore.IsURI(path) {
				if _, _, err := objectstore.ParseURI(path); err != nil {
					is.errorf("source.file.path", "%v", err)
				}
			}
		}
	case TypeAPI:
		a := s.API
		if strings.TrimSpace(a.URL) == "" {
			is.errorf("source.api.url", "api source requires a url")
		}
		if a.RequestsPerSecond < 0 {
			is.errorf("source.api.requests_per_second", "requests_per_second must not be negative")
		}
		switch at := strings.ToLower(a.Auth.Type); {
		case !in(authTypes, at):
			is.errorf("source.api.auth.type", "unknown auth type %q (bearer, headers, oauth2)", a.Auth.Type)
		case at == "bearer" && a.Auth.Token == "":
			is.errorf("source.api.auth.token", "bearer auth requires a token")
		case at == "oauth2" && (a.Auth.AccessTokenURL == "" || a.Auth.ClientID == ""):
			is.errorf("source.api.auth", "oauth2 auth requires access_token_url and client_id")
		}
		if s.Queries.Iterate != "" && p.Source.Dialect == "" {
			is.errorf("source.queries.iterate", "iterated api source needs a dialect and connection for the iterate query")
		}
	case TypeEmail:
		e := s.Email
		if e.Host == "" {
			is.errorf("source.email.host", "email source requires a host")
		}
		if e.Username == "" {
			is.errorf("source.email.username", "email source requires a username")
		}
		if e.SearchSubjectPattern != "" {
			if _, err := regexp.Compile(e.SearchSubjectPattern); err != nil {
				is.errorf("source.email.search_subject_pattern", "invalid pattern: %v", err)
			}
		}
	}
}

// validateParams checks that every {name} in an extract template resolves
// from the static params or a configured delta.
func validateParams(is *issues, path, tmpl string, params map[string]string, deltas map[string]Delta) {
	names, err := template.Names(tmpl)
	if err != nil {
		is.errorf(path, "%v", err)
		return
	}
	known := make(map[string]struct{}, len(params)+len(deltas))
	for k := range params {
		known[k] = struct{}{}
	}
	for col, d := range deltas {
		known[DeltaParam(d.Type, col)] = struct{}{}
	}
	for _, n := range names {
		if _, ok := known[n]; !ok {
			is.errorf(path, "parameter {%s} is not defined in extract_params or deltas", n)
		}
	}
}

// DeltaParam names the template parameter holding a delta result.
func DeltaParam(typ, column string) string {
	return strings.ToLower(typ) + "_" + column
}

func validateConnection(is *issues, path string, c Connection) {
	if strings.TrimSpace(c.Dialect) == "" {
		is.errorf(path+".dialect", "dialect must not be empty")
	} else if _, ok := storage.ParseKind(c.Dialect); !ok {
		is.warnf(path+".dialect", "dialect %q is not built in; a driver must be registered under that name", c.Dialect)
	}
	if strings.TrimSpace(c.DSN) == "" && strings.TrimSpace(c.Host) == "" && strings.TrimSpace(c.Database) == "" {
		is.errorf(path+".dsn", "either dsn or host/database must be set")
	}
}

func validateTarget(is *issues, p Pipeline) {
	t := p.Target
	kind := t.Kind()
	switch {
	case kind == "":
		is.errorf("target.type", "target.type must not be empty (or set no_target)")
		return
	case kind == TypeAPI:
		is.errorf("target.type", "API targets are not supported")
		return
	case !in(targetTypes, kind):
		is.errorf("target.type", "unknown target type %q", t.Type)
		return
	}

	switch kind {
	case TypeDatabase:
		validateConnection(is, "target", t.Connection)
		if strings.TrimSpace(t.Table) == "" {
			is.errorf("target.table", "database target requires a table")
		}
		method := t.Method()
		if !in(methods, method) {
			is.errorf("target.insertion_method", "unknown insertion method %q (UPSERT, BULK_INSERT, FULL_COPY)", t.InsertionMethod)
		}
		if method == MethodUpsert && len(t.ConflictKey) == 0 {
			is.warnf("target.conflict_key", "no conflict_key; the target primary key is used")
		}
		if !in(conflictActions, strings.ToLower(t.ConflictAction)) {
			is.warnf("target.conflict_action", "unknown conflict_action %q; falling back to update", t.ConflictAction)
		}
		if t.Staged() && method != MethodUpsert {
			is.warnf("target.staging_table", "staging is only used by UPSERT; ignored for %s", method)
		}
		if t.StagingSchema != "" && !t.Staged() {
			is.errorf("target.staging_table", "staging_schema is set but staging_table is empty")
		}
		if t.Staged() && t.StagingTable == t.Table && t.StagingSchema == t.Schema {
			is.errorf("target.staging_table", "staging table must differ from the target table")
		}
		if t.Staged() && !p.ControlColumns {
			is.errorf("target.staging_table", "staged sync compares fingerprints and requires control_columns")
		}
		for col, d := range t.Deltas {
			if !in(deltaTypes, strings.ToLower(d.Type)) {
				is.errorf("target.deltas."+col, "unknown delta type %q (max, min, count, sum, avg, distinct)", d.Type)
			}
		}
		for col, o := range t.TargetTableDefinition {
			if o.Type == "" {
				continue
			}
			if _, err := ddl.ParseType(o.Type); err != nil {
				is.errorf("target.target_table_definition."+col, "%v", err)
			}
		}
		if t.ChunkSize != 0 {
			is.warnf("target.chunk_size", "chunk_size is ignored on targets")
		}
	case TypeFile:
		if strings.TrimSpace(t.File.Path) == "" {
			is.errorf("target.file.path", "file target requires a path")
		}
		if len([]rune(t.File.Delimiter)) > 1 {
			is.errorf("target.file.delimiter", "delimiter must be a single character, got %q", t.File.Delimiter)
		}
	case TypeReport:
		r := t.Report
		if !in(reportFormats, r.Format) {
			is.errorf("target.report.format", "unknown report format %q (csv, txt, xlsx)", r.Format)
		}
		if filepath.IsAbs(r.Filename) {
			is.warnf("target.report.filename", "absolute filename ignores report.path")
		}
		if r.Upload != "" {
			if _, _, err := objectstore.ParseURI(r.Upload); err != nil {
				is.errorf("target.report.upload", "%v", err)
			}
		}
	}
	if len(t.Deltas) > 0 && kind != TypeDatabase {
		is.warnf("target.deltas", "deltas need a database target; ignored")
	}
}

func validateTransforms(is *issues, ts []Transform) {
	for i, t := range ts {
		path := fmt.Sprintf("transform[%d]", i)
		kind := strings.ToLower(strings.TrimSpace(t.Kind))
		if kind == "" {
			is.errorf(path+".kind", "transform kind must not be empty")
			continue
		}
		if !in(transformKinds, kind) {
			is.errorf(path+".kind", "unknown transform kind %q", t.Kind)
			continue
		}
		switch kind {
		case "require":
			if len(t.Options.StringSlice("fields")) == 0 {
				is.errorf(path+".options.fields", "require transform needs at least one field")
			}
		case "dedupe", "dedup":
			if len(t.Options.StringSlice("keys")) == 0 {
				is.errorf(path+".options.keys", "dedupe transform needs at least one key")
			}
			switch pol := t.Options.String("policy", ""); pol {
			case "", "keep-first", "keep-last", "most-complete":
			default:
				is.errorf(path+".options.policy", "unknown dedupe policy %q", pol)
			}
		case "coerce":
			if len(t.Options.StringMap("types")) == 0 {
				is.warnf(path+".options.types", "coerce transform has no types; it does nothing")
			}
		}
	}
}

func validateRun(is *issues, p Pipeline) {
	if p.Archive.S3Prefix != "" {
		if _, _, err := objectstore.ParseURI(p.Archive.S3Prefix); err != nil {
			is.errorf("archive.s3_prefix", "%v", err)
		}
		if !p.SpillToDisk {
			is.warnf("archive.s3_prefix", "archive copies spill files; it does nothing without spill_to_disk")
		}
	}
	if p.ClearSpill && !p.SpillToDisk {
		is.warnf("clear_spill", "clear_spill has no effect without spill_to_disk")
	}
	if !p.ControlColumns && len(p.IgnoreMD5Fields) > 0 {
		is.warnf("ignore_md5_fields", "ignore_md5_fields has no effect without control_columns")
	}

	m := p.Metrics
	switch b := strings.ToLower(m.Backend); {
	case !in(metricBackends, b):
		is.errorf("metrics.backend", "unknown metrics backend %q (none, pushgateway, datadog)", m.Backend)
	case b == "pushgateway" && m.PushgatewayURL == "":
		is.errorf("metrics.pushgateway_url", "pushgateway backend requires pushgateway_url")
	case b == "datadog" && m.DatadogAddr == "":
		is.errorf("metrics.datadog_addr", "datadog backend requires datadog_addr")
	}
	if !in(logLevels, strings.ToLower(p.Log.Level)) {
		is.errorf("log.level", "unknown log level %q", p.Log.Level)
	}
	switch strings.ToLower(p.Log.Format) {
	case "", "text", "json":
	default:
		is.errorf("log.format", "unknown log format %q (text, json)", p.Log.Format)
	}
}
