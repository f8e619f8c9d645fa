// Package email extracts mail attachments over IMAPS. Every attachment of a
// matching message becomes one row (attachment_name, attachment, timestamp)
// with base64 content.
package email

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"mergeflow/internal/apperr"
	"mergeflow/internal/batch"
	"mergeflow/internal/config"
	"mergeflow/internal/ddl"
	"mergeflow/internal/source"
)

// Column names of extracted rows.
const (
	ColName      = "attachment_name"
	ColContent   = "attachment"
	ColTimestamp = "timestamp"
)

// Columns is the fixed layout of every email batch.
var Columns = []batch.Column{
	{Name: ColName, Type: ddl.ColumnType{Name: "VARCHAR", Size: 255}},
	{Name: ColContent, Type: ddl.ColumnType{Name: "CLOB"}},
	{Name: ColTimestamp, Type: ddl.ColumnType{Name: "TIMESTAMP"}},
}

// Mailbox is the subset of *client.Client used here.
type Mailbox interface {
	Login(username, password string) error
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	Search(criteria *imap.SearchCriteria) ([]uint32, error)
	Fetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	Logout() error
}

// dial is a test seam over client.DialTLS.
var dial = func(addr string, cfg *tls.Config) (Mailbox, error) {
	c, err := client.DialTLS(addr, cfg)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func init() {
	source.Register(config.TypeEmail, func(_ context.Context, cfg config.Source, env source.Env) (source.Source, error) {
		return New(cfg, env)
	})
}

// Source reads one IMAP folder.
type Source struct {
	cfg     config.Source
	env     source.Env
	subject *regexp.Regexp
}

var _ source.Source = (*Source)(nil)

// New validates the mailbox settings. No connection is made until Extract.
func New(cfg config.Source, env source.Env) (*Source, error) {
	e := cfg.Email
	if e.Host == "" || e.Username == "" {
		return nil, apperr.Config("source.email", "email.host and email.username are required")
	}
	s := &Source{cfg: cfg, env: env}
	if e.SearchSubjectPattern != "" {
		re, err := regexp.Compile(e.SearchSubjectPattern)
		if err != nil {
			return nil, apperr.Config("source.email", "search_subject_pattern: %v", err)
		}
		s.subject = re
	}
	return s, nil
}

func (s *Source) Close() error { return nil }

// Inspect reports the fixed attachment layout.
func (s *Source) Inspect(context.Context) (ddl.TableDef, error) {
	return (&batch.Batch{Columns: slices.Clone(Columns)}).Schema(s.cfg.Schema, s.cfg.Table), nil
}

// Extract logs in, searches the folder read-only and collects the
// attachments of every message whose subject matches.
func (s *Source) Extract(ctx context.Context) (*batch.Manifest, error) {
	e := s.cfg.Email
	port := e.Port
	if port == 0 {
		port = config.DefaultEmailIMAPPort
	}
	addr := net.JoinHostPort(e.Host, strconv.Itoa(port))

	mb, err := dial(addr, &tls.Config{ServerName: e.Host, InsecureSkipVerify: e.InsecureSkipVerify})
	if err != nil {
		return nil, apperr.Connection("source.email dial "+addr, err)
	}
	defer mb.Logout()

	if err := mb.Login(e.Username, e.Password); err != nil {
		return nil, apperr.Connection("source.email login", err)
	}
	folder := e.Folder
	if folder == "" {
		folder = config.DefaultEmailFolder
	}
	if _, err := mb.Select(folder, true); err != nil {
		return nil, apperr.Connection("source.email select "+folder, err)
	}
	criteria, err := Criteria(e.SearchMail)
	if err != nil {
		return nil, err
	}
	seq, err := mb.Search(criteria)
	if err != nil {
		return nil, apperr.Connection("source.email search", err)
	}
	s.env.Logger().Info("source: mailbox searched", "folder", folder, "messages", len(seq))

	b := &batch.Batch{Columns: slices.Clone(Columns)}
	if len(seq) > 0 {
		if err := s.fetch(ctx, mb, seq, b); err != nil {
			return nil, err
		}
	}

	m := &batch.Manifest{}
	chunked := s.cfg.ChunkSize > 0
	for j, page := range b.Split(s.cfg.ChunkSize) {
		if err := s.env.Emit(m, source.Paged(0, j+1, chunked), page); err != nil {
			return nil, err
		}
	}
	s.env.Logger().Info("source: extracted", "kind", config.TypeEmail, "attachments", b.Len())
	return m, nil
}

func (s *Source) fetch(ctx context.Context, mb Mailbox, seq []uint32, b *batch.Batch) error {
	set := new(imap.SeqSet)
	set.AddNum(seq...)
	section := &imap.BodySectionName{Peek: true}

	msgs := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() { done <- mb.Fetch(set, []imap.FetchItem{section.FetchItem()}, msgs) }()

	var firstErr error
	for msg := range msgs {
		if firstErr != nil || ctx.Err() != nil {
			continue // drain
		}
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		if err := s.collect(body, b); err != nil {
			firstErr = fmt.Errorf("source.email: message %d: %w", msg.SeqNum, err)
		}
	}
	if err := <-done; err != nil {
		return apperr.Connection("source.email fetch", err)
	}
	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

// collect appends the attachments of one RFC 822 message.
func (s *Source) collect(r io.Reader, b *batch.Batch) error {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	defer mr.Close()

	subject, _ := mr.Header.Subject()
	if s.subject != nil && !s.subject.MatchString(subject) {
		return nil
	}
	var ts any
	if d, err := mr.Header.Date(); err == nil && !d.IsZero() {
		ts = d.UTC().Truncate(time.Second)
	}

	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read part: %w", err)
		}
		h, ok := p.Header.(*mail.AttachmentHeader)
		if !ok {
			continue
		}
		name, _ := h.Filename()
		if name == "" {
			continue
		}
		name = strings.ReplaceAll(filepath.Base(name), " ", "_")
		data, err := io.ReadAll(p.Body)
		if err != nil {
			return fmt.Errorf("read attachment %s: %w", name, err)
		}
		if saved, err := s.save(name, data); err != nil {
			return err
		} else if !saved {
			s.env.Logger().Debug("source: attachment already saved", "name", name)
			continue
		}
		s.env.Logger().Info("source: attachment", "name", name, "subject", subject, "bytes", len(data))
		b.Rows = append(b.Rows, []any{name, base64.StdEncoding.EncodeToString(data), ts})
	}
}

// save writes data under save_path. An attachment already present there is
// skipped so reruns do not extract it again. Without save_path every
// attachment is kept.
func (s *Source) save(name string, data []byte) (bool, error) {
	dir := s.cfg.Email.SavePath
	if dir == "" {
		return true, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("source.email: create %s: %w", dir, err)
	}
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, os.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("source.email: save %s: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return false, fmt.Errorf("source.email: save %s: %w", name, err)
	}
	return true, f.Close()
}

// Criteria parses an IMAP SEARCH expression such as `UNSEEN SINCE
// 1-Feb-2024` or `FROM "billing@example.com"`. Empty means ALL.
func Criteria(expr string) (*imap.SearchCriteria, error) {
	c := imap.NewSearchCriteria()
	fields, err := tokenize(expr)
	if err != nil {
		return nil, apperr.Config("source.email", "search_mail: %v", err)
	}
	if len(fields) == 0 {
		return c, nil
	}
	if err := c.ParseWithCharset(fields, nil); err != nil {
		return nil, apperr.Config("source.email", "search_mail %q: %v", expr, err)
	}
	return c, nil
}

// tokenize splits expr into atoms and quoted strings. Parenthesized groups
// become nested lists.
func tokenize(expr string) ([]interface{}, error) {
	var (
		stack = [][]interface{}{nil}
		cur   strings.Builder
		quote bool
	)
	flush := func() {
		if cur.Len() > 0 {
			stack[len(stack)-1] = append(stack[len(stack)-1], cur.String())
			cur.Reset()
		}
	}
	for _, r := range expr {
		switch {
		case quote && r == '"':
			stack[len(stack)-1] = append(stack[len(stack)-1], cur.String())
			cur.Reset()
			quote = false
		case quote:
			cur.WriteRune(r)
		case r == '"':
			flush()
			quote = true
		case r == '(':
			flush()
			stack = append(stack, nil)
		case r == ')':
			flush()
			if len(stack) == 1 {
				return nil, errors.New("unbalanced )")
			}
			group := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			stack[len(stack)-1] = append(stack[len(stack)-1], group)
		case r == ' ' || r == '\t':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	if quote {
		return nil, errors.New("unterminated quote")
	}
	if len(stack) != 1 {
		return nil, errors.New("unbalanced (")
	}
	flush()
	return stack[0], nil
}
