package template

import (
	"context"
	"errors"
	"fmt"
	htmltmpl "html/template"
	"strings"
	"sync"
	texttmpl "text/template"

	domain "github.com/farmflow/notify/internal/domain/template"
)

var ErrTemplateNotFound = errors.New("template not found")

type parsed struct {
	subject *texttmpl.Template
	html    *htmltmpl.Template
	text    *texttmpl.Template
}

// Store renders named templates loaded from the template repo, keeping a
// parse cache keyed by template key. An inactive or missing key is a
// hard render failure, never a partial result.
type Store struct {
	repo domain.Repo

	mu    sync.RWMutex
	cache map[string]parsed
}

var _ domain.Renderer = (*Store)(nil)

func NewStore(repo domain.Repo) *Store {
	return &Store{repo: repo, cache: make(map[string]parsed)}
}

func (s *Store) Render(ctx context.Context, key string, vars map[string]any) (*domain.Rendered, error) {
	p, err := s.lookup(ctx, key)
	if err != nil {
		return nil, err
	}

	out := &domain.Rendered{}
	var sb strings.Builder
	if err := p.subject.Execute(&sb, vars); err != nil {
		return nil, fmt.Errorf("render subject %q: %w", key, err)
	}
	out.Subject = strings.TrimSpace(sb.String())

	if p.html != nil {
		var hb strings.Builder
		if err := p.html.Execute(&hb, vars); err != nil {
			return nil, fmt.Errorf("render html %q: %w", key, err)
		}
		out.HTMLBody = hb.String()
	}
	if p.text != nil {
		var tb strings.Builder
		if err := p.text.Execute(&tb, vars); err != nil {
			return nil, fmt.Errorf("render text %q: %w", key, err)
		}
		out.TextBody = tb.String()
	}
	return out, nil
}

func (s *Store) lookup(ctx context.Context, key string) (parsed, error) {
	s.mu.RLock()
	p, ok := s.cache[key]
	s.mu.RUnlock()
	if ok {
		return p, nil
	}

	t, err := s.repo.GetByKey(ctx, key)
	if err != nil {
		return parsed{}, fmt.Errorf("load template %q: %w", key, err)
	}
	if t == nil || !t.Active {
		return parsed{}, fmt.Errorf("%w: %q", ErrTemplateNotFound, key)
	}

	p, err = compile(t)
	if err != nil {
		return parsed{}, err
	}
	s.mu.Lock()
	s.cache[key] = p
	s.mu.Unlock()
	return p, nil
}

func compile(t *domain.Template) (parsed, error) {
	var p parsed
	var err error
	if p.subject, err = texttmpl.New(t.Key + ".subject").Parse(t.Subject); err != nil {
		return parsed{}, fmt.Errorf("parse subject %q: %w", t.Key, err)
	}
	if t.HTMLBody != "" {
		if p.html, err = htmltmpl.New(t.Key + ".html").Parse(t.HTMLBody); err != nil {
			return parsed{}, fmt.Errorf("parse html %q: %w", t.Key, err)
		}
	}
	if t.TextBody != "" {
		if p.text, err = texttmpl.New(t.Key + ".text").Parse(t.TextBody); err != nil {
			return parsed{}, fmt.Errorf("parse text %q: %w", t.Key, err)
		}
	}
	return p, nil
}

// Invalidate drops a cached template so the next render reloads it.
func (s *Store) Invalidate(key string) {
	s.mu.Lock()
	delete(s.cache, key)
	s.mu.Unlock()
}
