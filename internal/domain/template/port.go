package template

import "context"

type Repo interface {
	GetByKey(ctx context.Context, key string) (*Template, error)
	List(ctx context.Context) ([]*Template, error)
}

type Renderer interface {
	Render(ctx context.Context, key string, vars map[string]any) (*Rendered, error)
}
