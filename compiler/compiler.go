package compiler

import (
	"context"
	"os"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/NETMF/llilum-sub034/compiler/asm/arm"
	"github.com/NETMF/llilum-sub034/compiler/back"
	"github.com/NETMF/llilum-sub034/compiler/front"
	"github.com/NETMF/llilum-sub034/compiler/image"
)

type (
	// Result is a linked program together with the state it was produced from.
	Result struct {
		Unit  *front.Unit
		Core  *image.Core
		Image *image.Image
	}
)

func LinkFile(ctx context.Context, name string, l image.Layout) (*Result, error) {
	text, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}

	tlog.SpanFromContext(ctx).Printw("read file", "size", len(text), "name", name)

	res, err := Link(ctx, text, l)
	if err != nil {
		return nil, errors.Wrap(err, "%v", name)
	}

	return res, nil
}

// Link loads a program description and links it into an ARM flash image.
func Link(ctx context.Context, text []byte, l image.Layout) (res *Result, err error) {
	p, err := front.Parse(text)
	if err != nil {
		return nil, err
	}

	u, err := front.Load(ctx, p)
	if err != nil {
		return nil, errors.Wrap(err, "load")
	}

	c := back.New()

	for _, t := range u.Tables {
		c.Data = append(c.Data, t)
	}

	core, err := c.CompileCore(ctx, arm.New(), u.Graphs, l)
	if err != nil {
		return nil, errors.Wrap(err, "link")
	}

	return &Result{
		Unit:  u,
		Core:  core,
		Image: core.Image(),
	}, nil
}
