package main

import (
	"context"
	"fmt"
	"os"

	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/NETMF/llilum-sub034/compiler"
	"github.com/NETMF/llilum-sub034/compiler/image"
)

func main() {
	linkCmd := &cli.Command{
		Name:        "link",
		Description: "link program descriptions into flash images",
		Action:      linkAct,
		Args:        cli.Args{},
		Flags: []*cli.Flag{
			cli.NewFlag("layout", "", "memory layout yaml file"),
			cli.NewFlag("out", "", "output file, <program>.bin by default"),
		},
	}

	dumpCmd := &cli.Command{
		Name:        "dump",
		Description: "link and print regions, relocations and variable liveness",
		Action:      dumpAct,
		Args:        cli.Args{},
		Flags: []*cli.Flag{
			cli.NewFlag("layout", "", "memory layout yaml file"),
		},
	}

	app := &cli.Command{
		Name:        "llilum",
		Description: "llilum links register allocated programs into ARM flash images",
		Commands: []*cli.Command{
			linkCmd,
			dumpCmd,
		},
	}

	cli.RunAndExit(app, os.Args, os.Environ())
}

func layout(c *cli.Command) (image.Layout, error) {
	name := c.String("layout")
	if name == "" {
		return image.DefaultLayout(), nil
	}

	return image.LoadLayout(name)
}

func linkAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	l, err := layout(c)
	if err != nil {
		return err
	}

	if out := c.String("out"); out != "" && len(c.Args) > 1 {
		return errors.New("--out with %d programs", len(c.Args))
	}

	for _, a := range c.Args {
		res, err := compiler.LinkFile(ctx, a, l)
		if err != nil {
			return errors.Wrap(err, "link %v", a)
		}

		out := c.String("out")
		if out == "" {
			out = a + ".bin"
		}

		err = os.WriteFile(out, res.Image.Flash, 0o644)
		if err != nil {
			return errors.Wrap(err, "write image")
		}

		tlog.Printw("image written", "file", out, "size", len(res.Image.Flash), "base", res.Image.Base, "passes", res.Core.Pass())

		for _, s := range res.Image.Symbols {
			fmt.Printf("%08x %6d %-8v %s\n", s.Address, s.Size, s.Kind, s.Name)
		}
	}

	return nil
}

func dumpAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	l, err := layout(c)
	if err != nil {
		return err
	}

	for _, a := range c.Args {
		res, err := compiler.LinkFile(ctx, a, l)
		if err != nil {
			return errors.Wrap(err, "link %v", a)
		}

		var b []byte

		b = res.Core.Dump(b)
		b = append(b, '\n')
		b = res.Image.Liveness.Dump(b)

		fmt.Printf("%s", b)
	}

	return nil
}
