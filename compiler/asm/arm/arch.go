package arm

import (
	"context"
	"encoding/binary"
	"fmt"

	"golang.org/x/arch/arm/armasm"

	"github.com/NETMF/llilum-sub034/compiler/image"
	"github.com/NETMF/llilum-sub034/compiler/ir"
)

type (
	// Arch is the ARM code generator.
	Arch struct{}
)

func New() *Arch { return &Arch{} }

func (a *Arch) Name() string { return "arm" }

func (a *Arch) Setup(c *image.Core) {
	c.Disassemble = Disassemble
}

func (a *Arch) EmitGraph(ctx context.Context, c *image.Core, g *ir.ControlFlowGraph) error {
	return NewCompilationState(c, g).Emit(ctx)
}

// Disassemble renders one opcode word in GNU syntax.
func Disassemble(w uint32) string {
	var src [4]byte
	binary.LittleEndian.PutUint32(src[:], w)

	inst, err := armasm.Decode(src[:], armasm.ModeARM)
	if err != nil {
		return fmt.Sprintf(".word 0x%08x", w)
	}

	return armasm.GNUSyntax(inst)
}
