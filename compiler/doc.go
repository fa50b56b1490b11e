/*

Process of linking

Program Description (yaml) ->
	front ->
Types (tp) and Method Graphs (ir) ->
	asm/arm ->
Code Regions with Annotations (image) ->
	back: assign addresses, relocate, escalate failed encodings, repeat ->
Flash Image

Register allocation and lowering happen before the description is written:
method graphs name physical registers directly.

*/
package compiler
