// Package ui renders loxctl output in the terminal.
//
// The components follow a "render once and print" pattern. Nothing here reads
// from the keyboard; commands build a value, call Render and print the string.
//
// # Components
//
//   - Header: command banner with the target Miniserver and parameters
//   - Progress: connection step list with a progress bar
//   - Result: success, failure or warning box
//   - ControlTable: controls grouped by room with their formatted values
//   - MiniserverTable: discovery results
//
// # Usage Pattern
//
//	fmt.Println(ui.RenderCommandHeader(ui.HeaderConfig{
//		Title:   "Controls",
//		Command: "loxctl controls",
//		Params:  []ui.Field{{Key: "Miniserver", Value: host}},
//	}))
//
//	p := ui.NewProgress("Connecting...", ui.ConnectSteps)
//	p.StartStep(1, "")
//	...
//	fmt.Println(p.Render())
//
// Widths come from the attached terminal via golang.org/x/term and are clamped
// to MinTerminalWidth and MaxContentWidth.
package ui
