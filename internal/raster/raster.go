// Package raster defines the capability the compositor writes through.
package raster

import "context"

// Stacker writes the single-band rasters in inputs, in order, as the channels
// of one multi-band raster at out. The format follows the extension of out.
type Stacker interface {
	Stack(ctx context.Context, inputs []string, out string) error
}

// StackerFunc adapts a function to Stacker.
type StackerFunc func(ctx context.Context, inputs []string, out string) error

// Stack calls f.
func (f StackerFunc) Stack(ctx context.Context, inputs []string, out string) error {
	return f(ctx, inputs, out)
}
