package rpc

// Procedure names a backend operation and pins its input and output types.
// Both sides of the bridge share the same Procedure values, so a mismatch is a
// compile error rather than a decode failure.
type Procedure[In, Out any] struct {
	Key string
}

func Define[In, Out any](key string) Procedure[In, Out] {
	return Procedure[In, Out]{Key: key}
}

// NoInput is the input type of procedures that take no arguments.
type NoInput struct{}
