package entry

import "fmt"

// Whence determines how a move index is interpreted.
type Whence int

const (
	// WhenceAbsolute moves the entry to the given position.
	WhenceAbsolute Whence = iota
	// WhenceBefore moves the entry immediately before the entry at the
	// given position.
	WhenceBefore
	// WhenceAfter moves the entry immediately after the entry at the
	// given position.
	WhenceAfter
)

// WhenceValues lists the accepted wire forms, in declaration order.
func WhenceValues() []string {
	return []string{"absolute", "before", "after"}
}

// InvalidWhenceError reports an unparseable whence value.
type InvalidWhenceError struct {
	Value string
}

func (e *InvalidWhenceError) Error() string {
	return fmt.Sprintf("invalid whence %q", e.Value)
}

// ParseWhence parses the wire form, case-sensitively lowercase.
func ParseWhence(s string) (Whence, error) {
	switch s {
	case "absolute":
		return WhenceAbsolute, nil
	case "before":
		return WhenceBefore, nil
	case "after":
		return WhenceAfter, nil
	}
	return 0, &InvalidWhenceError{Value: s}
}

func (w Whence) String() string {
	switch w {
	case WhenceAbsolute:
		return "absolute"
	case WhenceBefore:
		return "before"
	case WhenceAfter:
		return "after"
	}
	panic(fmt.Sprintf("unknown whence %d", int(w)))
}
