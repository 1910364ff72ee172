package models

import (
	"fmt"

	"github.com/pkg/errors"
)

type ErrorKind string

const (
	ValidationFailure ErrorKind = "validation"
	SelectionFailure  ErrorKind = "selection"
	ExecutionFailure  ErrorKind = "execution"
	PartialFailure    ErrorKind = "partial"
)

// Error — ошибка ядра с категорией.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s failure: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s failure: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func Errorf(kind ErrorKind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func WrapKind(kind ErrorKind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf достаёт категорию из цепочки; пустая строка, если её нет.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
