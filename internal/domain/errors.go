package domain

import "fmt"

// FetchError es un fallo de transporte, timeout o status no exitoso del feed.
// Aborta el run.
type FetchError struct {
	Account string
	Page    int
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch page %d for %s: %v", e.Page, e.Account, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError indica que el body de la página no era un array de registros.
type ParseError struct {
	Account string
	Page    int
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse page %d for %s: %v", e.Page, e.Account, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// StallError es un warning: el cursor no avanzó y la página no aportó nada.
type StallError struct {
	Account string
	Page    int
	Cursor  int64
}

func (e *StallError) Error() string {
	return fmt.Sprintf("pagination stalled for %s at page %d (cursor %d)", e.Account, e.Page, e.Cursor)
}

// SafetyCapError es un warning: saltó un guard antes de que terminara el feed.
type SafetyCapError struct {
	Account string
	Guard   string // "empty window" o "page cap"
	Limit   int
}

func (e *SafetyCapError) Error() string {
	return fmt.Sprintf("collection for %s stopped by %s guard (limit %d)", e.Account, e.Guard, e.Limit)
}
