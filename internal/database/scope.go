package database

import "context"

// ScopeStack is a LIFO stack of databases owned by a single goroutine.
// It must not be shared between goroutines; concurrent searches each own
// their stack, so none observes another's active database.
type ScopeStack struct {
	stack []Database
}

// NewScopeStack returns an empty stack.
func NewScopeStack() *ScopeStack {
	return &ScopeStack{}
}

// Enter makes db the current database until the matching Exit.
func (s *ScopeStack) Enter(db Database) {
	s.stack = append(s.stack, db)
}

// Exit restores the database that was current before the last Enter.
func (s *ScopeStack) Exit() error {
	if len(s.stack) == 0 {
		return ErrEmptyScope
	}
	s.stack[len(s.stack)-1] = nil
	s.stack = s.stack[:len(s.stack)-1]
	return nil
}

// Current returns the most recently entered database still in scope.
func (s *ScopeStack) Current() (Database, bool) {
	if len(s.stack) == 0 {
		return nil, false
	}
	return s.stack[len(s.stack)-1], true
}

// Depth returns the number of open scopes.
func (s *ScopeStack) Depth() int {
	return len(s.stack)
}

type scopeKey struct{}

// scopeNode links a scope to its enclosing one. Contexts are immutable,
// so the chain is shared safely between goroutines.
type scopeNode struct {
	db     Database
	parent *scopeNode
}

func scopeFrom(ctx context.Context) *scopeNode {
	node, _ := ctx.Value(scopeKey{}).(*scopeNode)
	return node
}

// EnterWithScope returns a context in which db is the current database.
func EnterWithScope(ctx context.Context, db Database) context.Context {
	return context.WithValue(ctx, scopeKey{}, &scopeNode{db: db, parent: scopeFrom(ctx)})
}

// ExitWithScope returns a context in which the enclosing scope's database
// is current again. Simply dropping the derived context has the same effect.
func ExitWithScope(ctx context.Context) (context.Context, error) {
	node := scopeFrom(ctx)
	if node == nil {
		return ctx, ErrEmptyScope
	}
	return context.WithValue(ctx, scopeKey{}, node.parent), nil
}

// Current returns the database in effect for ctx.
func Current(ctx context.Context) (Database, bool) {
	node := scopeFrom(ctx)
	if node == nil {
		return nil, false
	}
	return node.db, true
}
