// Package boardtest builds miniredis-backed boards for tests.
package boardtest

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/chalk/internal/board"
	"github.com/dyluth/chalk/internal/config"
	"github.com/dyluth/chalk/internal/logging"
	"github.com/dyluth/chalk/internal/testutil"
)

// New returns a board over a fresh miniredis server, scoped to
// testutil.TestInstance and the given session. Everything is closed when the
// test ends.
func New(t *testing.T, session string, opts ...board.Option) (*board.Board, *miniredis.Miniredis) {
	t.Helper()
	s, mr := testutil.NewStore(t)

	cfg := config.Default()
	cfg.Instance = testutil.TestInstance
	cfg.Session = session
	return board.New(s, cfg, logging.Nop(), opts...), mr
}
