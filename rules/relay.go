//go:build ruleguard

// Package gorules holds project lint rules for golangci-lint's gocritic ruleguard checker.
package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// ExecWithoutContext flags processes that would outlive their capture session.
//
//	exec.Command("bluealsa-cli", "open", path)
//
// should be
//
//	exec.CommandContext(ctx, "bluealsa-cli", "open", path)
func ExecWithoutContext(m dsl.Matcher) {
	m.Match(`exec.Command($*args)`).
		Where(!m.File().Name.Matches(`_test\.go$`)).
		Report("use exec.CommandContext so the process is stopped with its session")
}

// BlockingSleep flags sleeps that ignore cancellation. Restart delays and
// refill retries must return promptly on shutdown.
func BlockingSleep(m dsl.Matcher) {
	m.Match(`time.Sleep($d)`).
		Where(!m.File().Name.Matches(`_test\.go$`)).
		Report("time.Sleep ignores ctx; select on ctx.Done() and a timer instead")
}

// TestingContext suggests t.Context() over context.Background() in tests (Go 1.24+).
func TestingContext(m dsl.Matcher) {
	m.Match(`context.Background()`, `context.TODO()`).
		Where(m.File().Name.Matches(`_test\.go$`)).
		Report("use t.Context() in tests, it is cancelled when the test ends")
}

// WaitGroupGo suggests wg.Go over manual Add/Done (Go 1.25+).
func WaitGroupGo(m dsl.Matcher) {
	m.Match(`$wg.Add(1); go func() { defer $wg.Done(); $*body }()`).
		Where(m["wg"].Type.Is("*sync.WaitGroup") || m["wg"].Type.Is("sync.WaitGroup")).
		Report("use $wg.Go(func() { $body }) instead of manual Add/Done").
		Suggest("$wg.Go(func() { $body })")
}

// EnhancedErrors keeps the pipeline packages on the errors builder so
// failures carry a component and category for telemetry.
func EnhancedErrors(m dsl.Matcher) {
	m.Match(`fmt.Errorf($*args)`).
		Where(m.File().PkgPath.Matches(`internal/(audiobuffer|stream|capture|bluetooth|httpserver|mqtt|notification)$`) &&
			!m.File().Name.Matches(`_test\.go$`)).
		Report("use errors.Newf(...).Component(...).Category(...).Build() from internal/errors")
}
